package archive

import (
	"bytes"
	"context"
	"errors"

	"github.com/andresuchdata/s3tar/internal/storage"
)

// ErrWriterClosed is returned by writes after a successful Close.
var ErrWriterClosed = errors.New("object writer already closed")

// partSizeGrowth doubles the part size of an upload of unknown length after
// this many parts, so the MaxParts ceiling is never reached.
const partSizeGrowth = 1000

type writerState int

const (
	writerUnopened writerState = iota
	writerAccepting
	writerCompleted
	writerAbandoned
)

// MultipartSession is the store-side state of one multipart upload.
type MultipartSession struct {
	Bucket   string
	Key      string
	UploadID string
	Parts    []storage.CompletedPart
	Bytes    int64
}

// ObjectWriter presents one ordered append interface over a single put or a
// multipart session. Bytes are buffered locally until the multipart
// threshold is crossed; only then is a session created. An ObjectWriter is
// owned by exactly one task.
type ObjectWriter struct {
	ctx      context.Context
	store    storage.ObjectStore
	opts     Options
	loc      ObjectLocator
	declared int64
	partSize int64

	state    writerState
	buf      []byte
	accepted int64
	session  *MultipartSession
}

// NewObjectWriter prepares an upload to loc. declaredSize is the expected
// length, or -1 when unknown; a declared size above the maximum object size
// fails before any store call.
func NewObjectWriter(ctx context.Context, store storage.ObjectStore, loc ObjectLocator, declaredSize int64, opts Options) (*ObjectWriter, error) {
	opts = opts.withDefaults()
	if declaredSize > opts.MaxObjectSize {
		return nil, &ObjectTooLargeError{Bucket: loc.Bucket, Key: loc.Key, Size: declaredSize, Limit: opts.MaxObjectSize}
	}
	return &ObjectWriter{
		ctx:      ctx,
		store:    store,
		opts:     opts,
		loc:      loc,
		declared: declaredSize,
		partSize: opts.partSizeFor(declaredSize),
	}, nil
}

// Write appends p, uploading full parts once the threshold is crossed. Any
// failure abandons the session before returning.
func (w *ObjectWriter) Write(p []byte) (int, error) {
	if err := w.closedErr(); err != nil {
		return 0, err
	}
	if w.accepted+int64(len(p)) > w.opts.MaxObjectSize {
		return 0, w.fail(&ObjectTooLargeError{Bucket: w.loc.Bucket, Key: w.loc.Key, Size: w.accepted + int64(len(p)), Limit: w.opts.MaxObjectSize})
	}
	w.buf = append(w.buf, p...)
	w.accepted += int64(len(p))

	for int64(len(w.buf)) >= w.partSize && (w.session != nil || w.accepted >= w.opts.MultipartThreshold) {
		if err := w.uploadPart(w.buf[:w.partSize]); err != nil {
			return 0, w.fail(err)
		}
		w.buf = append([]byte(nil), w.buf[w.partSize:]...)
	}
	return len(p), nil
}

// Close commits the object: a single put when no session was opened,
// otherwise the final, possibly short, part followed by complete.
func (w *ObjectWriter) Close() error {
	if err := w.closedErr(); err != nil {
		return err
	}

	if w.session == nil {
		size := int64(len(w.buf))
		if err := w.store.PutObject(w.ctx, w.loc.Bucket, w.loc.Key, bytes.NewReader(w.buf), size); err != nil {
			w.state = writerAbandoned
			return &StoreError{Op: OpPutObject, Bucket: w.loc.Bucket, Key: w.loc.Key, Err: err}
		}
		w.state = writerCompleted
		w.buf = nil
		w.opts.Hook.OnEvent(Event{Kind: EventUnipartUploaded, Bucket: w.loc.Bucket, Key: w.loc.Key, Bytes: size})
		return nil
	}

	if len(w.buf) > 0 {
		if err := w.uploadPart(w.buf); err != nil {
			return w.fail(err)
		}
		w.buf = nil
	}
	s := w.session
	if err := w.store.CompleteMultipartUpload(w.ctx, s.Bucket, s.Key, s.UploadID, s.Parts); err != nil {
		return w.fail(&StoreError{Op: OpCompleteUpload, Bucket: s.Bucket, Key: s.Key, Err: err})
	}
	w.state = writerCompleted
	w.opts.Hook.OnEvent(Event{
		Kind:     EventMultipartCompleted,
		Bucket:   s.Bucket,
		Key:      s.Key,
		UploadID: s.UploadID,
		Bytes:    s.Bytes,
		Count:    len(s.Parts),
	})
	return nil
}

// Abort abandons the upload. An open session is always aborted on the
// store, even when the writer's context is already canceled. Aborting a
// completed or abandoned writer is a no-op.
func (w *ObjectWriter) Abort() error {
	switch w.state {
	case writerCompleted, writerAbandoned:
		return nil
	}
	w.state = writerAbandoned
	w.buf = nil
	if w.session == nil {
		return nil
	}

	s := w.session
	err := w.store.AbortMultipartUpload(context.WithoutCancel(w.ctx), s.Bucket, s.Key, s.UploadID)
	w.opts.Hook.OnEvent(Event{
		Kind:     EventMultipartAborted,
		Bucket:   s.Bucket,
		Key:      s.Key,
		UploadID: s.UploadID,
		Bytes:    s.Bytes,
		Err:      err,
	})
	if err != nil {
		return &StoreError{Op: OpAbortUpload, Bucket: s.Bucket, Key: s.Key, Err: err}
	}
	return nil
}

// Session returns a copy of the multipart session, or nil when the upload
// never opened one.
func (w *ObjectWriter) Session() *MultipartSession {
	if w.session == nil {
		return nil
	}
	s := *w.session
	s.Parts = append([]storage.CompletedPart(nil), w.session.Parts...)
	return &s
}

// Accepted is the number of bytes written so far.
func (w *ObjectWriter) Accepted() int64 {
	return w.accepted
}

func (w *ObjectWriter) uploadPart(data []byte) error {
	if w.session == nil {
		uploadID, err := w.store.CreateMultipartUpload(w.ctx, w.loc.Bucket, w.loc.Key)
		if err != nil {
			return &StoreError{Op: OpCreateMultipart, Bucket: w.loc.Bucket, Key: w.loc.Key, Err: err}
		}
		w.session = &MultipartSession{Bucket: w.loc.Bucket, Key: w.loc.Key, UploadID: uploadID}
		w.state = writerAccepting
		w.opts.Hook.OnEvent(Event{Kind: EventMultipartOpened, Bucket: w.loc.Bucket, Key: w.loc.Key, UploadID: uploadID})
	}

	s := w.session
	number := len(s.Parts) + 1
	part, err := w.store.UploadPart(w.ctx, s.Bucket, s.Key, s.UploadID, number, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &StoreError{Op: OpUploadPart, Bucket: s.Bucket, Key: s.Key, PartNumber: number, Err: err}
	}
	part.PartNumber = number
	part.Size = int64(len(data))
	s.Parts = append(s.Parts, part)
	s.Bytes += int64(len(data))
	w.opts.Hook.OnEvent(Event{
		Kind:       EventPartUploaded,
		Bucket:     s.Bucket,
		Key:        s.Key,
		UploadID:   s.UploadID,
		PartNumber: number,
		Bytes:      int64(len(data)),
	})

	if w.declared < 0 && len(s.Parts)%partSizeGrowth == 0 {
		w.partSize *= 2
	}
	return nil
}

func (w *ObjectWriter) closedErr() error {
	switch w.state {
	case writerCompleted:
		return ErrWriterClosed
	case writerAbandoned:
		return ErrUploadAbandoned
	}
	return nil
}

// fail abandons the upload and returns err, joined with any abort failure.
func (w *ObjectWriter) fail(err error) error {
	if abortErr := w.Abort(); abortErr != nil {
		return errors.Join(err, abortErr)
	}
	return err
}
