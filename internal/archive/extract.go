package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/s3tar/internal/storage"
)

// Extractor unpacks a tar stream into objects under a target prefix.
//
// The tar stream is decoded sequentially by one task. Each regular file or
// directory entry becomes an upload task; at most MaxConcurrency upload
// tasks run at once. Entries smaller than the multipart threshold are read
// whole and handed off; larger entries are streamed to their upload task
// through a channel holding at most ChunkQueue chunks, so memory stays
// bounded by MaxConcurrency x ChunkQueue x ChunkSize.
type Extractor struct {
	store storage.ObjectStore
	opts  Options
}

// NewExtractor creates an Extractor over store.
func NewExtractor(store storage.ObjectStore, opts Options) *Extractor {
	return &Extractor{store: store, opts: opts.withDefaults()}
}

// Extract writes every entry of src under target and returns the number of
// objects written. On failure every multipart session it opened has been
// completed or aborted by the time Extract returns.
func (x *Extractor) Extract(ctx context.Context, src io.Reader, target ObjectLocator) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(x.opts.MaxConcurrency))
	var written atomic.Int64

	goSupervised(g, "tar decoder", func() error {
		return x.decode(gctx, g, sem, &written, src, target)
	})

	err := g.Wait()
	if errors.Is(err, ErrExtractAborted) && ctx.Err() != nil {
		err = ctx.Err()
	}
	return int(written.Load()), err
}

func (x *Extractor) decode(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, written *atomic.Int64, src io.Reader, target ObjectLocator) error {
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return readError(err, "")
		}

		loc := ObjectLocator{Bucket: target.Bucket, Key: target.Key + hdr.Name}
		var size int64
		switch hdr.Typeflag {
		case tar.TypeReg:
			size = hdr.Size
		case tar.TypeDir:
			if !strings.HasSuffix(loc.Key, "/") {
				loc.Key += "/"
			}
		default:
			x.opts.Hook.OnEvent(Event{
				Kind:      EventEntrySkipped,
				Operation: OperationExtract,
				Path:      hdr.Name,
				Bucket:    loc.Bucket,
				Key:       loc.Key,
			})
			continue
		}

		// Size limits fail before any bytes of the entry are read.
		w, err := NewObjectWriter(ctx, x.store, loc, size, x.opts)
		if err != nil {
			return err
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return ErrExtractAborted
		}
		x.opts.Hook.OnEvent(Event{
			Kind:      EventEntryStarted,
			Operation: OperationExtract,
			Bucket:    loc.Bucket,
			Key:       loc.Key,
			Path:      hdr.Name,
			Bytes:     size,
		})

		if size < x.opts.MultipartThreshold {
			data := make([]byte, size)
			if _, err := io.ReadFull(tr, data); err != nil {
				sem.Release(1)
				return readError(err, hdr.Name)
			}
			goSupervised(g, "upload "+loc.String(), func() error {
				defer sem.Release(1)
				return x.uploadWhole(w, hdr.Name, data, written)
			})
			continue
		}

		es := &entryStream{chunks: make(chan []byte, x.opts.ChunkQueue)}
		goSupervised(g, "upload "+loc.String(), func() error {
			defer sem.Release(1)
			return x.uploadStream(w, hdr.Name, es, written)
		})
		if err := x.feed(ctx, tr, hdr.Name, size, es); err != nil {
			return err
		}
	}
}

// feed copies one entry from the tar stream into es in ChunkSize pieces.
func (x *Extractor) feed(ctx context.Context, tr *tar.Reader, name string, size int64, es *entryStream) error {
	defer close(es.chunks)
	for remaining := size; remaining > 0; {
		n := min(remaining, x.opts.ChunkSize)
		chunk := make([]byte, n)
		if _, err := io.ReadFull(tr, chunk); err != nil {
			es.err = readError(err, name)
			return es.err
		}
		select {
		case es.chunks <- chunk:
		case <-ctx.Done():
			es.err = ErrExtractAborted
			return es.err
		}
		remaining -= n
	}
	es.complete = true
	return nil
}

func (x *Extractor) uploadWhole(w *ObjectWriter, name string, data []byte, written *atomic.Int64) (err error) {
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	x.finished(w, name, written)
	return nil
}

// uploadStream drains es into w. When the decoder gives up on the entry the
// upload is aborted and the decoder's error is the one reported.
func (x *Extractor) uploadStream(w *ObjectWriter, name string, es *entryStream, written *atomic.Int64) error {
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()
	for chunk := range es.chunks {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	if es.err != nil || !es.complete {
		return nil
	}
	if err := w.Close(); err != nil {
		return err
	}
	committed = true
	x.finished(w, name, written)
	return nil
}

func (x *Extractor) finished(w *ObjectWriter, name string, written *atomic.Int64) {
	written.Add(1)
	x.opts.Hook.OnEvent(Event{
		Kind:      EventEntryFinished,
		Operation: OperationExtract,
		Bucket:    w.loc.Bucket,
		Key:       w.loc.Key,
		Path:      name,
		Bytes:     w.Accepted(),
	})
}

// readError keeps store read failures as they are and reports everything
// else as a broken tar stream.
func readError(err error, name string) error {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &TarError{Op: "reading", Path: name, Err: err}
}
