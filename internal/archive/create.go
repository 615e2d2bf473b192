package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/s3tar/internal/storage"
)

// Assembler streams a resolved selection into a tar archive.
//
// A dispatcher hands one entryStream per object to the encoder through
// `pending`, in selection order, and starts a fetch task for it. A fetch
// holds one of MaxConcurrency semaphore slots from before it is started until
// its task returns, so at most MaxConcurrency GetObject calls are open at any
// time. `pending` holds at most MaxConcurrency streams, which bounds the
// reorder window. Each fetch task pushes its
// object's bytes into the stream's own `chunks` channel, which holds at most
// ChunkQueue chunks. The single encoder drains streams strictly in order, so
// fetches may finish in any order while entries are emitted in selection
// order.
type Assembler struct {
	store storage.ObjectStore
	opts  Options
}

// NewAssembler creates an Assembler over store.
func NewAssembler(store storage.ObjectStore, opts Options) *Assembler {
	return &Assembler{store: store, opts: opts.withDefaults()}
}

type entryStream struct {
	obj    ResolvedObject
	chunks chan []byte
	// err and complete are written by the fetch task before it closes
	// chunks, and read by the encoder after it observes the close.
	err      error
	complete bool
}

// Assemble writes one tar entry per object to sink and commits it. On any
// failure the sink is aborted and the first error is returned.
func (a *Assembler) Assemble(ctx context.Context, selection []ResolvedObject, sink Sink) error {
	g, gctx := errgroup.WithContext(ctx)
	pending := make(chan *entryStream, a.opts.MaxConcurrency)
	sem := semaphore.NewWeighted(int64(a.opts.MaxConcurrency))

	goSupervised(g, "fetch dispatcher", func() error {
		defer close(pending)
		for _, obj := range selection {
			es := &entryStream{obj: obj, chunks: make(chan []byte, a.opts.ChunkQueue)}
			select {
			case pending <- es:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := sem.Acquire(gctx, 1); err != nil {
				return gctx.Err()
			}
			goSupervised(g, "fetch "+obj.String(), func() error {
				defer sem.Release(1)
				return a.fetch(gctx, es)
			})
		}
		return nil
	})

	goSupervised(g, "tar encoder", func() error {
		return a.encode(gctx, pending, sink)
	})

	if err := g.Wait(); err != nil {
		if abortErr := sink.Abort(); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}
	return sink.Commit()
}

// fetch streams one object into es.chunks and verifies that the store
// delivered exactly the declared number of bytes.
func (a *Assembler) fetch(ctx context.Context, es *entryStream) error {
	defer close(es.chunks)
	obj := es.obj
	if obj.IsDir() {
		es.complete = true
		return nil
	}

	body, err := a.store.GetObject(ctx, obj.Bucket, obj.Key, obj.VersionID)
	if err != nil {
		es.err = &StoreError{Op: OpGetObject, Bucket: obj.Bucket, Key: obj.Key, VersionID: obj.VersionID, Err: err}
		return es.err
	}
	defer body.Close()

	var total int64
	for {
		chunk := make([]byte, a.opts.ChunkSize)
		n, err := io.ReadFull(body, chunk)
		total += int64(n)
		if total > obj.Size {
			es.err = &SizeMismatchError{Bucket: obj.Bucket, Key: obj.Key, Declared: obj.Size, Actual: total}
			return es.err
		}
		if n > 0 {
			select {
			case es.chunks <- chunk[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			es.err = &StoreError{Op: OpReadObject, Bucket: obj.Bucket, Key: obj.Key, VersionID: obj.VersionID, Err: err}
			return es.err
		}
	}
	if total != obj.Size {
		es.err = &SizeMismatchError{Bucket: obj.Bucket, Key: obj.Key, Declared: obj.Size, Actual: total}
		return es.err
	}
	es.complete = true
	return nil
}

// encode is the only writer of the tar stream.
func (a *Assembler) encode(ctx context.Context, pending <-chan *entryStream, sink Sink) error {
	tw := tar.NewWriter(sink)
	for {
		var es *entryStream
		var ok bool
		select {
		case es, ok = <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}

		a.opts.Hook.OnEvent(Event{
			Kind:      EventEntryStarted,
			Operation: OperationCreate,
			Bucket:    es.obj.Bucket,
			Key:       es.obj.Key,
			Path:      es.obj.Path,
			Bytes:     es.obj.Size,
		})
		if err := tw.WriteHeader(tarHeader(es.obj)); err != nil {
			return &TarError{Op: "appending to", Path: es.obj.Path, Err: err}
		}
		if err := copyEntry(ctx, tw, es); err != nil {
			return err
		}
		a.opts.Hook.OnEvent(Event{
			Kind:      EventEntryFinished,
			Operation: OperationCreate,
			Bucket:    es.obj.Bucket,
			Key:       es.obj.Key,
			Path:      es.obj.Path,
			Bytes:     es.obj.Size,
		})
	}
	if err := tw.Close(); err != nil {
		return &TarError{Op: "finishing", Err: err}
	}
	return nil
}

func copyEntry(ctx context.Context, tw *tar.Writer, es *entryStream) error {
	for {
		select {
		case chunk, more := <-es.chunks:
			if !more {
				if es.err != nil {
					return es.err
				}
				if !es.complete {
					// The fetch task died abnormally; the group reports why.
					<-ctx.Done()
					return ctx.Err()
				}
				return nil
			}
			if _, err := tw.Write(chunk); err != nil {
				return &TarError{Op: "appending to", Path: es.obj.Path, Err: err}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func tarHeader(obj ResolvedObject) *tar.Header {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     obj.Path,
		Size:     obj.Size,
		Mode:     0o644,
		ModTime:  obj.LastModified.Truncate(time.Second),
	}
	if obj.IsDir() {
		hdr.Typeflag = tar.TypeDir
		hdr.Mode = 0o755
		hdr.Size = 0
		if !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
	}
	return hdr
}
