// internal/archive/engine.go
package archive

import (
	"context"

	"github.com/andresuchdata/s3tar/internal/storage"
)

// Engine runs create and extract operations against one object store.
type Engine struct {
	store storage.ObjectStore
	opts  Options
}

// NewEngine validates opts and returns an Engine over store.
func NewEngine(store storage.ObjectStore, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{store: store, opts: opts.withDefaults()}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Create resolves patterns and writes the matching objects as a tar archive
// to out. Nothing is written to out when resolution fails.
func (e *Engine) Create(ctx context.Context, patterns []SelectionPattern, out Endpoint) (err error) {
	if out.Kind() == 0 {
		return &EndpointError{Direction: "output"}
	}
	var (
		count int
		bytes int64
	)
	defer func() {
		e.finish(OperationCreate, out.String(), count, bytes, err)
	}()

	selection, err := NewSelector(e.store, e.opts).Resolve(ctx, patterns)
	if err != nil {
		return err
	}
	sink, err := out.OpenSink(ctx, e.store, e.opts)
	if err != nil {
		return err
	}
	if err := NewAssembler(e.store, e.opts).Assemble(ctx, selection, sink); err != nil {
		return err
	}
	count = len(selection)
	for _, obj := range selection {
		bytes += obj.Size
	}
	return nil
}

// Extract reads a tar archive from in and writes each entry to an object
// named target.Key followed by the entry path.
func (e *Engine) Extract(ctx context.Context, in Endpoint, target ObjectLocator) (err error) {
	if in.Kind() == 0 {
		return &EndpointError{Direction: "input"}
	}
	if target.Bucket == "" {
		return &MissingBucketError{URL: target.String()}
	}
	var count int
	defer func() {
		e.finish(OperationExtract, target.String(), count, 0, err)
	}()

	if err := e.store.HeadBucket(ctx, target.Bucket); err != nil {
		return &BucketAccessError{Bucket: target.Bucket, Err: err}
	}
	src, err := in.OpenSource(ctx, e.store)
	if err != nil {
		return err
	}
	count, err = NewExtractor(e.store, e.opts).Extract(ctx, src, target)
	if closeErr := src.Close(); closeErr != nil && err == nil {
		err = &ArchiveFileError{Op: "closing", Path: in.String(), Err: closeErr}
	}
	return err
}

func (e *Engine) finish(op, where string, count int, bytes int64, err error) {
	e.opts.Hook.OnEvent(Event{
		Kind:      EventOperationFinished,
		Operation: op,
		Path:      where,
		Count:     count,
		Bytes:     bytes,
		Err:       err,
	})
}
