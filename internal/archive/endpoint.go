package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresuchdata/s3tar/internal/storage"
)

const streamBufferSize = 1 * MiB

// EndpointKind tells which variant an Endpoint is.
type EndpointKind int

const (
	EndpointFile EndpointKind = iota + 1
	EndpointObject
	EndpointStream
)

// Endpoint is where an archive is read from or written to: a local file, a
// store object, or a standard stream.
type Endpoint struct {
	kind   EndpointKind
	path   string
	object ObjectLocator
	in     io.Reader
	out    io.Writer
}

// FileEndpoint addresses a local archive file.
func FileEndpoint(path string) Endpoint {
	return Endpoint{kind: EndpointFile, path: path}
}

// ObjectEndpoint addresses an archive stored as an object.
func ObjectEndpoint(loc ObjectLocator) Endpoint {
	return Endpoint{kind: EndpointObject, object: loc}
}

// StreamEndpoint reads the archive from in or writes it to out.
func StreamEndpoint(in io.Reader, out io.Writer) Endpoint {
	return Endpoint{kind: EndpointStream, in: in, out: out}
}

// StdioEndpoint reads from stdin and writes to stdout.
func StdioEndpoint() Endpoint {
	return StreamEndpoint(os.Stdin, os.Stdout)
}

// ChooseEndpoint builds the one endpoint selected among a file path, an s3
// object URL and the standard stream. direction is "input" or "output" and
// only appears in the error.
func ChooseEndpoint(direction, file, objectURL string, stdio bool) (Endpoint, error) {
	given := 0
	for _, set := range []bool{file != "", objectURL != "", stdio} {
		if set {
			given++
		}
	}
	if given != 1 {
		return Endpoint{}, &EndpointError{Direction: direction, Given: given}
	}
	switch {
	case file != "":
		return FileEndpoint(file), nil
	case objectURL != "":
		loc, err := ParseObjectURL(objectURL)
		if err != nil {
			return Endpoint{}, err
		}
		return ObjectEndpoint(loc), nil
	}
	return StdioEndpoint(), nil
}

// Kind returns the endpoint variant.
func (e Endpoint) Kind() EndpointKind {
	return e.kind
}

func (e Endpoint) String() string {
	switch e.kind {
	case EndpointFile:
		return e.path
	case EndpointObject:
		return e.object.String()
	case EndpointStream:
		return "-"
	}
	return "<none>"
}

// Sink is the write side of an endpoint. Commit makes the bytes durable and
// reports flush failures; Abort discards what was written.
type Sink interface {
	io.Writer
	Commit() error
	Abort() error
}

// OpenSink opens the endpoint for writing.
func (e Endpoint) OpenSink(ctx context.Context, store storage.ObjectStore, opts Options) (Sink, error) {
	switch e.kind {
	case EndpointFile:
		f, err := os.Create(e.path)
		if err != nil {
			return nil, &ArchiveFileError{Op: "creating", Path: e.path, Err: err}
		}
		return &fileSink{f: f, w: bufio.NewWriterSize(f, streamBufferSize)}, nil
	case EndpointObject:
		w, err := NewObjectWriter(ctx, store, e.object, -1, opts)
		if err != nil {
			return nil, err
		}
		return objectSink{w}, nil
	case EndpointStream:
		if e.out == nil {
			return nil, &EndpointError{Direction: "output"}
		}
		return &streamSink{w: bufio.NewWriterSize(e.out, streamBufferSize)}, nil
	}
	return nil, &EndpointError{Direction: "output"}
}

// OpenSource opens the endpoint for reading.
func (e Endpoint) OpenSource(ctx context.Context, store storage.ObjectStore) (io.ReadCloser, error) {
	switch e.kind {
	case EndpointFile:
		f, err := os.Open(e.path)
		if err != nil {
			return nil, &ArchiveFileError{Op: "opening", Path: e.path, Err: err}
		}
		return &bufferedSource{Reader: bufio.NewReaderSize(f, streamBufferSize), c: f}, nil
	case EndpointObject:
		loc := e.object
		body, err := store.GetObject(ctx, loc.Bucket, loc.Key, loc.VersionID)
		if err != nil {
			return nil, &StoreError{Op: OpGetObject, Bucket: loc.Bucket, Key: loc.Key, VersionID: loc.VersionID, Err: err}
		}
		return &bufferedSource{Reader: bufio.NewReaderSize(&objectReader{body: body, loc: loc}, streamBufferSize), c: body}, nil
	case EndpointStream:
		if e.in == nil {
			return nil, &EndpointError{Direction: "input"}
		}
		return io.NopCloser(bufio.NewReaderSize(e.in, streamBufferSize)), nil
	}
	return nil, &EndpointError{Direction: "input"}
}

type bufferedSource struct {
	*bufio.Reader
	c io.Closer
}

func (s *bufferedSource) Close() error {
	return s.c.Close()
}

// objectReader wraps read failures with the object they came from.
type objectReader struct {
	body io.Reader
	loc  ObjectLocator
}

func (r *objectReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &StoreError{Op: OpReadObject, Bucket: r.loc.Bucket, Key: r.loc.Key, VersionID: r.loc.VersionID, Err: err}
	}
	return n, err
}

type fileSink struct {
	f *os.File
	w *bufio.Writer
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, &ArchiveFileError{Op: "writing", Path: s.f.Name(), Err: err}
	}
	return n, nil
}

func (s *fileSink) Commit() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return &ArchiveFileError{Op: "flushing", Path: s.f.Name(), Err: err}
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return &ArchiveFileError{Op: "syncing", Path: s.f.Name(), Err: err}
	}
	if err := s.f.Close(); err != nil {
		return &ArchiveFileError{Op: "closing", Path: s.f.Name(), Err: err}
	}
	return nil
}

// Abort removes the partial file so no truncated archive is left behind.
func (s *fileSink) Abort() error {
	s.f.Close()
	if err := os.Remove(s.f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing partial archive: %w", err)
	}
	return nil
}

type streamSink struct {
	w *bufio.Writer
}

func (s *streamSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, &ArchiveFileError{Op: "writing", Path: "-", Err: err}
	}
	return n, nil
}

func (s *streamSink) Commit() error {
	if err := s.w.Flush(); err != nil {
		return &ArchiveFileError{Op: "flushing", Path: "-", Err: err}
	}
	return nil
}

func (s *streamSink) Abort() error {
	s.w.Reset(io.Discard)
	return nil
}

type objectSink struct {
	w *ObjectWriter
}

func (s objectSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s objectSink) Commit() error               { return s.w.Close() }
func (s objectSink) Abort() error                { return s.w.Abort() }
