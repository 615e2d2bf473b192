package archive

import "fmt"

const (
	MiB = 1 << 20
	TiB = 1 << 40

	// MinPartSize is the S3 floor for every part but the last.
	MinPartSize = 5 * MiB
	// MaxObjectSize is the S3 ceiling for a single object.
	MaxObjectSize = 5 * TiB
	// MaxParts is the S3 ceiling on parts per multipart upload.
	MaxParts = 10000

	DefaultMaxConcurrency     = 10
	DefaultMultipartThreshold = 8 * MiB
	DefaultChunkSize          = 8 * MiB
	DefaultChunkQueue         = 4
)

// Options tunes the engine. Zero fields take their defaults.
type Options struct {
	// MaxConcurrency bounds in-flight fetch tasks on create and upload tasks
	// on extract.
	MaxConcurrency int
	// MultipartThreshold is the size at or above which an object is uploaded
	// with a multipart session instead of a single put.
	MultipartThreshold int64
	// ChunkSize is both the multipart part size and the unit of the bounded
	// handoffs between tasks.
	ChunkSize int64
	// ChunkQueue is the number of chunks a handoff buffers before the
	// producer blocks.
	ChunkQueue int
	// MinPartSize overrides the S3 minimum part size; only tests lower it.
	MinPartSize int64
	// MaxObjectSize overrides the S3 maximum object size.
	MaxObjectSize int64
	// AllowUnmatchedPatterns reports a pattern that matched nothing as an
	// event instead of failing, as long as some other pattern matched.
	AllowUnmatchedPatterns bool
	// Hook receives progress events; nil discards them.
	Hook Hook
}

// OptionsError reports an invalid tuning value.
type OptionsError struct {
	Field  string
	Reason string
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("invalid option %s: %s", e.Field, e.Reason)
}

// DefaultOptions returns the defaults used for zero fields.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.MultipartThreshold <= 0 {
		o.MultipartThreshold = DefaultMultipartThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkQueue <= 0 {
		o.ChunkQueue = DefaultChunkQueue
	}
	if o.MinPartSize <= 0 {
		o.MinPartSize = MinPartSize
	}
	if o.MaxObjectSize <= 0 {
		o.MaxObjectSize = MaxObjectSize
	}
	if o.Hook == nil {
		o.Hook = nopHook{}
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.ChunkSize < o.MinPartSize {
		return &OptionsError{Field: "ChunkSize", Reason: fmt.Sprintf("%d is below the minimum part size of %d bytes", o.ChunkSize, o.MinPartSize)}
	}
	if o.MultipartThreshold < o.ChunkSize {
		return &OptionsError{Field: "MultipartThreshold", Reason: fmt.Sprintf("%d is below the chunk size of %d bytes", o.MultipartThreshold, o.ChunkSize)}
	}
	return nil
}

// partSizeFor raises the chunk size when size would otherwise need more
// than MaxParts parts.
func (o Options) partSizeFor(size int64) int64 {
	partSize := o.ChunkSize
	if size > 0 && (size+partSize-1)/partSize > MaxParts {
		partSize = (size + MaxParts - 1) / MaxParts
	}
	return partSize
}
