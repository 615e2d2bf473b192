// internal/archive/errors.go
package archive

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Kind groups errors by how the caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation errors are raised before any I/O.
	KindValidation
	// KindResolution errors come from read-only lookups against the store.
	KindResolution
	// KindStore errors wrap a failed store primitive.
	KindStore
	// KindLimit errors are size violations; they are never retried.
	KindLimit
	// KindPipeline errors mean the streaming pipeline itself broke.
	KindPipeline
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResolution:
		return "resolution"
	case KindStore:
		return "store"
	case KindLimit:
		return "limit"
	case KindPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

var (
	// ErrNoInputs is returned when the selection as a whole matched nothing.
	ErrNoInputs = errors.New("no matching objects were found")
	// ErrNoSelectors is returned when create is called without any pattern.
	ErrNoSelectors = errors.New("no selection patterns were given")
	// ErrBackgroundTaskFailed is wrapped by TaskPanicError.
	ErrBackgroundTaskFailed = errors.New("background task failed")
	// ErrExtractAborted is returned by a producer whose consumer went away.
	ErrExtractAborted = errors.New("receiver closed; assuming the operation is aborted")
	// ErrUploadAbandoned is returned by an object writer used after it was
	// aborted.
	ErrUploadAbandoned = errors.New("upload was abandoned")
)

// InvalidGlobError reports a glob pattern that does not compile.
type InvalidGlobError struct {
	Pattern string
	Err     error
}

func (e *InvalidGlobError) Error() string {
	return fmt.Sprintf("the glob pattern '%s' is invalid: %v", e.Pattern, e.Err)
}

func (e *InvalidGlobError) Unwrap() error { return e.Err }

// InvalidFilterError reports an empty filter or one starting with '/'.
type InvalidFilterError struct {
	Filter string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("the filter '%s' is not valid; filters cannot be empty strings, and they cannot start with '/'", e.Filter)
}

// UnsupportedURLError reports a URL scheme other than s3.
type UnsupportedURLError struct {
	URL string
}

func (e *UnsupportedURLError) Error() string {
	return fmt.Sprintf("the URL '%s' doesn't correspond to any supported object storage technology; supported URL schemes are: s3", e.URL)
}

// MissingBucketError reports an s3 URL without a bucket name.
type MissingBucketError struct {
	URL string
}

func (e *MissingBucketError) Error() string {
	return fmt.Sprintf("the S3 URL '%s' is missing the bucket name", e.URL)
}

// ArchiveURLError reports an archive object URL without a key.
type ArchiveURLError struct {
	URL string
}

func (e *ArchiveURLError) Error() string {
	return fmt.Sprintf("the archive URL '%s' is missing the key name", e.URL)
}

// EndpointError reports a missing or ambiguous archive endpoint.
type EndpointError struct {
	Direction string
	Given     int
}

func (e *EndpointError) Error() string {
	if e.Given == 0 {
		return fmt.Sprintf("no %s archive endpoint given; specify exactly one of file, s3 object or standard stream", e.Direction)
	}
	return fmt.Sprintf("%d %s archive endpoints given; specify exactly one of file, s3 object or standard stream", e.Given, e.Direction)
}

// ArgumentError reports a command invoked with the wrong number of
// positional arguments.
type ArgumentError struct {
	Command string
	Want    int
	Got     int
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s takes exactly %d argument(s), got %d", e.Command, e.Want, e.Got)
}

// ObjectNotFoundError is returned when an exact key does not exist.
type ObjectNotFoundError struct {
	Bucket string
	Key    string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object '%s' in S3 bucket '%s' doesn't exist; if you meant to specify a prefix, add a '/' character at the end of the URL", e.Key, e.Bucket)
}

// PrefixNotFoundError is returned when a prefix lists zero objects.
type PrefixNotFoundError struct {
	Bucket string
	Prefix string
}

func (e *PrefixNotFoundError) Error() string {
	return fmt.Sprintf("no objects in the prefix '%s' in S3 bucket '%s' were found; if you meant to specify an object and not a prefix, remove the '/' character from the end of the URL", e.Prefix, e.Bucket)
}

// SelectorMatchesNoObjectsError names one pattern that matched nothing while
// others did.
type SelectorMatchesNoObjectsError struct {
	Pattern string
	Err     error
}

func (e *SelectorMatchesNoObjectsError) Error() string {
	return fmt.Sprintf("the input [%s] did not match any objects; double-check the bucket name and the path expression", e.Pattern)
}

func (e *SelectorMatchesNoObjectsError) Unwrap() error { return e.Err }

// BucketAccessError is returned when a bucket does not exist or is not
// accessible.
type BucketAccessError struct {
	Bucket string
	Err    error
}

func (e *BucketAccessError) Error() string {
	return fmt.Sprintf("the S3 bucket '%s' either doesn't exist, or your identity is not granted access: %v", e.Bucket, e.Err)
}

func (e *BucketAccessError) Unwrap() error { return e.Err }

// Store operations named in StoreError.
const (
	OpHeadBucket       = "head bucket"
	OpBucketVersioning = "get bucket versioning"
	OpHeadObject       = "head object"
	OpListObjects      = "list objects"
	OpGetObject        = "get object"
	OpReadObject       = "read object stream"
	OpPutObject        = "put object"
	OpCreateMultipart  = "create multipart upload"
	OpUploadPart       = "upload part"
	OpCompleteUpload   = "complete multipart upload"
	OpAbortUpload      = "abort multipart upload"
)

// StoreError wraps a failed store primitive with the operation and location.
type StoreError struct {
	Op         string
	Bucket     string
	Key        string
	VersionID  string
	PartNumber int
	Err        error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s failed for '%s' in S3 bucket '%s'", e.Op, e.Key, e.Bucket)
	if e.Key == "" {
		msg = fmt.Sprintf("%s failed for S3 bucket '%s'", e.Op, e.Bucket)
	}
	if e.VersionID != "" {
		msg += fmt.Sprintf(" (version '%s')", e.VersionID)
	}
	if e.PartNumber > 0 {
		msg += fmt.Sprintf(" (part %d)", e.PartNumber)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ObjectTooLargeError is returned before any upload call when the declared
// size exceeds the configured maximum object size.
type ObjectTooLargeError struct {
	Bucket string
	Key    string
	Size   int64
	Limit  int64
}

func (e *ObjectTooLargeError) Error() string {
	return fmt.Sprintf("unable to create object '%s' in S3 bucket '%s': the expected size of %d bytes is larger than the %s maximum object size",
		e.Key, e.Bucket, e.Size, humanize.IBytes(uint64(e.Limit)))
}

// SizeMismatchError is returned when an object stream does not carry the
// number of bytes its metadata declared.
type SizeMismatchError struct {
	Bucket   string
	Key      string
	Declared int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("object '%s' in S3 bucket '%s' declared %d bytes but the stream carried %d or more; refusing to write a corrupt archive", e.Key, e.Bucket, e.Declared, e.Actual)
}

// TaskPanicError reports a background task that panicked.
type TaskPanicError struct {
	Task  string
	Value any
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("BUG: background task %s panicked: %v", e.Task, e.Value)
}

func (e *TaskPanicError) Unwrap() error { return ErrBackgroundTaskFailed }

// TarError wraps a tar framing failure on read or append.
type TarError struct {
	Op   string
	Path string
	Err  error
}

func (e *TarError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("error %s tar archive: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("error %s tar archive at entry '%s': %v", e.Op, e.Path, e.Err)
}

func (e *TarError) Unwrap() error { return e.Err }

// ArchiveFileError wraps open, write and flush failures on a local archive
// file or standard stream.
type ArchiveFileError struct {
	Op   string
	Path string
	Err  error
}

func (e *ArchiveFileError) Error() string {
	return fmt.Sprintf("error %s archive '%s': %v", e.Op, e.Path, e.Err)
}

func (e *ArchiveFileError) Unwrap() error { return e.Err }

// KindOf classifies err into one of the error kinds.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		invalidGlob   *InvalidGlobError
		invalidFilter *InvalidFilterError
		unsupported   *UnsupportedURLError
		missingBucket *MissingBucketError
		archiveURL    *ArchiveURLError
		endpoint      *EndpointError
		options       *OptionsError
		argument      *ArgumentError
		notFound      *ObjectNotFoundError
		prefix        *PrefixNotFoundError
		unmatched     *SelectorMatchesNoObjectsError
		bucket        *BucketAccessError
		store         *StoreError
		tooLarge      *ObjectTooLargeError
		mismatch      *SizeMismatchError
		tarErr        *TarError
		fileErr       *ArchiveFileError
	)
	switch {
	case errors.As(err, &invalidGlob), errors.As(err, &invalidFilter),
		errors.As(err, &unsupported), errors.As(err, &missingBucket),
		errors.As(err, &archiveURL), errors.As(err, &endpoint),
		errors.As(err, &options), errors.As(err, &argument),
		errors.Is(err, ErrNoSelectors):
		return KindValidation
	case errors.As(err, &tooLarge), errors.As(err, &mismatch):
		return KindLimit
	case errors.As(err, &notFound), errors.As(err, &prefix),
		errors.As(err, &unmatched), errors.As(err, &bucket),
		errors.Is(err, ErrNoInputs):
		return KindResolution
	case errors.Is(err, ErrBackgroundTaskFailed), errors.Is(err, ErrExtractAborted),
		errors.As(err, &tarErr), errors.As(err, &fileErr):
		return KindPipeline
	case errors.As(err, &store), errors.Is(err, ErrUploadAbandoned):
		return KindStore
	}
	return KindUnknown
}
