package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is wrapped by implementations when a bucket, object or version
// does not exist, so callers can tell it apart from transport failures.
var ErrNotFound = errors.New("not found")

// ObjectInfo represents metadata for a remote object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	VersionID    string
}

// ListPage is one page of a prefix-scoped listing. NextToken is only
// meaningful when Truncated is set.
type ListPage struct {
	Objects   []ObjectInfo
	Truncated bool
	NextToken string
}

// CompletedPart identifies one uploaded part of a multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
	Size       int64
}

// ObjectStore captures the S3-compatible primitives the archive engine needs.
// Implementations do not retry; every failure is returned to the caller.
type ObjectStore interface {
	HeadBucket(ctx context.Context, bucket string) error
	BucketVersioning(ctx context.Context, bucket string) (bool, error)

	HeadObject(ctx context.Context, bucket, key, versionID string) (ObjectInfo, error)
	ListObjects(ctx context.Context, bucket, prefix, continuationToken string) (ListPage, error)
	GetObject(ctx context.Context, bucket, key, versionID string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error

	CreateMultipartUpload(ctx context.Context, bucket, key string) (uploadID string, err error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.Reader, size int64) (CompletedPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
}

// IsNotFound reports whether err marks a missing bucket, object or version.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
