// internal/storage/s3.go
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config encapsulates the connection info for an S3-compatible service.
type S3Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	UseSSL       bool
	PathStyle    bool
}

// S3Store implements ObjectStore on top of minio-go's low level Core API, so
// that multipart uploads are driven part by part instead of by the SDK.
type S3Store struct {
	core *minio.Core
}

// NewS3Store builds a new S3Store for the given endpoint.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint must be provided")
	}

	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secure = true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}
	endpoint = strings.TrimSuffix(strings.TrimPrefix(endpoint, "//"), "/")

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        creds,
		Secure:       secure,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client init failed: %w", err)
	}

	return &S3Store{core: &minio.Core{Client: client}}, nil
}

// HeadBucket checks that the bucket exists and is accessible.
func (s *S3Store) HeadBucket(ctx context.Context, bucket string) error {
	ok, err := s.core.BucketExists(ctx, bucket)
	if err != nil {
		return translate(err)
	}
	if !ok {
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}
	return nil
}

// BucketVersioning reports whether versioning is enabled on the bucket.
func (s *S3Store) BucketVersioning(ctx context.Context, bucket string) (bool, error) {
	cfg, err := s.core.GetBucketVersioning(ctx, bucket)
	if err != nil {
		return false, translate(err)
	}
	return cfg.Enabled(), nil
}

// HeadObject returns metadata for a single object.
func (s *S3Store) HeadObject(ctx context.Context, bucket, key, versionID string) (ObjectInfo, error) {
	info, err := s.core.StatObject(ctx, bucket, key, minio.StatObjectOptions{VersionID: versionID})
	if err != nil {
		return ObjectInfo{}, translate(err)
	}
	return objectInfo(info), nil
}

// ListObjects returns one page of a recursive listing under prefix.
func (s *S3Store) ListObjects(ctx context.Context, bucket, prefix, continuationToken string) (ListPage, error) {
	if err := ctx.Err(); err != nil {
		return ListPage{}, err
	}
	result, err := s.core.ListObjectsV2(bucket, prefix, "", continuationToken, "", 1000)
	if err != nil {
		return ListPage{}, translate(err)
	}
	page := ListPage{
		Objects:   make([]ObjectInfo, 0, len(result.Contents)),
		Truncated: result.IsTruncated,
		NextToken: result.NextContinuationToken,
	}
	for _, object := range result.Contents {
		page.Objects = append(page.Objects, objectInfo(object))
	}
	return page, nil
}

// GetObject opens a streaming reader over the object's bytes. Core.GetObject
// sends the request before returning, so a missing key fails here instead of
// on the first read.
func (s *S3Store) GetObject(ctx context.Context, bucket, key, versionID string) (io.ReadCloser, error) {
	body, _, _, err := s.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{VersionID: versionID})
	if err != nil {
		return nil, translate(err)
	}
	return body, nil
}

// PutObject uploads body as a single-part object.
func (s *S3Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	_, err := s.core.PutObject(ctx, bucket, key, body, size, "", "", minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return translate(err)
}

// CreateMultipartUpload starts a multipart upload and returns its id.
func (s *S3Store) CreateMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", translate(err)
	}
	return uploadID, nil
}

// UploadPart uploads one part of an open multipart upload.
func (s *S3Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.Reader, size int64) (CompletedPart, error) {
	part, err := s.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return CompletedPart{}, translate(err)
	}
	return CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag, Size: size}, nil
}

// CompleteMultipartUpload commits the parts, in order, as the final object.
func (s *S3Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, minio.CompletePart{PartNumber: part.PartNumber, ETag: part.ETag})
	}
	_, err := s.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completed, minio.PutObjectOptions{})
	return translate(err)
}

// AbortMultipartUpload discards an open multipart upload and its parts.
func (s *S3Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return translate(s.core.AbortMultipartUpload(ctx, bucket, key, uploadID))
}

var _ ObjectStore = (*S3Store)(nil)

func objectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ETag:         strings.Trim(info.ETag, `"`),
		VersionID:    info.VersionID,
	}
}

// translate maps S3 "no such ..." responses onto ErrNotFound and leaves every
// other error untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchVersion", "NoSuchUpload", "NotFound":
		return fmt.Errorf("%s: %w", resp.Message, ErrNotFound)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", err.Error(), ErrNotFound)
	}
	return err
}
