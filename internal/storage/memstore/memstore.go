// Package memstore is an in-memory storage.ObjectStore. It keeps multipart
// bookkeeping and supports fault injection so that pipeline behavior can be
// asserted without a live S3 endpoint.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andresuchdata/s3tar/internal/storage"
)

// Op names a store primitive for fault injection and call counting.
type Op string

const (
	OpHeadBucket       Op = "head-bucket"
	OpBucketVersioning Op = "bucket-versioning"
	OpHeadObject       Op = "head-object"
	OpListObjects      Op = "list-objects"
	OpGetObject        Op = "get-object"
	OpPutObject        Op = "put-object"
	OpCreateMultipart  Op = "create-multipart-upload"
	OpUploadPart       Op = "upload-part"
	OpCompleteUpload   Op = "complete-multipart-upload"
	OpAbortUpload      Op = "abort-multipart-upload"
)

// SessionState is the lifecycle state of a multipart upload.
type SessionState string

const (
	SessionOpen      SessionState = "open"
	SessionCompleted SessionState = "completed"
	SessionAborted   SessionState = "aborted"
)

// Session is a snapshot of one multipart upload.
type Session struct {
	Bucket    string
	Key       string
	UploadID  string
	State     SessionState
	PartSizes []int64
}

type object struct {
	data         []byte
	served       []byte
	lastModified time.Time
	versionID    string
}

type upload struct {
	bucket string
	key    string
	id     string
	state  SessionState
	parts  map[int][]byte
}

type fault struct {
	op    Op
	key   string
	err   error
	panic bool
}

// Store is a concurrency-safe in-memory object store.
type Store struct {
	// PageSize bounds the number of objects per ListObjects page.
	PageSize int
	// MinPartSize is the smallest accepted non-final part.
	MinPartSize int64

	mu       sync.Mutex
	buckets  map[string]map[string]*object
	versions map[string]bool
	uploads  []*upload
	faults   []fault
	calls    map[Op]int
	nextID   int
	clock    time.Time
}

// New returns an empty store with S3's 5 MiB part floor lowered to 1 byte;
// tests set MinPartSize explicitly when they care.
func New() *Store {
	return &Store{
		PageSize:    1000,
		MinPartSize: 1,
		buckets:     make(map[string]map[string]*object),
		versions:    make(map[string]bool),
		calls:       make(map[Op]int),
		clock:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// CreateBucket adds an empty bucket.
func (s *Store) CreateBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]*object)
	}
}

// EnableVersioning marks the bucket as versioned.
func (s *Store) EnableVersioning(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[bucket] = true
}

// Put stores data under bucket/key, creating the bucket if needed.
func (s *Store) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(bucket, key, data)
}

// Corrupt makes GetObject serve data while listings and heads keep
// reporting the original size.
func (s *Store) Corrupt(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.buckets[bucket][key]; ok {
		obj.served = append([]byte(nil), data...)
	}
}

// Object returns a copy of the stored bytes.
func (s *Store) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys returns the sorted keys of a bucket.
func (s *Store) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for key := range s.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Sessions returns a snapshot of every multipart upload ever created.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]Session, 0, len(s.uploads))
	for _, u := range s.uploads {
		numbers := make([]int, 0, len(u.parts))
		for n := range u.parts {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)
		sizes := make([]int64, 0, len(numbers))
		for _, n := range numbers {
			sizes = append(sizes, int64(len(u.parts[n])))
		}
		sessions = append(sessions, Session{
			Bucket:    u.bucket,
			Key:       u.key,
			UploadID:  u.id,
			State:     u.state,
			PartSizes: sizes,
		})
	}
	return sessions
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// FailOn makes op fail with err for the given key, or for every key when key
// is empty.
func (s *Store) FailOn(op Op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, key: key, err: err})
}

// PanicOn makes op panic for the given key.
func (s *Store) PanicOn(op Op, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, key: key, panic: true})
}

func (s *Store) enter(op Op, key string) error {
	s.mu.Lock()
	s.calls[op]++
	var hit *fault
	for i := range s.faults {
		f := s.faults[i]
		if f.op == op && (f.key == "" || f.key == key) {
			hit = &f
			break
		}
	}
	s.mu.Unlock()
	if hit == nil {
		return nil
	}
	if hit.panic {
		panic(fmt.Sprintf("memstore: injected panic in %s %s", op, key))
	}
	return hit.err
}

func (s *Store) putLocked(bucket, key string, data []byte) {
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]*object)
		s.buckets[bucket] = b
	}
	s.clock = s.clock.Add(time.Second)
	s.nextID++
	b[key] = &object{
		data:         append([]byte(nil), data...),
		lastModified: s.clock,
		versionID:    fmt.Sprintf("v%d", s.nextID),
	}
}

func (s *Store) HeadBucket(ctx context.Context, bucket string) error {
	if err := s.enter(OpHeadBucket, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		return fmt.Errorf("bucket %s: %w", bucket, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) BucketVersioning(ctx context.Context, bucket string) (bool, error) {
	if err := s.enter(OpBucketVersioning, ""); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[bucket], nil
}

func (s *Store) HeadObject(ctx context.Context, bucket, key, versionID string) (storage.ObjectInfo, error) {
	if err := s.enter(OpHeadObject, key); err != nil {
		return storage.ObjectInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok || (versionID != "" && obj.versionID != versionID) {
		return storage.ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return s.infoLocked(bucket, key, obj), nil
}

func (s *Store) ListObjects(ctx context.Context, bucket, prefix, continuationToken string) (storage.ListPage, error) {
	if err := s.enter(OpListObjects, prefix); err != nil {
		return storage.ListPage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return storage.ListPage{}, fmt.Errorf("bucket %s: %w", bucket, storage.ErrNotFound)
	}
	keys := make([]string, 0, len(b))
	for key := range b {
		if strings.HasPrefix(key, prefix) && key > continuationToken {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	page := storage.ListPage{}
	if s.PageSize > 0 && len(keys) > s.PageSize {
		keys = keys[:s.PageSize]
		page.Truncated = true
		page.NextToken = keys[len(keys)-1]
	}
	for _, key := range keys {
		info := s.infoLocked(bucket, key, b[key])
		// Like ListObjectsV2, listings carry no version id.
		info.VersionID = ""
		page.Objects = append(page.Objects, info)
	}
	return page, nil
}

func (s *Store) GetObject(ctx context.Context, bucket, key, versionID string) (io.ReadCloser, error) {
	if err := s.enter(OpGetObject, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok || (versionID != "" && obj.versionID != versionID) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	data := obj.data
	if obj.served != nil {
		data = obj.served
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	if err := s.enter(OpPutObject, key); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("put %s/%s: body has %d bytes, declared %d", bucket, key, len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(bucket, key, data)
	return nil
}

func (s *Store) CreateMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	if err := s.enter(OpCreateMultipart, key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &upload{
		bucket: bucket,
		key:    key,
		id:     fmt.Sprintf("upload-%d", s.nextID),
		state:  SessionOpen,
		parts:  make(map[int][]byte),
	}
	s.uploads = append(s.uploads, u)
	return u.id, nil
}

func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.Reader, size int64) (storage.CompletedPart, error) {
	if err := s.enter(OpUploadPart, key); err != nil {
		return storage.CompletedPart{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.CompletedPart{}, err
	}
	if int64(len(data)) != size {
		return storage.CompletedPart{}, fmt.Errorf("part %d: body has %d bytes, declared %d", partNumber, len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.uploadLocked(uploadID)
	if err != nil {
		return storage.CompletedPart{}, err
	}
	u.parts[partNumber] = data
	sum := md5.Sum(data)
	return storage.CompletedPart{PartNumber: partNumber, ETag: hex.EncodeToString(sum[:]), Size: size}, nil
}

func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) error {
	if err := s.enter(OpCompleteUpload, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.uploadLocked(uploadID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("complete: no parts")
	}
	var data []byte
	for i, part := range parts {
		if part.PartNumber != i+1 {
			return fmt.Errorf("complete: part %d out of order", part.PartNumber)
		}
		body, ok := u.parts[part.PartNumber]
		if !ok {
			return fmt.Errorf("complete: part %d was never uploaded", part.PartNumber)
		}
		if i < len(parts)-1 && int64(len(body)) < s.MinPartSize {
			return fmt.Errorf("complete: part %d is %d bytes, below the %d byte minimum", part.PartNumber, len(body), s.MinPartSize)
		}
		data = append(data, body...)
	}
	u.state = SessionCompleted
	s.putLocked(bucket, key, data)
	return nil
}

func (s *Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := s.enter(OpAbortUpload, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.uploadLocked(uploadID)
	if err != nil {
		return err
	}
	u.state = SessionAborted
	u.parts = map[int][]byte{}
	return nil
}

func (s *Store) uploadLocked(uploadID string) (*upload, error) {
	for _, u := range s.uploads {
		if u.id == uploadID {
			if u.state != SessionOpen {
				return nil, fmt.Errorf("upload %s is %s: %w", uploadID, u.state, storage.ErrNotFound)
			}
			return u, nil
		}
	}
	return nil, fmt.Errorf("upload %s: %w", uploadID, storage.ErrNotFound)
}

func (s *Store) infoLocked(bucket, key string, obj *object) storage.ObjectInfo {
	sum := md5.Sum(obj.data)
	info := storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
		ETag:         hex.EncodeToString(sum[:]),
	}
	if s.versions[bucket] {
		info.VersionID = obj.versionID
	}
	return info
}

var _ storage.ObjectStore = (*Store)(nil)
