package archive_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/s3tar/internal/archive"
	"github.com/andresuchdata/s3tar/internal/storage/memstore"
)

// smallOptions shrinks the part sizes so multipart paths run on tiny inputs.
func smallOptions() archive.Options {
	return archive.Options{
		MaxConcurrency:     3,
		MultipartThreshold: 8,
		ChunkSize:          4,
		ChunkQueue:         2,
		MinPartSize:        4,
	}
}

func newSmallStore() *memstore.Store {
	store := memstore.New()
	store.MinPartSize = 4
	return store
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestObjectWriterEmptyObjectIsSinglePut(t *testing.T) {
	store := newSmallStore()
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "empty"}
	w, err := archive.NewObjectWriter(t.Context(), store, loc, -1, smallOptions())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, ok := store.Object("bucket", "empty")
	require.True(t, ok)
	require.Empty(t, data)
	require.Empty(t, store.Sessions())
	require.Nil(t, w.Session())
	require.Equal(t, 1, store.Calls(memstore.OpPutObject))
}

func TestObjectWriterBelowThresholdIsSinglePut(t *testing.T) {
	store := newSmallStore()
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "small"}
	w, err := archive.NewObjectWriter(t.Context(), store, loc, 7, smallOptions())
	require.NoError(t, err)
	_, err = w.Write(payload(7))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Empty(t, store.Sessions())
	data, _ := store.Object("bucket", "small")
	require.Equal(t, payload(7), data)
}

func TestObjectWriterMultipart(t *testing.T) {
	store := newSmallStore()
	rec := &recorder{}
	opts := smallOptions()
	opts.Hook = rec
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "big"}
	w, err := archive.NewObjectWriter(t.Context(), store, loc, -1, opts)
	require.NoError(t, err)

	input := payload(30)
	for chunk := range slices.Chunk(input, 7) {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	sessions := store.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, memstore.SessionCompleted, sessions[0].State)
	sizes := sessions[0].PartSizes
	for _, size := range sizes[:len(sizes)-1] {
		require.Equal(t, int64(4), size)
	}
	require.LessOrEqual(t, sizes[len(sizes)-1], int64(4))

	data, _ := store.Object("bucket", "big")
	require.Equal(t, input, data)

	session := w.Session()
	require.NotNil(t, session)
	require.Equal(t, int64(30), session.Bytes)
	require.Len(t, rec.ofKind(archive.EventMultipartOpened), 1)
	require.Len(t, rec.ofKind(archive.EventPartUploaded), len(sizes))
	require.Len(t, rec.ofKind(archive.EventMultipartCompleted), 1)
}

func TestObjectWriterPartFailureAborts(t *testing.T) {
	store := newSmallStore()
	boom := errors.New("boom")
	store.FailOn(memstore.OpUploadPart, "big", boom)
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "big"}
	w, err := archive.NewObjectWriter(t.Context(), store, loc, -1, smallOptions())
	require.NoError(t, err)

	_, err = w.Write(payload(16))
	require.ErrorIs(t, err, boom)
	var storeErr *archive.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, 1, storeErr.PartNumber)

	sessions := store.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, memstore.SessionAborted, sessions[0].State)

	_, err = w.Write([]byte("more"))
	require.ErrorIs(t, err, archive.ErrUploadAbandoned)
	require.NoError(t, w.Abort())
	require.Equal(t, 1, store.Calls(memstore.OpAbortUpload))
}

func TestObjectWriterCompleteFailureAborts(t *testing.T) {
	store := newSmallStore()
	store.FailOn(memstore.OpCompleteUpload, "big", errors.New("complete failed"))
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "big"}
	w, err := archive.NewObjectWriter(t.Context(), store, loc, 12, smallOptions())
	require.NoError(t, err)
	_, err = w.Write(payload(12))
	require.NoError(t, err)

	err = w.Close()
	var storeErr *archive.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, archive.OpCompleteUpload, storeErr.Op)
	require.Equal(t, memstore.SessionAborted, store.Sessions()[0].State)
	_, ok := store.Object("bucket", "big")
	require.False(t, ok)
}

func TestObjectWriterAbortAfterCancel(t *testing.T) {
	store := newSmallStore()
	ctx, cancel := contextWithCancel(t)
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "big"}
	w, err := archive.NewObjectWriter(ctx, store, loc, -1, smallOptions())
	require.NoError(t, err)
	_, err = w.Write(payload(12))
	require.NoError(t, err)

	cancel()
	require.NoError(t, w.Abort())
	require.Equal(t, memstore.SessionAborted, store.Sessions()[0].State)
}

func TestObjectWriterTooLarge(t *testing.T) {
	store := newSmallStore()
	opts := smallOptions()
	opts.MaxObjectSize = 10
	loc := archive.ObjectLocator{Bucket: "bucket", Key: "huge"}

	_, err := archive.NewObjectWriter(t.Context(), store, loc, 11, opts)
	var tooLarge *archive.ObjectTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, int64(10), tooLarge.Limit)
	require.Contains(t, err.Error(), "larger than the 10 B maximum object size")
	require.Equal(t, archive.KindLimit, archive.KindOf(err))
	require.Equal(t, 0, store.Calls(memstore.OpCreateMultipart))
	require.Equal(t, 0, store.Calls(memstore.OpPutObject))

	w, err := archive.NewObjectWriter(t.Context(), store, loc, -1, opts)
	require.NoError(t, err)
	_, err = w.Write(payload(9))
	require.NoError(t, err)
	_, err = w.Write(payload(2))
	require.ErrorAs(t, err, &tooLarge)
	for _, s := range store.Sessions() {
		require.NotEqual(t, memstore.SessionOpen, s.State)
	}
}
