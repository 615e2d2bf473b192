package archive_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/s3tar/internal/archive"
	"github.com/andresuchdata/s3tar/internal/storage/memstore"
)

type tarEntry struct {
	name     string
	typeflag byte
	data     []byte
}

func readTar(t *testing.T, r io.Reader) []tarEntry {
	t.Helper()
	var entries []tarEntry
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries = append(entries, tarEntry{name: hdr.Name, typeflag: hdr.Typeflag, data: data})
	}
}

func writeTar(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, Mode: 0o644, Size: int64(len(e.data))}
		if e.typeflag == tar.TypeSymlink {
			hdr.Linkname = "target"
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write(e.data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func newEngine(t *testing.T, store *memstore.Store, opts archive.Options) *archive.Engine {
	t.Helper()
	engine, err := archive.NewEngine(store, opts)
	require.NoError(t, err)
	return engine
}

func requireNoOpenSessions(t *testing.T, store *memstore.Store) {
	t.Helper()
	for _, s := range store.Sessions() {
		require.NotEqual(t, memstore.SessionOpen, s.State, "session %s for %s left open", s.UploadID, s.Key)
	}
}

func TestNewEngineRejectsSmallChunks(t *testing.T) {
	_, err := archive.NewEngine(memstore.New(), archive.Options{ChunkSize: archive.MiB})
	var optsErr *archive.OptionsError
	require.ErrorAs(t, err, &optsErr)
	require.Equal(t, "ChunkSize", optsErr.Field)
}

func TestCreateAndExtractRoundTrip(t *testing.T) {
	store := newSmallStore()
	store.Put("src", "prefix/a.txt", []byte("hello"))
	store.Put("src", "prefix/b.txt", nil)
	store.CreateBucket("dst")
	engine := newEngine(t, store, smallOptions())

	var archiveBuf bytes.Buffer
	err := engine.Create(t.Context(), mustPatterns(t, "s3://src/prefix/"), archive.StreamEndpoint(nil, &archiveBuf))
	require.NoError(t, err)

	entries := readTar(t, bytes.NewReader(archiveBuf.Bytes()))
	require.Equal(t, []tarEntry{
		{name: "a.txt", typeflag: tar.TypeReg, data: []byte("hello")},
		{name: "b.txt", typeflag: tar.TypeReg, data: []byte{}},
	}, entries)

	target, err := archive.ParseTargetURL("s3://dst/prefix2/")
	require.NoError(t, err)
	err = engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(archiveBuf.Bytes()), nil), target)
	require.NoError(t, err)

	require.Equal(t, []string{"prefix2/a.txt", "prefix2/b.txt"}, store.Keys("dst"))
	data, _ := store.Object("dst", "prefix2/a.txt")
	require.Equal(t, "hello", string(data))
	data, _ = store.Object("dst", "prefix2/b.txt")
	require.Empty(t, data)
}

func TestCreateKeepsSelectionOrder(t *testing.T) {
	store := newSmallStore()
	var want []string
	for i := range 20 {
		key := fmt.Sprintf("p/%02d.bin", i)
		store.Put("src", key, payload((i*7)%23))
		want = append(want, fmt.Sprintf("%02d.bin", i))
	}
	rec := &recorder{}
	opts := smallOptions()
	opts.Hook = rec
	engine := newEngine(t, store, opts)

	var buf bytes.Buffer
	require.NoError(t, engine.Create(t.Context(), mustPatterns(t, "s3://src/p/"), archive.StreamEndpoint(nil, &buf)))

	entries := readTar(t, &buf)
	var names []string
	for i, e := range entries {
		names = append(names, e.name)
		require.Equal(t, payload((i*7)%23), e.data)
	}
	require.Equal(t, want, names)

	finished := rec.ofKind(archive.EventOperationFinished)
	require.Len(t, finished, 1)
	require.NoError(t, finished[0].Err)
	require.Equal(t, 20, finished[0].Count)
}

func TestCreateToObjectAndExtractFromObject(t *testing.T) {
	store := newSmallStore()
	store.Put("src", "data/one.bin", payload(19))
	store.Put("src", "data/dir/", nil)
	store.Put("src", "data/dir/two.bin", payload(3))
	engine := newEngine(t, store, smallOptions())

	archiveLoc := archive.ObjectLocator{Bucket: "archives", Key: "data.tar"}
	require.NoError(t, engine.Create(t.Context(), mustPatterns(t, "s3://src/data/"), archive.ObjectEndpoint(archiveLoc)))

	sessions := store.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, memstore.SessionCompleted, sessions[0].State)

	store.CreateBucket("dst")
	require.NoError(t, engine.Extract(t.Context(), archive.ObjectEndpoint(archiveLoc), archive.ObjectLocator{Bucket: "dst", Key: "restored/"}))
	require.Equal(t, []string{"restored/dir/", "restored/dir/two.bin", "restored/one.bin"}, store.Keys("dst"))
	data, _ := store.Object("dst", "restored/one.bin")
	require.Equal(t, payload(19), data)
	requireNoOpenSessions(t, store)
}

func TestCreateSizeMismatch(t *testing.T) {
	for _, served := range [][]byte{payload(6), payload(4)} {
		t.Run(fmt.Sprintf("served %d bytes", len(served)), func(t *testing.T) {
			store := newSmallStore()
			store.Put("src", "p/a.txt", payload(5))
			store.Corrupt("src", "p/a.txt", served)
			engine := newEngine(t, store, smallOptions())

			out := filepath.Join(t.TempDir(), "out.tar")
			err := engine.Create(t.Context(), mustPatterns(t, "s3://src/p/"), archive.FileEndpoint(out))
			var mismatch *archive.SizeMismatchError
			require.ErrorAs(t, err, &mismatch)
			require.Equal(t, int64(5), mismatch.Declared)
			require.Equal(t, archive.KindLimit, archive.KindOf(err))

			_, statErr := os.Stat(out)
			require.True(t, os.IsNotExist(statErr), "partial archive must be removed")
		})
	}
}

func TestCreateFetchPanicFailsOperation(t *testing.T) {
	store := newSmallStore()
	store.Put("src", "p/a.txt", payload(5))
	store.Put("src", "p/b.txt", payload(5))
	store.PanicOn(memstore.OpGetObject, "p/b.txt")
	engine := newEngine(t, store, smallOptions())

	err := engine.Create(t.Context(), mustPatterns(t, "s3://src/p/"), archive.StreamEndpoint(nil, io.Discard))
	require.ErrorIs(t, err, archive.ErrBackgroundTaskFailed)
	require.Equal(t, archive.KindPipeline, archive.KindOf(err))
}

func TestCreateFetchFailure(t *testing.T) {
	store := newSmallStore()
	store.Put("src", "p/a.txt", payload(5))
	boom := errors.New("boom")
	store.FailOn(memstore.OpGetObject, "p/a.txt", boom)
	engine := newEngine(t, store, smallOptions())

	archiveLoc := archive.ObjectLocator{Bucket: "archives", Key: "out.tar"}
	err := engine.Create(t.Context(), mustPatterns(t, "s3://src/p/"), archive.ObjectEndpoint(archiveLoc))
	require.ErrorIs(t, err, boom)
	var storeErr *archive.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, archive.OpGetObject, storeErr.Op)
	_, ok := store.Object("archives", "out.tar")
	require.False(t, ok)
	requireNoOpenSessions(t, store)
}

func TestCreateResolutionFailureWritesNothing(t *testing.T) {
	store := newSmallStore()
	store.CreateBucket("src")
	engine := newEngine(t, store, smallOptions())

	out := filepath.Join(t.TempDir(), "out.tar")
	err := engine.Create(t.Context(), mustPatterns(t, "s3://src/missing.txt"), archive.FileEndpoint(out))
	var notFound *archive.ObjectNotFoundError
	require.ErrorAs(t, err, &notFound)
	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr))
}

func TestExtractDirectoriesAndSkippedEntries(t *testing.T) {
	store := newSmallStore()
	store.CreateBucket("dst")
	rec := &recorder{}
	opts := smallOptions()
	opts.Hook = rec
	engine := newEngine(t, store, opts)

	tarball := writeTar(t,
		tarEntry{name: "d/", typeflag: tar.TypeDir},
		tarEntry{name: "d/f.txt", typeflag: tar.TypeReg, data: []byte("file")},
		tarEntry{name: "d/link", typeflag: tar.TypeSymlink},
	)
	err := engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(tarball), nil), archive.ObjectLocator{Bucket: "dst", Key: "out/"})
	require.NoError(t, err)

	require.Equal(t, []string{"out/d/", "out/d/f.txt"}, store.Keys("dst"))
	skipped := rec.ofKind(archive.EventEntrySkipped)
	require.Len(t, skipped, 1)
	require.Equal(t, "d/link", skipped[0].Path)
	finished := rec.ofKind(archive.EventOperationFinished)
	require.Len(t, finished, 1)
	require.Equal(t, 2, finished[0].Count)
}

func TestExtractUploadFailureClosesEverySession(t *testing.T) {
	store := newSmallStore()
	store.CreateBucket("dst")
	boom := errors.New("boom")
	store.FailOn(memstore.OpUploadPart, "out/c.bin", boom)
	engine := newEngine(t, store, smallOptions())

	tarball := writeTar(t,
		tarEntry{name: "a.bin", typeflag: tar.TypeReg, data: payload(21)},
		tarEntry{name: "b.bin", typeflag: tar.TypeReg, data: payload(3)},
		tarEntry{name: "c.bin", typeflag: tar.TypeReg, data: payload(40)},
		tarEntry{name: "d.bin", typeflag: tar.TypeReg, data: payload(33)},
	)
	err := engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(tarball), nil), archive.ObjectLocator{Bucket: "dst", Key: "out/"})
	require.ErrorIs(t, err, boom)
	var storeErr *archive.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "out/c.bin", storeErr.Key)
	requireNoOpenSessions(t, store)
	_, ok := store.Object("dst", "out/c.bin")
	require.False(t, ok)
}

func TestExtractUploadPanicFailsOperation(t *testing.T) {
	store := newSmallStore()
	store.CreateBucket("dst")
	store.PanicOn(memstore.OpUploadPart, "out/a.bin")
	engine := newEngine(t, store, smallOptions())

	tarball := writeTar(t, tarEntry{name: "a.bin", typeflag: tar.TypeReg, data: payload(21)})
	err := engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(tarball), nil), archive.ObjectLocator{Bucket: "dst", Key: "out/"})
	require.ErrorIs(t, err, archive.ErrBackgroundTaskFailed)
	requireNoOpenSessions(t, store)
}

func TestExtractTruncatedArchive(t *testing.T) {
	store := newSmallStore()
	store.CreateBucket("dst")
	engine := newEngine(t, store, smallOptions())

	tarball := writeTar(t, tarEntry{name: "big.bin", typeflag: tar.TypeReg, data: payload(100)})
	truncated := tarball[:512+50]
	err := engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(truncated), nil), archive.ObjectLocator{Bucket: "dst", Key: "out/"})
	var tarErr *archive.TarError
	require.ErrorAs(t, err, &tarErr)
	require.Equal(t, archive.KindPipeline, archive.KindOf(err))
	requireNoOpenSessions(t, store)
	require.Empty(t, store.Keys("dst"))
}

func TestExtractEntryTooLarge(t *testing.T) {
	store := newSmallStore()
	store.CreateBucket("dst")
	opts := smallOptions()
	opts.MaxObjectSize = 10
	engine := newEngine(t, store, opts)

	tarball := writeTar(t, tarEntry{name: "big.bin", typeflag: tar.TypeReg, data: payload(11)})
	err := engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(tarball), nil), archive.ObjectLocator{Bucket: "dst"})
	var tooLarge *archive.ObjectTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, int64(10), tooLarge.Limit)
	require.Equal(t, 0, store.Calls(memstore.OpCreateMultipart))
}

func TestExtractMissingBucket(t *testing.T) {
	engine := newEngine(t, newSmallStore(), smallOptions())
	err := engine.Extract(t.Context(), archive.StreamEndpoint(bytes.NewReader(nil), nil), archive.ObjectLocator{Bucket: "nope"})
	var bucketErr *archive.BucketAccessError
	require.ErrorAs(t, err, &bucketErr)
}
