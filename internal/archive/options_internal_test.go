package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartSizeForRespectsPartCeiling(t *testing.T) {
	o := DefaultOptions()
	require.Equal(t, int64(DefaultChunkSize), o.partSizeFor(-1))
	require.Equal(t, int64(DefaultChunkSize), o.partSizeFor(100*MiB))

	size := int64(MaxParts)*DefaultChunkSize + 1
	partSize := o.partSizeFor(size)
	require.Greater(t, partSize, int64(DefaultChunkSize))
	require.LessOrEqual(t, (size+partSize-1)/partSize, int64(MaxParts))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
	require.Error(t, Options{ChunkSize: 4 * MiB}.Validate())
	require.Error(t, Options{ChunkSize: 16 * MiB, MultipartThreshold: 8 * MiB}.Validate())
	require.NoError(t, Options{ChunkSize: 16 * MiB, MultipartThreshold: 16 * MiB}.Validate())
}

func TestTarHeaderForDirectoryMarker(t *testing.T) {
	hdr := tarHeader(ResolvedObject{ObjectLocator: ObjectLocator{Key: "p/sub/"}, Path: "sub/"})
	require.Equal(t, byte('5'), hdr.Typeflag)
	require.Equal(t, int64(0), hdr.Size)
	require.Equal(t, "sub/", hdr.Name)

	hdr = tarHeader(ResolvedObject{ObjectLocator: ObjectLocator{Key: "p/a.txt"}, Path: "a.txt", Size: 3})
	require.Equal(t, byte('0'), hdr.Typeflag)
	require.Equal(t, int64(3), hdr.Size)
}
