package archive_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/s3tar/internal/archive"
)

func TestParseSelectionURL(t *testing.T) {
	cases := []struct {
		url        string
		bucket     string
		kind       archive.PatternKind
		listPrefix string
		key        string
		path       string
	}{
		{"s3://bucket", "bucket", archive.PatternBucket, "", "a/b.txt", "a/b.txt"},
		{"s3://bucket/", "bucket", archive.PatternBucket, "", "a/b.txt", "a/b.txt"},
		{"s3://bucket/logs/", "bucket", archive.PatternPrefix, "logs/", "logs/2024/x.log", "2024/x.log"},
		{"s3://bucket/logs/app.log", "bucket", archive.PatternObject, "", "logs/app.log", "app.log"},
		{"s3://bucket/logs/*.txt", "bucket", archive.PatternGlob, "logs/", "logs/a.txt", "a.txt"},
		{"s3://bucket/data/2024-*/*.csv", "bucket", archive.PatternGlob, "data/2024-", "data/2024-01/x.csv", "2024-01/x.csv"},
		{"s3://bucket/**.json", "bucket", archive.PatternGlob, "", "deep/er/x.json", "deep/er/x.json"},
		{"S3://bucket/file?.bin", "bucket", archive.PatternGlob, "file", "file1.bin", "file1.bin"},
	}
	for _, c := range cases {
		t.Run(c.url, func(t *testing.T) {
			p, err := archive.ParseSelectionURL(c.url)
			require.NoError(t, err)
			require.Equal(t, c.bucket, p.Bucket)
			require.Equal(t, c.kind, p.Kind)
			require.Equal(t, c.listPrefix, p.ListPrefix())
			require.True(t, p.Match(c.key), "pattern should match %s", c.key)
			require.Equal(t, c.path, p.EntryPath(c.key))
		})
	}
}

func TestGlobDoesNotCrossSeparator(t *testing.T) {
	p, err := archive.ParseSelectionURL("s3://bucket/logs/*.txt")
	require.NoError(t, err)
	require.True(t, p.Match("logs/a.txt"))
	require.False(t, p.Match("logs/sub/a.txt"))
	require.False(t, p.Match("other/a.txt"))
}

func TestParseSelectionURLErrors(t *testing.T) {
	_, err := archive.ParseSelectionURL("https://bucket/key")
	var unsupported *archive.UnsupportedURLError
	require.ErrorAs(t, err, &unsupported)

	_, err = archive.ParseSelectionURL("s3:///key")
	var missing *archive.MissingBucketError
	require.ErrorAs(t, err, &missing)

	_, err = archive.ParseSelectionURL("s3://bucket//key")
	var filter *archive.InvalidFilterError
	require.ErrorAs(t, err, &filter)

	_, err = archive.ParseSelectionURL("s3://bucket/logs/[abc")
	var invalidGlob *archive.InvalidGlobError
	require.ErrorAs(t, err, &invalidGlob)
	require.Equal(t, "logs/[abc", invalidGlob.Pattern)

	for _, err := range []error{unsupported, missing, filter, invalidGlob} {
		require.Equal(t, archive.KindValidation, archive.KindOf(err))
	}
}

func TestParseObjectURL(t *testing.T) {
	loc, err := archive.ParseObjectURL("s3://bucket/backups/archive.tar")
	require.NoError(t, err)
	require.Equal(t, archive.ObjectLocator{Bucket: "bucket", Key: "backups/archive.tar"}, loc)
	require.Equal(t, "s3://bucket/backups/archive.tar", loc.String())

	_, err = archive.ParseObjectURL("s3://bucket/")
	var archiveURL *archive.ArchiveURLError
	require.ErrorAs(t, err, &archiveURL)
}

func TestParseTargetURL(t *testing.T) {
	loc, err := archive.ParseTargetURL("s3://bucket/prefix2/")
	require.NoError(t, err)
	require.Equal(t, "bucket", loc.Bucket)
	require.Equal(t, "prefix2/", loc.Key)

	loc, err = archive.ParseTargetURL("s3://bucket")
	require.NoError(t, err)
	require.Equal(t, "", loc.Key)
}
