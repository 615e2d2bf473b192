package storage

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

func TestTranslateNotFound(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NoSuchBucket", "NoSuchVersion", "NoSuchUpload"} {
		err := translate(minio.ErrorResponse{Code: code, Message: "gone", StatusCode: http.StatusNotFound})
		require.True(t, IsNotFound(err), code)
	}

	err := translate(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})
	require.False(t, IsNotFound(err))

	plain := errors.New("connection reset")
	require.Same(t, plain, translate(plain))
	require.NoError(t, translate(nil))
}

func TestNewS3StoreStripsScheme(t *testing.T) {
	_, err := NewS3Store(S3Config{Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b", PathStyle: true})
	require.NoError(t, err)
}

func newTestS3Store(t *testing.T, handler http.HandlerFunc) *S3Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store, err := NewS3Store(S3Config{Endpoint: srv.URL, AccessKey: "a", SecretKey: "b", Region: "us-east-1", PathStyle: true})
	require.NoError(t, err)
	return store
}

func TestGetObjectStreamsBody(t *testing.T) {
	store := newTestS3Store(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/bucket/dir/a.txt" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Length", "5")
		w.Header().Set("ETag", `"5d41402abc4b2a76b9719d911017c592"`)
		w.Header().Set("Last-Modified", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello")
	})

	body, err := store.GetObject(t.Context(), "bucket", "dir/a.txt", "")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestGetObjectMissingKeyFailsOnOpen(t *testing.T) {
	store := newTestS3Store(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
			`<Key>`+strings.TrimPrefix(r.URL.Path, "/bucket/")+`</Key></Error>`)
	})

	_, err := store.GetObject(t.Context(), "bucket", "missing.txt", "")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}
