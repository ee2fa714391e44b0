package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a path-style S3 endpoint holding one bucket.
type fakeS3 struct {
	srv        *httptest.Server
	bucket     string
	mu         sync.Mutex
	objects    map[string][]byte
	headStatus int
}

func newFakeS3(t *testing.T) *fakeS3 {
	f := &fakeS3{bucket: "backups-bucket", objects: make(map[string][]byte), headStatus: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeS3) serve(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AK/") {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "<Error><Code>NoSuchBucket</Code></Error>")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(f.headStatus)
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var contents strings.Builder
		count := 0
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&contents, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-02T03:04:05.000Z</LastModified></Contents>", k, len(v))
				count++
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
			f.bucket, prefix, count, contents.String())
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		sum := sha256.Sum256(body)
		if r.Header.Get("X-Amz-Content-Sha256") != hex.EncodeToString(sum[:]) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<Error><Code>XAmzContentSHA256Mismatch</Code></Error>")
			return
		}
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "<Error><Code>NoSuchKey</Code></Error>")
			return
		}
		w.Write(body)
	case r.Method == http.MethodDelete:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) adapter(t *testing.T, bucket string) *ObjectStoreAdapter {
	t.Helper()
	a, err := NewObjectStoreAdapter(ObjectStoreConfig{
		Endpoint:  f.srv.URL,
		Region:    "us-east-1",
		Bucket:    bucket,
		AccessKey: "AK",
		SecretKey: "SK",
	}, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestObjectStore_UploadDownloadDelete(t *testing.T) {
	f := newFakeS3(t)
	a := f.adapter(t, f.bucket)
	ctx := context.Background()
	key := "backups/t/s/b1/chunk-0001.tar.gz"

	res, err := a.Upload(ctx, tempChunk(t, "object payload"), key)
	require.NoError(t, err)
	assert.Equal(t, key, res.RemoteKey)
	assert.Equal(t, int64(14), res.SizeBytes)

	dest := filepath.Join(t.TempDir(), "restored.tar.gz")
	n, err := a.Download(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "object payload", string(got))

	require.NoError(t, a.Delete(ctx, key))
	// Deleting again is still a success.
	require.NoError(t, a.Delete(ctx, key))

	_, err = a.Download(ctx, key, dest)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestObjectStore_DownloadStalledBodyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	a, err := NewObjectStoreAdapter(ObjectStoreConfig{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "b",
		AccessKey:       "AK",
		SecretKey:       "SK",
		TransferTimeout: 100 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "chunk.tar.gz")
	start := time.Now()
	_, err = a.Download(context.Background(), "backups/t/s/b1/chunk-0001.tar.gz", dest)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Less(t, time.Since(start), 3*time.Second)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestObjectStore_TestConnection(t *testing.T) {
	f := newFakeS3(t)
	a := f.adapter(t, f.bucket)

	require.NoError(t, a.TestConnection(context.Background()))

	f.mu.Lock()
	f.headStatus = http.StatusForbidden
	f.mu.Unlock()
	require.NoError(t, a.TestConnection(context.Background()))

	f.mu.Lock()
	f.headStatus = http.StatusServiceUnavailable
	f.mu.Unlock()
	assert.True(t, IsTransient(a.TestConnection(context.Background())))

	err := f.adapter(t, "missing-bucket").TestConnection(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestObjectStore_List(t *testing.T) {
	f := newFakeS3(t)
	f.objects["backups/t/s/b1/chunk-0001.zip"] = []byte("12345")
	f.objects["backups/t/s/b2/chunk-0001.zip"] = []byte("1")
	a := f.adapter(t, f.bucket)

	objects, err := a.ListObjects(context.Background(), "backups/t/s/b1/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "backups/t/s/b1/chunk-0001.zip", objects[0].Key)
	assert.Equal(t, int64(5), objects[0].Size)

	keys, err := a.List(context.Background(), "backups/t/s/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestObjectStore_SignedURL(t *testing.T) {
	f := newFakeS3(t)
	a := f.adapter(t, f.bucket)

	u, err := a.SignedURL(context.Background(), "backups/t/s/b1/chunk-0001.zip", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "/"+f.bucket+"/backups/t/s/b1/chunk-0001.zip")
	assert.Contains(t, u, "X-Amz-Expires=600")
	assert.Contains(t, u, "X-Amz-Signature=")
}

func TestObjectStore_MissingCredentials(t *testing.T) {
	_, err := NewObjectStoreAdapter(ObjectStoreConfig{Endpoint: "https://s3.amazonaws.com", Region: "us-east-1", Bucket: "b"}, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = NewObjectStoreAdapter(ObjectStoreConfig{Endpoint: "https://s3.amazonaws.com", AccessKey: "a", SecretKey: "b"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bucket")
}

func TestProviderName(t *testing.T) {
	tests := map[string]string{
		"minio.internal:9000":            "MinIO",
		"s3.eu-central-1.wasabisys.com":  "Wasabi",
		"s3.us-west-004.backblazeb2.com": "Backblaze B2",
		"examplebucket.s3.amazonaws.com": "Amazon S3",
		"objects.example.net":            "S3-Compatible",
	}
	for host, want := range tests {
		assert.Equal(t, want, ProviderName(host), host)
	}
}
