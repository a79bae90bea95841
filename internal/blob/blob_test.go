package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyKeepsBaseName(t *testing.T) {
	key := Key("uploads", `C:\photos\cat.png`)
	require.True(t, strings.HasPrefix(key, "uploads/"))
	require.True(t, strings.HasSuffix(key, "-cat.png"))

	require.True(t, strings.HasSuffix(Key("images", ""), "-file"))
}

func TestMemoryStore(t *testing.T) {
	mem := NewMemory("http://localhost:8080/files/")
	obj, err := mem.Put(context.Background(), "uploads/a.pdf", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, Object{URL: "http://localhost:8080/files/uploads/a.pdf", Pathname: "uploads/a.pdf", ContentType: "application/pdf", Size: 4}, obj)

	data, contentType, ok := mem.Get("uploads/a.pdf")
	require.True(t, ok)
	require.Equal(t, "application/pdf", contentType)
	require.Equal(t, []byte("%PDF"), data)

	_, _, ok = mem.Get("missing")
	require.False(t, ok)
}

func TestNewMinioRequiresBucket(t *testing.T) {
	_, err := NewMinio(MinioConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

func TestMinioObjectURL(t *testing.T) {
	store, err := NewMinio(MinioConfig{Endpoint: "files.example.com", Bucket: "assistant", UseSSL: true})
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/assistant/images/a%20b.png", store.objectURL("images/a b.png"))

	custom, err := NewMinio(MinioConfig{Endpoint: "minio:9000", Bucket: "assistant", PublicURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/assistant/x.png", custom.objectURL("x.png"))
}

func TestMinioPutObject(t *testing.T) {
	var mu sync.Mutex
	var seenPath, seenType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		mu.Lock()
		seenPath = r.URL.Path
		seenType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewMinio(MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "assistant",
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "images/cat.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "images/cat.png", obj.Pathname)
	require.Equal(t, srv.URL+"/assistant/images/cat.png", obj.URL)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/assistant/images/cat.png", seenPath)
	require.Equal(t, "image/png", seenType)
}
