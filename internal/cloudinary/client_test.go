package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignExcludesKeyAndFile(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "folder": "sig", "api_key": "key", "file": "x"})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=sig&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUploadSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "data:image/png;base64,AAAA", r.FormValue("file"))
		assert.Equal(t, "signatures", r.FormValue("folder"))
		assert.Equal(t, "100", r.FormValue("timestamp"))
		assert.NotEmpty(t, r.FormValue("signature"))
		_, _ = w.Write([]byte(`{"public_id":"signatures/abc","secure_url":"https://res.cloudinary.com/demo/abc.png"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "signatures")
	c.Endpoint = srv.URL
	c.now = func() time.Time { return time.Unix(100, 0) }

	url, err := c.UploadSignature(context.Background(), "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/abc.png", url)
}

func TestUploadFailures(t *testing.T) {
	_, err := New("", "", "", "").UploadBase64(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := New("demo", "key", "secret", "")
	c.Endpoint = srv.URL
	_, err = c.UploadBase64(context.Background(), "data:image/png;base64,AAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload failed (401)")
}
