// internal/netimport/importer_test.go
package netimport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImporter_Image(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/photos/cat.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBytes)
	})
	srv := newTestServer(t, mux)
	im := NewImporter(testPolicy(t), WithImportResolver(srv.resolver))

	img, err := im.Import(context.Background(), srv.url("images.test", "/photos/cat.png"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, "cat.png", img.Filename)
	assert.Equal(t, srv.url("images.test", "/photos/cat.png"), img.Source)
}

func TestImporter_PageHost(t *testing.T) {
	var srv *testServer
	mux := http.NewServeMux()
	mux.HandleFunc("/pin/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html><body><div><img alt="logo"><img src="%s"></div>
			<img src="/other.png"></body></html>`, srv.url("images.test", "/originals/cat.png"))
	})
	mux.HandleFunc("/pin/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><img src="http://localhost/cat.png"></body></html>`))
	})
	mux.HandleFunc("/pin/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	})
	mux.HandleFunc("/originals/cat.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	srv = newTestServer(t, mux)
	im := NewImporter(testPolicy(t), WithImportResolver(srv.resolver))
	ctx := context.Background()

	img, err := im.Import(ctx, srv.url("pins.test", "/pin/1"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, "cat.png", img.Filename)
	assert.Equal(t, srv.url("images.test", "/originals/cat.png"), img.Source)

	_, err = im.Import(ctx, srv.url("pins.test", "/pin/2"))
	assert.ErrorIs(t, err, ErrLoopbackBlocked)

	_, err = im.Import(ctx, srv.url("pins.test", "/pin/3"))
	assert.ErrorIs(t, err, ErrNoPageImage)
}

func TestImporter_RejectsBeforeFetching(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { hits++ })
	srv := newTestServer(t, mux)
	im := NewImporter(testPolicy(t), WithImportResolver(srv.resolver))

	for _, raw := range []string{
		"ftp://images.test/cat.png",
		fmt.Sprintf("http://127.0.0.1:%s/cat.png", srv.port),
		fmt.Sprintf("http://localhost:%s/cat.png", srv.port),
		"http://unknown.test/cat.png",
	} {
		_, err := im.Import(context.Background(), raw)
		assert.True(t, IsRejected(err), raw)
	}
	assert.Zero(t, hits)
	assert.NotNil(t, im.Guard())
}

func TestImporter_RateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cat.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	srv := newTestServer(t, mux)
	policy := testPolicy(t)
	policy.RatePerSecond = 0.001
	policy.Burst = 1
	im := NewImporter(policy, WithImportResolver(srv.resolver))

	_, err := im.Import(context.Background(), srv.url("images.test", "/cat.png"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = im.Import(ctx, srv.url("images.test", "/cat.png"))
	assert.Error(t, err)
}

func TestPageImage(t *testing.T) {
	base, err := url.Parse("https://www.pins.test/pin/42/")
	require.NoError(t, err)

	tests := []struct {
		name    string
		html    string
		want    string
		wantErr error
	}{
		{"first image", `<img src="https://i.pins.test/a.jpg"><img src="https://i.pins.test/b.jpg">`, "https://i.pins.test/a.jpg", nil},
		{"nested in document order", `<div><span><img src="/deep.png"></span></div><img src="/shallow.png">`, "https://www.pins.test/deep.png", nil},
		{"relative", `<img src="thumb.png">`, "https://www.pins.test/pin/42/thumb.png", nil},
		{"skips empty src", `<img><img src="  "><img src="x.gif">`, "https://www.pins.test/pin/42/x.gif", nil},
		{"none", `<p>text</p>`, "", ErrNoPageImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := pageImage([]byte(tt.html), base)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestImageFormat(t *testing.T) {
	tests := []struct {
		contentType string
		body        []byte
		path        string
		want        string
	}{
		{"", pngBytes, "/x", "png"},
		{"", []byte("\xff\xd8\xff\xe0rest"), "/x", "jpg"},
		{"", []byte("GIF89a......"), "/x", "gif"},
		{"image/webp", []byte("unknown"), "/x", "webp"},
		{"image/jpeg; charset=binary", []byte("unknown"), "/x", "jpg"},
		{"", []byte("unknown"), "/photo.JPEG", "jpg"},
		{"", []byte("unknown"), "/photo.avif", "avif"},
		{"", []byte("unknown"), "/", "png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, imageFormat(tt.contentType, tt.body, tt.path), "%s %s", tt.contentType, tt.path)
	}
}
