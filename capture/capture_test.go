package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aicamera/circle-detection-service/detections"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 64, 48), 0o600))

	img, err := NewFileSource(path).Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.png")).Frame(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileSource(path).Frame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotSource(t *testing.T) {
	frame := pngBytes(t, 32, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "viewer" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/snap.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(frame)
		default:
			w.Write([]byte("not an image"))
		}
	}))
	defer srv.Close()

	opts := SnapshotOptions{Username: "viewer", Password: "secret"}

	t.Run("ok", func(t *testing.T) {
		src, err := NewSnapshotSource(srv.URL+"/snap.png", opts)
		require.NoError(t, err)
		img, err := src.Frame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 32, img.Bounds().Dx())
	})

	t.Run("unauthorized", func(t *testing.T) {
		src, err := NewSnapshotSource(srv.URL+"/snap.png", SnapshotOptions{})
		require.NoError(t, err)
		_, err = src.Frame(context.Background())
		assert.Error(t, err)
	})

	t.Run("undecodable", func(t *testing.T) {
		src, err := NewSnapshotSource(srv.URL+"/other", opts)
		require.NoError(t, err)
		_, err = src.Frame(context.Background())
		assert.True(t, errors.Is(err, detections.ErrEncoding))
	})

	t.Run("no url", func(t *testing.T) {
		_, err := NewSnapshotSource("", opts)
		assert.ErrorIs(t, err, ErrNoSource)
	})
}
