package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/aicamera/circle-detection-service/detections"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
)

// ErrNoSource is returned when no frame source has been configured.
var ErrNoSource = errors.New("no frame source configured")

// Source yields one still frame per call.
type Source interface {
	Frame(ctx context.Context) (image.Image, error)
}

type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(s.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open frame %q: %w", s.Path, err)
	}
	return img, nil
}

type SnapshotOptions struct {
	Username string
	Password string
	Timeout  time.Duration
}

// SnapshotSource fetches a still JPEG/PNG from a camera's HTTP snapshot
// endpoint. Each Frame call makes exactly one request.
type SnapshotSource struct {
	url    string
	client *resty.Client
}

func NewSnapshotSource(url string, opts SnapshotOptions) (*SnapshotSource, error) {
	if url == "" {
		return nil, ErrNoSource
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	if opts.Username != "" {
		client.SetBasicAuth(opts.Username, opts.Password)
	}
	return &SnapshotSource{url: url, client: client}, nil
}

func (s *SnapshotSource) Frame(ctx context.Context) (image.Image, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "image/jpeg, image/png").
		Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("snapshot request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot request: server returned %s", resp.Status())
	}
	return detections.DecodeImage(resp.Body())
}
