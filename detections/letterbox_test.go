package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterbox(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		size          int
		wantScale     float32
		wantPadX      float32
		wantPadY      float32
	}{
		{"landscape", 640, 360, 320, 0.5, 0, 70},
		{"portrait", 100, 400, 320, 0.8, 120, 0},
		{"square", 160, 160, 320, 2, 0, 0},
		{"fractional", 1000, 700, 320, 0.32, 0, 48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := imaging.New(tt.width, tt.height, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
			lb := Letterbox(src, tt.size)

			require.NotNil(t, lb.Image)
			assert.Equal(t, image.Rect(0, 0, tt.size, tt.size), lb.Image.Bounds())
			assert.InDelta(t, tt.wantScale, lb.Scale, 1e-5)
			assert.InDelta(t, tt.wantPadX, lb.PadX, 1e-3)
			assert.InDelta(t, tt.wantPadY, lb.PadY, 1e-3)
			assert.GreaterOrEqual(t, lb.PadX, float32(0))
			assert.GreaterOrEqual(t, lb.PadY, float32(0))
			assert.True(t, lb.PadX < 1e-3 || lb.PadY < 1e-3, "one pad must be zero")
		})
	}
}

func TestLetterboxContent(t *testing.T) {
	fill := color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	lb := Letterbox(imaging.New(640, 360, fill), 320)

	assert.Equal(t, color.NRGBA{A: 255}, lb.Image.NRGBAAt(160, 10), "top pad is black")
	assert.Equal(t, color.NRGBA{A: 255}, lb.Image.NRGBAAt(160, 310), "bottom pad is black")
	assert.Equal(t, fill, lb.Image.NRGBAAt(160, 160))
}

func TestLetterboxDegenerate(t *testing.T) {
	t.Run("nil image", func(t *testing.T) {
		lb := Letterbox(nil, 320)
		require.NotNil(t, lb.Image)
		assert.Equal(t, 320, lb.Image.Bounds().Dx())
		assert.Equal(t, float32(1), lb.Scale)
		assert.Zero(t, lb.PadX)
		assert.Zero(t, lb.PadY)
	})

	t.Run("zero size", func(t *testing.T) {
		lb := Letterbox(image.NewRGBA(image.Rect(0, 0, 0, 0)), 64)
		require.NotNil(t, lb.Image)
		assert.Equal(t, image.Rect(0, 0, 64, 64), lb.Image.Bounds())
		assert.Equal(t, float32(1), lb.Scale)
		assert.Equal(t, color.NRGBA{A: 255}, lb.Image.NRGBAAt(32, 32))
	})
}
