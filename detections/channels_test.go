package detections

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorEncoderPlanarOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{R: 0, G: 0, B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 51, G: 102, B: 204, A: 255})

	enc := NewTensorEncoder(2)
	data, err := enc.Encode(img)
	require.NoError(t, err)
	require.Len(t, data, 12)

	assert.Equal(t, []int64{1, 3, 2, 2}, enc.Shape())
	assert.InDeltaSlice(t, []float32{1, 0, 0, 0.2}, data[0:4], 1e-6, "red plane")
	assert.InDeltaSlice(t, []float32{0, 1, 0, 0.4}, data[4:8], 1e-6, "green plane")
	assert.InDeltaSlice(t, []float32{0, 0, 1, 0.8}, data[8:12], 1e-6, "blue plane")
}

func TestTensorEncoderIgnoresAlpha(t *testing.T) {
	t.Run("nrgba", func(t *testing.T) {
		img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 51, B: 0, A: 0})

		data, err := NewTensorEncoder(1).Encode(img)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{1, 0.2, 0}, data, 1e-6)
	})

	t.Run("premultiplied rgba", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))
		img.SetRGBA(0, 0, color.RGBA{R: 128, G: 0, B: 0, A: 128})

		data, err := NewTensorEncoder(1).Encode(img)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, data[0], 1e-6)
		assert.InDelta(t, 0.0, data[1], 1e-6)
		assert.InDelta(t, 0.0, data[2], 1e-6)
	})
}

func TestTensorEncoderPathsAgree(t *testing.T) {
	const size = 64
	nrgba := image.NewNRGBA(image.Rect(0, 0, size, size))
	gray := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8((x*7 + y*3) % 256)
			nrgba.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
			gray.SetGray(x, y, color.Gray{Y: v})
		}
	}

	enc := NewTensorEncoder(size)
	fast, err := enc.Encode(nrgba)
	require.NoError(t, err)
	generic, err := enc.Encode(gray)
	require.NoError(t, err)

	assert.Equal(t, fast, generic)
	assert.InDelta(t, float32((5*7+9*3)%256)/255, fast[9*size+5], 1e-6)
}

func TestTensorEncoderSubImage(t *testing.T) {
	big := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	big.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	sub := big.SubImage(image.Rect(2, 2, 4, 4))

	data, err := NewTensorEncoder(2).Encode(sub)
	require.NoError(t, err)
	assert.Equal(t, float32(1), data[0])
	assert.Equal(t, float32(0), data[1])
}

func TestTensorEncoderRejects(t *testing.T) {
	enc := NewTensorEncoder(4)

	tests := []struct {
		name string
		img  image.Image
	}{
		{"nil", nil},
		{"zero size", image.NewNRGBA(image.Rect(0, 0, 0, 0))},
		{"wrong size", image.NewNRGBA(image.Rect(0, 0, 3, 4))},
		{"short buffer", &image.NRGBA{Pix: make([]uint8, 10), Stride: 16, Rect: image.Rect(0, 0, 4, 4)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := enc.Encode(tt.img)
			assert.Nil(t, data)
			assert.True(t, errors.Is(err, ErrEncoding))
		})
	}
}
