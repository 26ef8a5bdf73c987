package detections

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/aicamera/circle-detection-service/models"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackDetector(t *testing.T) {
	var d Detector = NewFallbackDetector()
	defer d.Close()

	circles, err := d.Detect(imaging.New(1000, 500, color.Black), &models.ProcessingTimings{})
	require.NoError(t, err)
	assert.Equal(t, []models.Circle{
		{CX: 300, CY: 200, R: 50, Confidence: 0.85, ClassName: "ROI"},
		{CX: 700, CY: 300, R: 30, Confidence: 0.92, ClassName: "RedCenter"},
	}, circles)

	circles, err = d.Detect(nil, nil)
	assert.True(t, errors.Is(err, ErrEncoding))
	assert.Empty(t, circles)
}

func TestSelfTest(t *testing.T) {
	t.Run("fallback", func(t *testing.T) {
		n, err := SelfTest(NewFallbackDetector(), 320)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("pipeline on empty output", func(t *testing.T) {
		p, err := NewPipeline(newFakeEngine(featuresFirstTensor(6, 2100)), DefaultConfig(), nil)
		require.NoError(t, err)
		n, err := SelfTest(p, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("engine failure", func(t *testing.T) {
		engine := newFakeEngine(Tensor{})
		engine.err = errors.New("boom")
		p, err := NewPipeline(engine, DefaultConfig(), nil)
		require.NoError(t, err)
		_, err = SelfTest(p, 320)
		assert.True(t, errors.Is(err, ErrInference))
	})

	t.Run("nil detector", func(t *testing.T) {
		_, err := SelfTest(nil, 320)
		assert.True(t, errors.Is(err, ErrModelLoad))
	})
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 30))))

	img, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())

	_, err = DecodeImage([]byte("not an image"))
	assert.True(t, errors.Is(err, ErrEncoding))

	_, err = DecodeImage(nil)
	assert.True(t, errors.Is(err, ErrEncoding))
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("disk gone")
	err := newError(ErrModelLoad, cause, "open %q", "model.onnx")

	assert.True(t, errors.Is(err, ErrModelLoad))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrDecode))
	assert.Equal(t, `model load failed: open "model.onnx": disk gone`, err.Error())

	var perr *ProcessingError
	require.True(t, errors.As(error(err), &perr))
	assert.Equal(t, ErrModelLoad, perr.Kind)
}
