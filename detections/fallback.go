package detections

import (
	"image"
	"time"

	"github.com/aicamera/circle-detection-service/models"
)

// FallbackDetector returns fixed circles placed relative to the frame size.
// It stands in for the model when none is available.
type FallbackDetector struct{}

func NewFallbackDetector() *FallbackDetector {
	return &FallbackDetector{}
}

func (f *FallbackDetector) Detect(img image.Image, timings *models.ProcessingTimings) ([]models.Circle, error) {
	start := time.Now()
	if timings != nil {
		defer func() { timings.Total = time.Since(start) }()
	}

	if img == nil {
		return []models.Circle{}, newError(ErrEncoding, nil, "nil frame")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return []models.Circle{}, newError(ErrEncoding, nil, "zero-size frame %dx%d", b.Dx(), b.Dy())
	}

	w, h := float32(b.Dx()), float32(b.Dy())
	return []models.Circle{
		{CX: w * 0.3, CY: h * 0.4, R: 50, Confidence: 0.85, ClassName: "ROI"},
		{CX: w * 0.7, CY: h * 0.6, R: 30, Confidence: 0.92, ClassName: "RedCenter"},
	}, nil
}

func (f *FallbackDetector) Close() error {
	return nil
}
