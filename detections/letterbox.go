package detections

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// LetterboxResult holds the padded model input together with the transform
// needed to map model coordinates back onto the source frame.
type LetterboxResult struct {
	Image *image.NRGBA
	Scale float32
	PadX  float32
	PadY  float32
}

// Letterbox scales img uniformly to fit a size x size black canvas and
// centers it. A nil or empty image yields a black canvas with identity
// transform.
func Letterbox(img image.Image, size int) LetterboxResult {
	canvas := imaging.New(size, size, color.Black)
	if img == nil {
		return LetterboxResult{Image: canvas, Scale: 1}
	}

	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		return LetterboxResult{Image: canvas, Scale: 1}
	}

	target := float64(size)
	scale := math.Min(target/float64(srcW), target/float64(srcH))
	newW := float64(srcW) * scale
	newH := float64(srcH) * scale
	padX := math.Max(0, (target-newW)/2)
	padY := math.Max(0, (target-newH)/2)

	// The raster is snapped to whole pixels; the recorded transform keeps the
	// exact fractional values.
	rw := clampInt(int(math.Round(newW)), 1, size)
	rh := clampInt(int(math.Round(newH)), 1, size)
	resized := imaging.Resize(img, rw, rh, imaging.Linear)
	at := image.Pt(
		clampInt(int(math.Round(padX)), 0, size-rw),
		clampInt(int(math.Round(padY)), 0, size-rh),
	)

	return LetterboxResult{
		Image: imaging.Paste(canvas, resized, at),
		Scale: float32(scale),
		PadX:  float32(padX),
		PadY:  float32(padY),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
