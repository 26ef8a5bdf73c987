package detections

import (
	"image/color"
	"testing"

	"github.com/aicamera/circle-detection-service/models"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
)

func TestToCircle(t *testing.T) {
	lb := Letterbox(imaging.New(640, 360, color.White), 320)
	det := models.Detection{BBox: [4]float32{100, 100, 140, 140}, Confidence: 0.93, ClassID: 1}

	c := ToCircle(det, lb, DefaultClassNames)
	assert.InDelta(t, 240, c.CX, 1e-3)
	assert.InDelta(t, 100, c.CY, 1e-3)
	assert.InDelta(t, 40, c.R, 1e-3)
	assert.Equal(t, float32(0.93), c.Confidence)
	assert.Equal(t, "RedCenter", c.ClassName)
}

func TestToCircleRadiusUsesLongerSide(t *testing.T) {
	identity := LetterboxResult{Scale: 1}
	c := ToCircle(models.Detection{BBox: [4]float32{0, 0, 10, 30}}, identity, DefaultClassNames)
	assert.Equal(t, float32(15), c.R)
	assert.Equal(t, float32(5), c.CX)
	assert.Equal(t, float32(15), c.CY)
}

func TestToCircleUnknownClass(t *testing.T) {
	identity := LetterboxResult{Scale: 1}
	for _, id := range []int{-1, 2, 99} {
		c := ToCircle(models.Detection{BBox: [4]float32{0, 0, 2, 2}, ClassID: id}, identity, DefaultClassNames)
		assert.Equal(t, UnknownClassName, c.ClassName, "class %d", id)
	}
}

func TestToCircleRoundTrip(t *testing.T) {
	sizes := [][2]int{{1000, 700}, {640, 360}, {333, 777}, {1920, 1080}}
	for _, s := range sizes {
		lb := Letterbox(imaging.New(s[0], s[1], color.Black), 320)
		cx, cy, r := float32(s[0])*0.4, float32(s[1])*0.55, float32(25)

		mx := cx*lb.Scale + lb.PadX
		my := cy*lb.Scale + lb.PadY
		mr := r * lb.Scale
		det := models.Detection{BBox: [4]float32{mx - mr, my - mr, mx + mr, my + mr}}

		got := ToCircle(det, lb, DefaultClassNames)
		assert.InDelta(t, cx, got.CX, 1e-3, "%v", s)
		assert.InDelta(t, cy, got.CY, 1e-3, "%v", s)
		assert.InDelta(t, r, got.R, 1e-3, "%v", s)
	}
}
