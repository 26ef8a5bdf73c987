package detections

import (
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"
)

// SelfTest pushes one black size x size frame through d and returns how many
// circles came back. Any count is a pass; only an error fails the test.
func SelfTest(d Detector, size int) (int, error) {
	if d == nil {
		return 0, newError(ErrModelLoad, nil, "no detector")
	}
	if size <= 0 {
		size = DefaultInputSize
	}
	circles, err := d.Detect(imaging.New(size, size, color.Black), nil)
	if err != nil {
		return 0, fmt.Errorf("self test: %w", err)
	}
	return len(circles), nil
}
