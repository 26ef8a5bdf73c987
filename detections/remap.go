package detections

import "github.com/aicamera/circle-detection-service/models"

// ToCircle maps a model-space box onto the original frame as a circle whose
// radius is half the longer box side.
func ToCircle(det models.Detection, lb LetterboxResult, classNames []string) models.Circle {
	x1, y1, x2, y2 := det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3]
	cx := (x1 + x2) / 2
	cy := (y1 + y2) / 2
	r := max(x2-x1, y2-y1) / 2

	cx -= lb.PadX
	cy -= lb.PadY

	scale := lb.Scale
	if scale <= 0 {
		scale = 1
	}

	return models.Circle{
		CX:         cx / scale,
		CY:         cy / scale,
		R:          r / scale,
		Confidence: det.Confidence,
		ClassName:  className(classNames, det.ClassID),
	}
}

func className(names []string, id int) string {
	if id < 0 || id >= len(names) {
		return UnknownClassName
	}
	return names[id]
}
