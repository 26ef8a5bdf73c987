package detections

import (
	"sort"

	"github.com/aicamera/circle-detection-service/models"
)

// NonMaxSuppression keeps the most confident box of every overlapping group.
// Classes are not partitioned. Equal confidences keep their input order. The
// input slice is left untouched.
func NonMaxSuppression(detections []models.Detection, threshold float32) []models.Detection {
	if len(detections) == 0 {
		return []models.Detection{}
	}

	sorted := append([]models.Detection(nil), detections...)
	sortDetectionsByConfidence(sorted)

	kept := make([]models.Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && IoU(sorted[i], sorted[j]) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func IoU(a, b models.Detection) float32 {
	x1 := max(a.BBox[0], b.BBox[0])
	y1 := max(a.BBox[1], b.BBox[1])
	x2 := min(a.BBox[2], b.BBox[2])
	y2 := min(a.BBox[3], b.BBox[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (a.BBox[2] - a.BBox[0]) * (a.BBox[3] - a.BBox[1])
	area2 := (b.BBox[2] - b.BBox[0]) * (b.BBox[3] - b.BBox[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
