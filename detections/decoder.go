package detections

import (
	"math"

	"github.com/aicamera/circle-detection-service/models"

	"go.uber.org/zap"
)

// Layout tells which of the two non-batch output dimensions holds the
// per-anchor features.
type Layout int

const (
	// LayoutFeaturesFirst is [batch, features, anchors].
	LayoutFeaturesFirst Layout = iota
	// LayoutAnchorsFirst is [batch, anchors, features].
	LayoutAnchorsFirst
)

func (l Layout) String() string {
	switch l {
	case LayoutFeaturesFirst:
		return "features-first"
	case LayoutAnchorsFirst:
		return "anchors-first"
	default:
		return "unknown"
	}
}

// DetectLayout treats the larger dimension as the anchor axis. When both
// dimensions are equal the choice is ambiguous; features-first is returned
// and ambiguous is set so the caller can report it.
func DetectLayout(dim1, dim2 int64) (layout Layout, ambiguous bool) {
	switch {
	case dim1 < dim2:
		return LayoutFeaturesFirst, false
	case dim1 > dim2:
		return LayoutAnchorsFirst, false
	default:
		return LayoutFeaturesFirst, true
	}
}

// OutputDecoder turns a raw detection head output into candidates above the
// confidence threshold.
type OutputDecoder struct {
	classNames    []string
	confThreshold float32
	log           *zap.Logger
}

func NewOutputDecoder(classNames []string, confThreshold float32, log *zap.Logger) *OutputDecoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutputDecoder{
		classNames:    classNames,
		confThreshold: confThreshold,
		log:           log,
	}
}

// Decode returns candidates in anchor order. Box values are read as model
// input pixels (xc, yc, w, h).
func (d *OutputDecoder) Decode(out Tensor) ([]models.Detection, error) {
	shape := out.Shape
	if len(shape) < 3 {
		return nil, newError(ErrDecode, nil, "output rank %d, want 3", len(shape))
	}
	for _, dim := range shape[:len(shape)-2] {
		if dim != 1 {
			return nil, newError(ErrDecode, nil, "unsupported output shape %v", shape)
		}
	}

	dim1, dim2 := shape[len(shape)-2], shape[len(shape)-1]
	if dim1 <= 0 || dim2 <= 0 {
		return nil, newError(ErrDecode, nil, "empty output shape %v", shape)
	}
	if int64(len(out.Data)) < dim1*dim2 {
		return nil, newError(ErrDecode, nil, "output holds %d values, shape %v needs %d", len(out.Data), shape, dim1*dim2)
	}

	layout, ambiguous := DetectLayout(dim1, dim2)
	if ambiguous {
		d.log.Warn("ambiguous output layout, decoding features-first", zap.Int64s("shape", shape))
	}
	numFeatures, numAnchors := int(dim1), int(dim2)
	if layout == LayoutAnchorsFirst {
		numFeatures, numAnchors = int(dim2), int(dim1)
	}

	expected := boxFeatures + len(d.classNames)
	if numFeatures != expected {
		d.log.Warn("feature count mismatch",
			zap.Int("expected", expected),
			zap.Int("actual", numFeatures),
			zap.Int("classes", len(d.classNames)))
	}
	numClasses := min(len(d.classNames), numFeatures-boxFeatures)
	if numClasses <= 0 {
		d.log.Warn("output has no class channels", zap.Int64s("shape", shape))
		return []models.Detection{}, nil
	}

	d.log.Debug("decoding output",
		zap.Stringer("layout", layout),
		zap.Int("anchors", numAnchors),
		zap.Int("features", numFeatures))

	at := featureIndexer(layout, numFeatures, numAnchors)
	data := out.Data
	detections := make([]models.Detection, 0, 64)

	for i := 0; i < numAnchors; i++ {
		maxScore, classID := float32(0), -1
		for c := 0; c < numClasses; c++ {
			score := data[at(i, boxFeatures+c)]
			if !isFinite(score) {
				continue
			}
			if classID < 0 || score > maxScore {
				maxScore = score
				classID = c
			}
		}
		if classID < 0 || !(maxScore >= d.confThreshold) {
			continue
		}

		xc := data[at(i, 0)]
		yc := data[at(i, 1)]
		w := data[at(i, 2)]
		h := data[at(i, 3)]
		if !isFinite(xc) || !isFinite(yc) || !isFinite(w) || !isFinite(h) {
			continue
		}
		detections = append(detections, models.Detection{
			BBox:       [4]float32{xc - w/2, yc - h/2, xc + w/2, yc + h/2},
			Confidence: maxScore,
			ClassID:    classID,
		})
	}

	d.log.Debug("confidence filter", zap.Int("candidates", len(detections)))
	return detections, nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// featureIndexer maps (anchor, feature) to a flat index for the layout.
func featureIndexer(layout Layout, numFeatures, numAnchors int) func(anchor, feature int) int {
	if layout == LayoutAnchorsFirst {
		return func(anchor, feature int) int { return anchor*numFeatures + feature }
	}
	return func(anchor, feature int) int { return feature*numAnchors + anchor }
}
