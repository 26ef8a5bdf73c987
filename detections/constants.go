package detections

const (
	DefaultInputSize     = 320
	DefaultConfThreshold = 0.1
	DefaultNMSThreshold  = 0.48
	UnknownClassName     = "Unknown"

	// boxFeatures is the number of geometry channels (xc, yc, w, h) ahead of
	// the class scores in every anchor.
	boxFeatures = 4
	channels    = 3
)

// DefaultClassNames is indexed by class id.
var DefaultClassNames = []string{"ROI", "RedCenter"}
