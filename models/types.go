package models

import "time"

// Detection is a candidate box in model-input pixel space.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	ClassID    int
}

// Circle is a detected target in original image pixel space.
type Circle struct {
	CX         float32 `json:"cx"`
	CY         float32 `json:"cy"`
	R          float32 `json:"r"`
	Confidence float32 `json:"confidence"`
	ClassName  string  `json:"class_name"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Letterbox   time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Suppression time.Duration
	Remap       time.Duration
	Total       time.Duration
}
