package detections

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// DecodeImage decodes an encoded frame, applying EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, newError(ErrEncoding, nil, "empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, newError(ErrEncoding, err, "decode image")
	}
	return img, nil
}
