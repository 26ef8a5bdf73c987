package detections

import (
	"image"
	"image/color"
	"sync"
)

// TensorEncoder converts a letterboxed frame into the planar RGB float
// buffer the model was trained with: all red values, then green, then blue,
// each byte divided by 255.
type TensorEncoder struct {
	size        int
	channelSize int
	numWorkers  int
}

func NewTensorEncoder(size int) *TensorEncoder {
	return &TensorEncoder{
		size:        size,
		channelSize: size * size,
		numWorkers:  preprocessWorkers(size),
	}
}

// Shape is the NCHW input shape produced by Encode.
func (e *TensorEncoder) Shape() []int64 {
	return []int64{1, channels, int64(e.size), int64(e.size)}
}

func (e *TensorEncoder) Encode(img image.Image) ([]float32, error) {
	if img == nil {
		return nil, newError(ErrEncoding, nil, "nil image")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, newError(ErrEncoding, nil, "zero-size image %dx%d", bounds.Dx(), bounds.Dy())
	}
	if bounds.Dx() != e.size || bounds.Dy() != e.size {
		return nil, newError(ErrEncoding, nil, "expected %dx%d input, got %dx%d",
			e.size, e.size, bounds.Dx(), bounds.Dy())
	}

	var row func(buffer []float32, y int)
	switch pic := img.(type) {
	case *image.NRGBA:
		if !pixelsComplete(len(pic.Pix), pic.Stride, e.size) {
			return nil, newError(ErrEncoding, nil, "pixel buffer too short: %d bytes", len(pic.Pix))
		}
		row = func(buffer []float32, y int) { e.packedRow(buffer, pic.Pix[y*pic.Stride:], y) }
	case *image.RGBA:
		if !pixelsComplete(len(pic.Pix), pic.Stride, e.size) {
			return nil, newError(ErrEncoding, nil, "pixel buffer too short: %d bytes", len(pic.Pix))
		}
		row = func(buffer []float32, y int) { e.rgbaRow(buffer, pic, y) }
	default:
		row = func(buffer []float32, y int) { e.genericRow(buffer, img, y) }
	}

	buffer := make([]float32, e.channelSize*channels)
	e.processParallel(buffer, row)
	return buffer, nil
}

func (e *TensorEncoder) processParallel(buffer []float32, row func([]float32, int)) {
	if e.numWorkers <= 1 {
		for y := 0; y < e.size; y++ {
			row(buffer, y)
		}
		return
	}

	rowsPerWorker := e.size / e.numWorkers
	var wg sync.WaitGroup
	wg.Add(e.numWorkers)

	for w := 0; w < e.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == e.numWorkers-1 {
			endRow = e.size
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row(buffer, y)
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// packedRow reads non-premultiplied RGBA bytes; alpha is skipped.
func (e *TensorEncoder) packedRow(buffer []float32, pix []uint8, y int) {
	offset := y * e.size
	for x := 0; x < e.size; x++ {
		i := offset + x
		p := pix[x*4 : x*4+3 : x*4+3]
		buffer[i] = float32(p[0]) / 255.0
		buffer[e.channelSize+i] = float32(p[1]) / 255.0
		buffer[e.channelSize*2+i] = float32(p[2]) / 255.0
	}
}

func (e *TensorEncoder) rgbaRow(buffer []float32, pic *image.RGBA, y int) {
	offset := y * e.size
	origin := pic.Rect.Min
	for x := 0; x < e.size; x++ {
		c := color.NRGBAModel.Convert(pic.RGBAAt(origin.X+x, origin.Y+y)).(color.NRGBA)
		i := offset + x
		buffer[i] = float32(c.R) / 255.0
		buffer[e.channelSize+i] = float32(c.G) / 255.0
		buffer[e.channelSize*2+i] = float32(c.B) / 255.0
	}
}

func (e *TensorEncoder) genericRow(buffer []float32, img image.Image, y int) {
	offset := y * e.size
	origin := img.Bounds().Min
	for x := 0; x < e.size; x++ {
		c := color.NRGBAModel.Convert(img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
		i := offset + x
		buffer[i] = float32(c.R) / 255.0
		buffer[e.channelSize+i] = float32(c.G) / 255.0
		buffer[e.channelSize*2+i] = float32(c.B) / 255.0
	}
}

func pixelsComplete(n, stride, size int) bool {
	return stride >= size*4 && n >= (size-1)*stride+size*4
}
