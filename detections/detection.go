package detections

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/aicamera/circle-detection-service/models"

	"go.uber.org/zap"
)

// Detector turns one frame into circles in the frame's pixel space.
type Detector interface {
	Detect(img image.Image, timings *models.ProcessingTimings) ([]models.Circle, error)
	Close() error
}

// Config is fixed once a Pipeline is built.
type Config struct {
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
	ClassNames    []string
}

func DefaultConfig() Config {
	return Config{
		InputSize:     DefaultInputSize,
		ConfThreshold: DefaultConfThreshold,
		NMSThreshold:  DefaultNMSThreshold,
		ClassNames:    append([]string(nil), DefaultClassNames...),
	}
}

func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", c.ConfThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold %v outside [0,1]", c.NMSThreshold)
	}
	if len(c.ClassNames) == 0 {
		return errors.New("class names must not be empty")
	}
	return nil
}

// Pipeline is the engine-backed Detector. It owns its engine handle and
// keeps no state between calls, so one Pipeline may serve one goroutine at a
// time per engine session. Close waits for an in-flight Detect.
type Pipeline struct {
	mu         sync.RWMutex
	engine     Engine
	cfg        Config
	encoder    *TensorEncoder
	decoder    *OutputDecoder
	inputName  string
	outputName string
	log        *zap.Logger
}

func NewPipeline(engine Engine, cfg Config, log *zap.Logger) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if engine == nil {
		return nil, newError(ErrModelLoad, nil, "no inference engine")
	}
	inputs := engine.InputNames()
	if len(inputs) == 0 {
		return nil, newError(ErrModelLoad, nil, "model declares no inputs")
	}
	outputs := engine.OutputNames()

	cfg.ClassNames = append([]string(nil), cfg.ClassNames...)
	p := &Pipeline{
		engine:    engine,
		cfg:       cfg,
		encoder:   NewTensorEncoder(cfg.InputSize),
		decoder:   NewOutputDecoder(cfg.ClassNames, cfg.ConfThreshold, log),
		inputName: inputs[0],
		log:       log,
	}
	if len(outputs) > 0 {
		p.outputName = outputs[0]
	}

	log.Info("model loaded",
		zap.Strings("inputs", inputs),
		zap.Strings("outputs", outputs),
		zap.Int("input_size", cfg.InputSize),
		zap.Strings("classes", cfg.ClassNames))
	return p, nil
}

func (p *Pipeline) Config() Config {
	cfg := p.cfg
	cfg.ClassNames = append([]string(nil), p.cfg.ClassNames...)
	return cfg
}

// Detect runs letterbox, encode, inference, decode, suppression and remap.
// On failure it returns an empty slice together with the error; the
// pipeline stays usable.
func (p *Pipeline) Detect(img image.Image, timings *models.ProcessingTimings) ([]models.Circle, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	start := time.Now()
	defer func() { timings.Total = time.Since(start) }()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.engine == nil {
		return []models.Circle{}, newError(ErrInference, nil, "pipeline closed")
	}
	if img == nil {
		return []models.Circle{}, newError(ErrEncoding, nil, "nil frame")
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return []models.Circle{}, newError(ErrEncoding, nil, "zero-size frame %dx%d", b.Dx(), b.Dy())
	}

	letterboxStart := time.Now()
	lb := Letterbox(img, p.cfg.InputSize)
	timings.Letterbox = time.Since(letterboxStart)

	prepStart := time.Now()
	data, err := p.encoder.Encode(lb.Image)
	if err != nil {
		return []models.Circle{}, err
	}
	timings.Preprocess = time.Since(prepStart)
	p.log.Debug("input tensor", zap.Int64s("shape", p.encoder.Shape()))

	inferStart := time.Now()
	outputs, err := p.engine.Run(map[string]Tensor{
		p.inputName: {Shape: p.encoder.Shape(), Data: data},
	})
	if err != nil {
		if errors.Is(err, ErrInference) {
			return []models.Circle{}, err
		}
		return []models.Circle{}, newError(ErrInference, err, "model inference")
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	out, err := p.selectOutput(outputs)
	if err != nil {
		return []models.Circle{}, err
	}
	candidates, err := p.decoder.Decode(out)
	if err != nil {
		return []models.Circle{}, err
	}
	timings.Postprocess = time.Since(postStart)

	nmsStart := time.Now()
	kept := NonMaxSuppression(candidates, p.cfg.NMSThreshold)
	timings.Suppression = time.Since(nmsStart)
	p.log.Debug("suppression", zap.Int("candidates", len(candidates)), zap.Int("kept", len(kept)))

	remapStart := time.Now()
	circles := make([]models.Circle, 0, len(kept))
	for _, det := range kept {
		circles = append(circles, ToCircle(det, lb, p.cfg.ClassNames))
	}
	timings.Remap = time.Since(remapStart)

	return circles, nil
}

// selectOutput prefers the first declared output and falls back to whatever
// the engine returned.
func (p *Pipeline) selectOutput(outputs map[string]Tensor) (Tensor, error) {
	if out, ok := outputs[p.outputName]; ok && p.outputName != "" {
		return out, nil
	}
	for _, out := range outputs {
		return out, nil
	}
	return Tensor{}, newError(ErrDecode, nil, "engine returned no output")
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return nil
	}
	err := p.engine.Destroy()
	p.engine = nil
	return err
}
