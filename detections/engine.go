package detections

// Tensor is a dense float32 tensor exchanged with an Engine.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Engine runs forward passes of a loaded model. Implementations must allow
// concurrent Run calls if the same handle is shared between goroutines.
type Engine interface {
	InputNames() []string
	OutputNames() []string
	Run(inputs map[string]Tensor) (map[string]Tensor, error)
	Destroy() error
}
