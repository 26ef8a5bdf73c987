package detections

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

type EngineOptions struct {
	IntraOpThreads int
	InterOpThreads int
}

// OnnxEngine is an Engine backed by an onnxruntime session. Output shapes are
// read back from the runtime on every call.
type OnnxEngine struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// InitializeRuntime loads the onnxruntime shared library once per process.
// An empty libPath keeps the library's default lookup.
func InitializeRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return newError(ErrModelLoad, err, "initialize onnxruntime environment")
	}
	return nil
}

func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func NewOnnxEngine(modelPath string, opts EngineOptions) (*OnnxEngine, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, newError(ErrModelLoad, err, "model file %q", modelPath)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, newError(ErrModelLoad, err, "read model info from %q", modelPath)
	}
	return newOnnxEngine(inputs, outputs, opts, func(in, out []string, options *ort.SessionOptions) (*ort.DynamicAdvancedSession, error) {
		return ort.NewDynamicAdvancedSession(modelPath, in, out, options)
	})
}

func NewOnnxEngineFromBytes(data []byte, opts EngineOptions) (*OnnxEngine, error) {
	if len(data) == 0 {
		return nil, newError(ErrModelLoad, nil, "empty model data")
	}
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, newError(ErrModelLoad, err, "read model info")
	}
	return newOnnxEngine(inputs, outputs, opts, func(in, out []string, options *ort.SessionOptions) (*ort.DynamicAdvancedSession, error) {
		return ort.NewDynamicAdvancedSessionWithONNXData(data, in, out, options)
	})
}

type sessionFactory func(inputNames, outputNames []string, options *ort.SessionOptions) (*ort.DynamicAdvancedSession, error)

func newOnnxEngine(inputs, outputs []ort.InputOutputInfo, opts EngineOptions, create sessionFactory) (*OnnxEngine, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, newError(ErrModelLoad, nil, "model declares %d inputs and %d outputs", len(inputs), len(outputs))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, newError(ErrModelLoad, err, "create session options")
	}
	defer options.Destroy()

	intra, inter := opts.IntraOpThreads, opts.InterOpThreads
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	if inter <= 0 {
		inter = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(intra); err != nil {
		return nil, newError(ErrModelLoad, err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(inter); err != nil {
		return nil, newError(ErrModelLoad, err, "set inter-op threads")
	}

	e := &OnnxEngine{
		inputNames:  infoNames(inputs),
		outputNames: infoNames(outputs),
	}
	e.session, err = create(e.inputNames, e.outputNames, options)
	if err != nil {
		return nil, newError(ErrModelLoad, err, "create session")
	}
	return e, nil
}

func (e *OnnxEngine) InputNames() []string {
	return append([]string(nil), e.inputNames...)
}

func (e *OnnxEngine) OutputNames() []string {
	return append([]string(nil), e.outputNames...)
}

func (e *OnnxEngine) Run(inputs map[string]Tensor) (map[string]Tensor, error) {
	values := make([]ort.Value, len(e.inputNames))
	defer destroyValues(values)

	for i, name := range e.inputNames {
		in, ok := inputs[name]
		if !ok {
			return nil, newError(ErrInference, nil, "missing input %q", name)
		}
		tensor, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			return nil, newError(ErrInference, err, "create input tensor %q", name)
		}
		values[i] = tensor
	}

	// nil outputs are allocated by onnxruntime with the shapes it computes.
	outputs := make([]ort.Value, len(e.outputNames))
	defer destroyValues(outputs)

	if err := e.session.Run(values, outputs); err != nil {
		return nil, newError(ErrInference, err, "run session")
	}

	result := make(map[string]Tensor, len(outputs))
	for i, value := range outputs {
		if value == nil {
			continue
		}
		tensor, ok := value.(*ort.Tensor[float32])
		if !ok {
			return nil, newError(ErrInference, nil, "output %q has unsupported type %T", e.outputNames[i], value)
		}
		result[e.outputNames[i]] = Tensor{
			Shape: append([]int64(nil), tensor.GetShape()...),
			Data:  append([]float32(nil), tensor.GetData()...),
		}
	}
	return result, nil
}

func (e *OnnxEngine) Destroy() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

func infoNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
