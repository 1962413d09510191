package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrServerClosed is returned by Predict once the session has been destroyed.
var ErrServerClosed = errors.New("model server closed")

var (
	envMu   sync.Mutex
	envRefs int
)

// initEnvironment starts the ONNX Runtime environment on first use. lib, when set,
// points at the onnxruntime shared library.
func initEnvironment(lib string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		ort.DestroyEnvironment()
	}
}

// Options tune how a Source is bound to an ONNX session.
type Options struct {
	RuntimeLibrary string
	InputSize      int
	// Softmax applies a softmax to the output unless the manifest names an activation.
	Softmax bool
}

// Server owns one ONNX Runtime session. Predict is safe for concurrent use but runs
// one forward pass at a time.
type Server struct {
	mu       sync.Mutex
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
}

func NewServer(src Source, opts Options) (*Server, error) {
	if err := initEnvironment(opts.RuntimeLibrary); err != nil {
		return nil, err
	}

	metadata, err := resolveMetadata(src, opts)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(src.Graph,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:  session,
		Metadata: metadata,
	}, nil
}

func resolveMetadata(src Source, opts Options) (Metadata, error) {
	m := Metadata{
		InputName:   src.Manifest.InputName,
		OutputName:  src.Manifest.OutputName,
		InputShape:  src.Manifest.InputShape,
		OutputShape: src.Manifest.OutputShape,
	}
	switch src.Manifest.Activation {
	case ActivationSoftmax:
		m.Softmax = true
	case ActivationNone:
	default:
		m.Softmax = opts.Softmax
	}

	if m.InputName == "" || m.OutputName == "" || len(m.InputShape) == 0 || len(m.OutputShape) == 0 {
		inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(src.Graph)
		if err != nil {
			return m, fmt.Errorf("failed to read model inputs and outputs: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return m, fmt.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs))
		}
		if m.InputName == "" {
			m.InputName = inputs[0].Name
		}
		if m.OutputName == "" {
			m.OutputName = outputs[0].Name
		}
		if len(m.InputShape) == 0 {
			m.InputShape = []int64(inputs[0].Dimensions)
		}
		if len(m.OutputShape) == 0 {
			m.OutputShape = []int64(outputs[0].Dimensions)
		}
	}

	m.InputShape = concreteShape(m.InputShape, opts.InputSize)
	m.OutputShape = concreteShape(m.OutputShape, 1)
	if len(m.InputShape) != 4 {
		return m, fmt.Errorf("model input must be 4-D, got %v", m.InputShape)
	}
	m.ChannelsFirst = m.InputShape[1] == 3 && m.InputShape[3] != 3
	h, w := m.InputShape[1], m.InputShape[2]
	if m.ChannelsFirst {
		h, w = m.InputShape[2], m.InputShape[3]
	}
	if opts.InputSize > 0 && (h != int64(opts.InputSize) || w != int64(opts.InputSize)) {
		return m, fmt.Errorf("model expects %dx%d input, pipeline produces %dx%d", w, h, opts.InputSize, opts.InputSize)
	}
	return m, nil
}

// concreteShape replaces symbolic dimensions: the batch axis becomes 1, the rest fill.
func concreteShape(shape []int64, fill int) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		switch {
		case d > 0:
			out[i] = d
		case i == 0:
			out[i] = 1
		default:
			out[i] = int64(fill)
		}
	}
	return out
}

// Predict runs one forward pass. input is (1, H, W, 3); it is transposed when the
// graph expects channels first. Every tensor created here is destroyed before return.
func (s *Server) Predict(ctx context.Context, input *inference.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed() {
		return nil, ErrServerClosed
	}

	data := input.Data
	if s.Metadata.ChannelsFirst {
		data = toNCHW(input)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(s.Metadata.InputShape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	err = s.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor})
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := append([]float32(nil), outputTensor.GetData()...)
	if s.Metadata.Softmax {
		inference.Softmax(scores)
	}
	return scores, nil
}

func toNCHW(t *inference.Tensor) []float32 {
	h, w := int(t.Shape[1]), int(t.Shape[2])
	plane := h * w
	out := make([]float32, len(t.Data))
	for i := 0; i < plane; i++ {
		out[i] = t.Data[i*3]
		out[plane+i] = t.Data[i*3+1]
		out[2*plane+i] = t.Data[i*3+2]
	}
	return out
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	releaseEnvironment()
	return err
}
