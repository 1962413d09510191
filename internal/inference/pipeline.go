package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrModelNotReady = errors.New("model not loaded")
	ErrDecode        = errors.New("failed to decode image")
	ErrInference     = errors.New("inference failed")
)

// Classifier runs one forward pass over an NHWC input tensor and returns the
// per-class scores. Implementations must not retain input after returning.
type Classifier interface {
	Predict(ctx context.Context, input *Tensor) ([]float32, error)
}

// DefaultMaxPixels bounds the decoded size of an upload, width times height.
const DefaultMaxPixels = 50_000_000

type Pipeline struct {
	inputSize int
	maxPixels int
	tensors   *tensorPool
	logger    *zap.Logger
}

type PipelineOption func(*Pipeline)

// WithMaxPixels rejects images whose header declares more than n pixels before
// any pixel memory is allocated. n <= 0 keeps the default.
func WithMaxPixels(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

func NewPipeline(inputSize int, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		inputSize: inputSize,
		maxPixels: DefaultMaxPixels,
		tensors:   newTensorPool(inputSize),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) InputSize() int {
	return p.inputSize
}

// Run decodes data, prepares the input tensor and classifies it with c.
func (p *Pipeline) Run(ctx context.Context, c Classifier, data []byte) (Prediction, error) {
	if c == nil {
		return Prediction{}, ErrModelNotReady
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.maxPixels) {
		return Prediction{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	p.logger.Debug("decoded image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	input, err := p.Prepare(img)
	if err != nil {
		return Prediction{}, err
	}
	defer input.Release()

	scores, err := c.Predict(ctx, input)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	pred, err := Predict(scores)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return pred, nil
}

// Prepare resizes img to the model input and returns a pooled (1, H, W, 3) tensor.
// Callers release it when done.
func (p *Pipeline) Prepare(img image.Image) (*Tensor, error) {
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	t := p.tensors.acquire()
	fillNearest(t, img, p.inputSize)
	return t, nil
}
