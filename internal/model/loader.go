package model

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrLoaderClosed settles a load that finished after the loader was closed.
var ErrLoaderClosed = errors.New("model loader closed")

type State int

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "loading"
	}
}

// BuildFunc deserializes a fetched Source into a runnable classifier.
type BuildFunc func(src Source) (inference.Classifier, error)

// ONNXBuilder binds sources to ONNX Runtime sessions.
func ONNXBuilder(opts Options) BuildFunc {
	return func(src Source) (inference.Classifier, error) {
		return NewServer(src, opts)
	}
}

// SettleFunc is called once when loading finishes; exactly one argument is non-nil.
type SettleFunc func(c inference.Classifier, err error)

// Loader fetches and deserializes the model exactly once and exposes the tri-state
// loading/ready/failed.
type Loader struct {
	url     string
	client  *resty.Client
	build   BuildFunc
	logger  *zap.Logger
	timeout time.Duration

	once    sync.Once
	done    chan struct{}
	mu      sync.RWMutex
	state   State
	model   inference.Classifier
	err     error
	elapsed time.Duration
	settle  []SettleFunc
	closed  bool
}

type LoaderOption func(*Loader)

func WithClient(c *resty.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

func WithBuilder(b BuildFunc) LoaderOption {
	return func(l *Loader) { l.build = b }
}

func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

func NewLoader(url string, opts ...LoaderOption) *Loader {
	l := &Loader{
		url:     url,
		logger:  zap.NewNop(),
		timeout: 2 * time.Minute,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = resty.New().SetTimeout(l.timeout)
	}
	if l.build == nil {
		l.build = ONNXBuilder(Options{})
	}
	return l
}

// OnSettled registers fn to run when loading finishes. If it already has, fn runs
// immediately.
func (l *Loader) OnSettled(fn SettleFunc) {
	l.mu.Lock()
	if l.state == StateLoading {
		l.settle = append(l.settle, fn)
		l.mu.Unlock()
		return
	}
	model, err := l.model, l.err
	l.mu.Unlock()
	fn(model, err)
}

// Start launches the load in the background. Later calls are no-ops.
func (l *Loader) Start(ctx context.Context) {
	l.once.Do(func() {
		go l.run(ctx)
	})
}

func (l *Loader) run(ctx context.Context) {
	start := time.Now()
	l.logger.Info("loading model", zap.String("url", l.url))

	model, err := l.load(ctx)

	var late io.Closer
	l.mu.Lock()
	l.elapsed = time.Since(start)
	switch {
	case err != nil:
		l.state = StateFailed
		l.err = err
	case l.closed:
		// shut down while loading: nobody will close this handle later
		late, _ = model.(io.Closer)
		model, err = nil, ErrLoaderClosed
		l.state = StateFailed
		l.err = err
	default:
		l.state = StateReady
		l.model = model
	}
	settle := l.settle
	l.settle = nil
	l.mu.Unlock()

	if late != nil {
		if cerr := late.Close(); cerr != nil {
			l.logger.Warn("failed to release model loaded after close", zap.Error(cerr))
		}
	}
	close(l.done)

	if err != nil {
		l.logger.Error("error loading model", zap.String("url", l.url), zap.Error(err))
	} else {
		l.logger.Info("model loaded", zap.String("url", l.url), zap.Duration("elapsed", l.elapsed))
	}
	for _, fn := range settle {
		fn(model, err)
	}
}

func (l *Loader) load(ctx context.Context) (inference.Classifier, error) {
	src, err := Fetch(ctx, l.client, l.url)
	if err != nil {
		return nil, err
	}
	model, err := l.build(src)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("model builder returned no model")
	}
	return model, nil
}

// State reports the current loading state with the model or failure, if any.
func (l *Loader) State() (State, inference.Classifier, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state, l.model, l.err
}

// Elapsed is the time the load took; zero while loading.
func (l *Loader) Elapsed() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.elapsed
}

// Done is closed once the load has settled.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// Close releases the loaded model if it holds native resources. A load still in
// flight releases its model itself when it finishes.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if c, ok := l.model.(io.Closer); ok {
		l.model = nil
		return c.Close()
	}
	return nil
}
