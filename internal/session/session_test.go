package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	"github.com/Brownie44l1/skin-analyzer/internal/intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClassifier struct {
	scores []float32
	err    error
	panics bool
}

func (f *fixedClassifier) Predict(context.Context, *inference.Tensor) ([]float32, error) {
	if f.panics {
		panic("native crash")
	}
	return f.scores, f.err
}

// gateClassifier blocks until released so tests can observe the analyzing phase.
type gateClassifier struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateClassifier) Predict(context.Context, *inference.Tensor) ([]float32, error) {
	close(g.entered)
	<-g.release
	return []float32{0, 0, 1}, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *countingRecorder) ObserveInference(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func upload(t *testing.T, c color.RGBA) intake.Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	u, err := intake.Accept("skin.png", "image/png", intake.SourcePicker, buf.Bytes())
	require.NoError(t, err)
	return u
}

func newSession(opts ...Option) *Session {
	return New(inference.NewPipeline(8, nil), opts...)
}

func TestSettle(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := newSession()
		assert.Equal(t, PhaseLoadingModel, s.Snapshot().Phase)
		s.Settle(&fixedClassifier{}, nil)
		assert.Equal(t, PhaseReady, s.Snapshot().Phase)
	})

	t.Run("failed stays failed", func(t *testing.T) {
		s := newSession()
		s.Settle(nil, errors.New("network down"))
		assert.Equal(t, PhaseModelFailed, s.Snapshot().Phase)
		s.Settle(&fixedClassifier{}, nil)
		assert.Equal(t, PhaseModelFailed, s.Snapshot().Phase)
	})
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("model not ready", func(t *testing.T) {
		s := newSession()
		snap, err := s.Analyze(ctx, upload(t, color.RGBA{A: 255}))
		assert.ErrorIs(t, err, inference.ErrModelNotReady)
		assert.Nil(t, snap.Prediction)
		assert.Nil(t, snap.Pending)
		assert.Zero(t, s.previews.len())
	})

	t.Run("success sets label and confidence together", func(t *testing.T) {
		rec := &countingRecorder{}
		s := newSession(WithRecorder(rec))
		s.Settle(&fixedClassifier{scores: []float32{0.1, 0.9, 0.05, 0.2, 0.3, 0.05}}, nil)

		before := s.Snapshot()
		assert.Nil(t, before.Prediction)
		assert.Nil(t, before.Preview)

		snap, err := s.Analyze(ctx, upload(t, color.RGBA{R: 200, A: 255}))
		require.NoError(t, err)
		require.NotNil(t, snap.Prediction)
		require.NotNil(t, snap.Preview)
		assert.Equal(t, PhaseReady, snap.Phase)
		assert.Nil(t, snap.Pending)
		assert.Equal(t, inference.Labels[1], snap.Prediction.Label)
		assert.Equal(t, float32(0.9), snap.Prediction.Confidence)
		assert.Equal(t, "/preview/"+snap.Preview.ID, snap.Preview.URL)

		p, ok := s.Preview(snap.Preview.ID)
		require.True(t, ok)
		assert.Equal(t, "image/png", p.MediaType)
		assert.Equal(t, []string{OutcomeSuccess}, rec.outcomes)
	})

	t.Run("second upload replaces the first entirely", func(t *testing.T) {
		c := &fixedClassifier{scores: []float32{0.1, 0.9}}
		s := newSession()
		s.Settle(c, nil)

		a, err := s.Analyze(ctx, upload(t, color.RGBA{R: 255, A: 255}))
		require.NoError(t, err)

		c.scores = []float32{0.05, 0.1, 0.2, 0.15, 0.1, 0.1, 0.3}
		b, err := s.Analyze(ctx, upload(t, color.RGBA{B: 255, A: 255}))
		require.NoError(t, err)

		assert.NotEqual(t, a.Preview.ID, b.Preview.ID)
		assert.Equal(t, inference.Labels[0], b.Prediction.Label)
		assert.Equal(t, float32(0.3), b.Prediction.Confidence)

		_, ok := s.Preview(a.Preview.ID)
		assert.False(t, ok, "superseded preview must be released")
		_, ok = s.Preview(b.Preview.ID)
		assert.True(t, ok)
		assert.Equal(t, 1, s.previews.len())
	})

	t.Run("failure keeps prior state", func(t *testing.T) {
		rec := &countingRecorder{}
		c := &fixedClassifier{scores: []float32{1, 0}}
		s := newSession(WithRecorder(rec))
		s.Settle(c, nil)
		first, err := s.Analyze(ctx, upload(t, color.RGBA{G: 255, A: 255}))
		require.NoError(t, err)

		c.err = errors.New("runtime exploded")
		snap, err := s.Analyze(ctx, upload(t, color.RGBA{A: 255}))
		assert.ErrorIs(t, err, inference.ErrInference)
		assert.Equal(t, PhaseReady, snap.Phase)
		assert.Equal(t, first.Prediction, snap.Prediction)
		assert.Equal(t, first.Preview.ID, snap.Preview.ID)
		assert.Equal(t, 1, s.previews.len())

		bad := intake.Upload{Filename: "x.png", MediaType: "image/png", Data: []byte("garbage")}
		_, err = s.Analyze(ctx, bad)
		assert.ErrorIs(t, err, inference.ErrDecode)
		assert.Equal(t, first.Prediction, s.Snapshot().Prediction)

		assert.Equal(t, []string{OutcomeSuccess, OutcomeRuntimeError, OutcomeDecodeError}, rec.outcomes)
	})

	t.Run("panic in the model is contained", func(t *testing.T) {
		s := newSession()
		s.Settle(&fixedClassifier{panics: true}, nil)
		snap, err := s.Analyze(ctx, upload(t, color.RGBA{A: 255}))
		assert.ErrorIs(t, err, inference.ErrInference)
		assert.Equal(t, PhaseReady, snap.Phase)
		assert.Nil(t, snap.Prediction)
	})

	t.Run("busy while analyzing", func(t *testing.T) {
		gate := &gateClassifier{entered: make(chan struct{}), release: make(chan struct{})}
		s := newSession()
		s.Settle(gate, nil)

		first, second := upload(t, color.RGBA{R: 1, A: 255}), upload(t, color.RGBA{R: 2, A: 255})
		done := make(chan error, 1)
		go func() {
			_, err := s.Analyze(ctx, first)
			done <- err
		}()
		<-gate.entered

		snap := s.Snapshot()
		assert.Equal(t, PhaseAnalyzing, snap.Phase)
		require.NotNil(t, snap.Pending)
		assert.Nil(t, snap.Prediction)

		_, err := s.Analyze(ctx, second)
		assert.ErrorIs(t, err, ErrBusy)

		close(gate.release)
		require.NoError(t, <-done)
		snap = s.Snapshot()
		assert.Equal(t, PhaseReady, snap.Phase)
		assert.Equal(t, inference.Labels[2], snap.Prediction.Label)
		assert.Equal(t, 1, s.previews.len())
	})
}

func TestSubscribe(t *testing.T) {
	s := newSession()
	ch, cancel := s.Subscribe()

	first := <-ch
	assert.Equal(t, PhaseLoadingModel, first.Phase)

	s.Settle(&fixedClassifier{scores: []float32{1}}, nil)
	next := <-ch
	assert.Equal(t, PhaseReady, next.Phase)
	assert.Greater(t, next.Version, first.Version)

	_, err := s.Analyze(context.Background(), upload(t, color.RGBA{A: 255}))
	require.NoError(t, err)
	latest := <-ch
	assert.Equal(t, PhaseReady, latest.Phase)
	assert.NotNil(t, latest.Prediction)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}
