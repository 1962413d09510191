package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	"github.com/Brownie44l1/skin-analyzer/internal/intake"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("an analysis is already running")

type Phase string

const (
	PhaseLoadingModel Phase = "loading_model"
	PhaseModelFailed  Phase = "model_failed"
	PhaseReady        Phase = "ready"
	PhaseAnalyzing    Phase = "analyzing"
)

// Outcomes passed to Recorder.ObserveInference.
const (
	OutcomeSuccess      = "success"
	OutcomeDecodeError  = "decode_error"
	OutcomeRuntimeError = "runtime_error"
)

// Snapshot is an immutable copy of the view state.
type Snapshot struct {
	Version uint64 `json:"version"`
	Phase   Phase  `json:"phase"`
	// Preview and Prediction belong to the last successful analysis; both are nil
	// until the first one completes.
	Preview    *Preview              `json:"preview,omitempty"`
	Prediction *inference.Prediction `json:"prediction,omitempty"`
	// Pending is the image being analyzed.
	Pending *Preview `json:"pending,omitempty"`
}

type Recorder interface {
	ObserveInference(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveInference(string, time.Duration) {}

// Session is the single page's state machine:
//
//	loading_model -> ready | model_failed
//	ready -> analyzing -> ready
//
// At most one analysis runs at a time; a second request while analyzing gets ErrBusy.
type Session struct {
	pipeline *inference.Pipeline
	logger   *zap.Logger
	recorder Recorder
	previews *previewStore

	mu         sync.Mutex
	phase      Phase
	model      inference.Classifier
	current    *Preview
	pending    *Preview
	prediction *inference.Prediction
	version    uint64
	subs       map[uint64]chan Snapshot
	nextSub    uint64
}

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func New(pipeline *inference.Pipeline, opts ...Option) *Session {
	s := &Session{
		pipeline: pipeline,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		previews: newPreviewStore(),
		phase:    PhaseLoadingModel,
		subs:     make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle moves the session out of loading_model once the model loader finishes.
func (s *Session) Settle(c inference.Classifier, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseLoadingModel {
		return
	}
	if err != nil || c == nil {
		s.phase = PhaseModelFailed
	} else {
		s.model = c
		s.phase = PhaseReady
	}
	s.publishLocked()
}

// Analyze runs the inference pipeline over an accepted upload. On success the
// upload's preview and prediction replace the previous ones together; on failure
// the previous state is kept and the error is returned after being logged.
func (s *Session) Analyze(ctx context.Context, u intake.Upload) (Snapshot, error) {
	s.mu.Lock()
	switch s.phase {
	case PhaseLoadingModel, PhaseModelFailed:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, inference.ErrModelNotReady
	case PhaseAnalyzing:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrBusy
	}
	s.phase = PhaseAnalyzing
	pending := s.previews.create(u.MediaType, u.Data)
	s.pending = pending
	model := s.model
	s.publishLocked()
	s.mu.Unlock()

	start := time.Now()
	pred, err := s.run(ctx, model, u.Data)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseReady
	s.pending = nil
	if err != nil {
		s.previews.release(pending)
		outcome := OutcomeRuntimeError
		if errors.Is(err, inference.ErrDecode) {
			outcome = OutcomeDecodeError
		}
		s.recorder.ObserveInference(outcome, elapsed)
		s.logger.Error("error processing image",
			zap.String("filename", u.Filename),
			zap.String("source", string(u.Source)),
			zap.Error(err))
	} else {
		s.previews.release(s.current)
		s.current = pending
		s.prediction = &pred
		s.recorder.ObserveInference(OutcomeSuccess, elapsed)
		s.logger.Info("image analyzed",
			zap.String("filename", u.Filename),
			zap.String("label", pred.Label),
			zap.Float32("confidence", pred.Confidence),
			zap.Duration("elapsed", elapsed))
	}
	s.publishLocked()
	return s.snapshotLocked(), err
}

func (s *Session) run(ctx context.Context, model inference.Classifier, data []byte) (pred inference.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", inference.ErrInference, r)
		}
	}()
	return s.pipeline.Run(ctx, model, data)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Preview returns a live preview by id. Released previews are gone.
func (s *Session) Preview(id string) (*Preview, bool) {
	return s.previews.get(id)
}

// Subscribe returns a channel that receives the latest snapshot after every
// transition, starting with the current one. Slow readers only see the newest.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version: s.version,
		Phase:   s.phase,
		Pending: s.pending,
	}
	if s.prediction != nil {
		pred := *s.prediction
		snap.Prediction = &pred
		snap.Preview = s.current
	}
	return snap
}

func (s *Session) publishLocked() {
	s.version++
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
