package view

import (
	"bytes"
	"testing"

	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	"github.com/Brownie44l1/skin-analyzer/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatConfidence(t *testing.T) {
	assert.Equal(t, "90.00%", FormatConfidence(0.9))
	assert.Equal(t, "0.00%", FormatConfidence(0))
	assert.Equal(t, "100.00%", FormatConfidence(1))
	assert.Equal(t, "12.35%", FormatConfidence(0.123456))
}

func TestRender(t *testing.T) {
	preview := &session.Preview{ID: "a", URL: "/preview/a"}
	pred := &inference.Prediction{Label: "Psoriasis", Confidence: 0.9, Index: 1}

	t.Run("loading model", func(t *testing.T) {
		m := Render(session.Snapshot{Phase: session.PhaseLoadingModel})
		assert.True(t, m.LoadingModel)
		assert.True(t, m.UploadDisabled)
		assert.Equal(t, LoadingModelText, m.Spinner)
		assert.Nil(t, m.Result)
	})

	t.Run("failed model load keeps the loading indicator", func(t *testing.T) {
		m := Render(session.Snapshot{Phase: session.PhaseModelFailed})
		assert.True(t, m.LoadingModel)
		assert.True(t, m.UploadDisabled)
	})

	t.Run("ready without prediction shows nothing", func(t *testing.T) {
		m := Render(session.Snapshot{Phase: session.PhaseReady})
		assert.False(t, m.UploadDisabled)
		assert.Empty(t, m.ImageURL)
		assert.Nil(t, m.Result)
		assert.Empty(t, m.Spinner)
	})

	t.Run("result", func(t *testing.T) {
		m := Render(session.Snapshot{Phase: session.PhaseReady, Preview: preview, Prediction: pred})
		require.NotNil(t, m.Result)
		assert.Equal(t, "/preview/a", m.ImageURL)
		assert.Equal(t, "Psoriasis", m.Result.Condition)
		assert.Equal(t, "90.00%", m.Result.Confidence)
		assert.Equal(t, Disclaimer, m.Result.Disclaimer)
	})

	t.Run("zero confidence still renders", func(t *testing.T) {
		m := Render(session.Snapshot{Phase: session.PhaseReady, Preview: preview, Prediction: &inference.Prediction{Label: "Eczema"}})
		require.NotNil(t, m.Result)
		assert.Equal(t, "0.00%", m.Result.Confidence)
	})

	t.Run("analyzing shows the pending image only", func(t *testing.T) {
		pending := &session.Preview{ID: "b", URL: "/preview/b"}
		m := Render(session.Snapshot{Phase: session.PhaseAnalyzing, Preview: preview, Prediction: pred, Pending: pending})
		assert.True(t, m.Analyzing)
		assert.True(t, m.UploadDisabled)
		assert.Equal(t, AnalyzingText, m.Spinner)
		assert.Equal(t, "/preview/b", m.ImageURL)
		assert.Nil(t, m.Result)
	})
}

func TestWritePage(t *testing.T) {
	t.Run("result page", func(t *testing.T) {
		var buf bytes.Buffer
		m := Render(session.Snapshot{
			Version:    3,
			Phase:      session.PhaseReady,
			Preview:    &session.Preview{URL: "/preview/a"},
			Prediction: &inference.Prediction{Label: "Contact Dermatitis", Confidence: 0.5},
		})
		require.NoError(t, WritePage(&buf, m))
		out := buf.String()
		assert.Contains(t, out, "Contact Dermatitis")
		assert.Contains(t, out, "50.00%")
		assert.Contains(t, out, "consult a healthcare professional")
		assert.Contains(t, out, `src="/preview/a"`)
	})

	t.Run("loading page", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WritePage(&buf, Render(session.Snapshot{Phase: session.PhaseLoadingModel})))
		assert.Contains(t, buf.String(), LoadingModelText)
		assert.Contains(t, buf.String(), `disabled>`)
	})
}
