package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/Brownie44l1/skin-analyzer/internal/session"
)

const Disclaimer = "Note: This is an AI-powered analysis and should not be considered as a medical diagnosis. " +
	"Please consult a healthcare professional for proper medical advice."

const (
	LoadingModelText = "Loading AI Model..."
	AnalyzingText    = "Analyzing image..."
)

// Model is everything the page draws. It is derived from a session snapshot and
// nothing else.
type Model struct {
	Version        uint64  `json:"version"`
	LoadingModel   bool    `json:"loading_model"`
	Analyzing      bool    `json:"analyzing"`
	UploadDisabled bool    `json:"upload_disabled"`
	Spinner        string  `json:"spinner,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	Result         *Result `json:"result,omitempty"`
}

type Result struct {
	Condition  string `json:"condition"`
	Confidence string `json:"confidence"`
	Disclaimer string `json:"disclaimer"`
}

// Render maps a snapshot onto the page. A failed model load keeps the loading
// indicator up; there is no error screen.
func Render(s session.Snapshot) Model {
	m := Model{Version: s.Version}
	switch s.Phase {
	case session.PhaseLoadingModel, session.PhaseModelFailed:
		m.LoadingModel = true
		m.UploadDisabled = true
		m.Spinner = LoadingModelText
		return m
	case session.PhaseAnalyzing:
		m.Analyzing = true
		m.UploadDisabled = true
		m.Spinner = AnalyzingText
		if s.Pending != nil {
			m.ImageURL = s.Pending.URL
		}
		return m
	}

	if s.Prediction == nil || s.Preview == nil {
		return m
	}
	m.ImageURL = s.Preview.URL
	m.Result = &Result{
		Condition:  s.Prediction.Label,
		Confidence: FormatConfidence(s.Prediction.Confidence),
		Disclaimer: Disclaimer,
	}
	return m
}

// FormatConfidence renders a [0,1] score as a percentage with two decimals.
func FormatConfidence(c float32) string {
	return fmt.Sprintf("%.2f%%", float64(c)*100)
}

//go:embed templates/index.html
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/index.html"))

// WritePage renders the full HTML page for m.
func WritePage(w io.Writer, m Model) error {
	return page.ExecuteTemplate(w, "index.html", m)
}
