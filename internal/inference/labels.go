package inference

import (
	"errors"
	"math"
)

var ErrEmptyScores = errors.New("model returned no scores")

// Labels is the fixed list of condition names. Model indices are folded onto it by
// modulo; the mapping is a placeholder and carries no diagnostic meaning.
var Labels = [...]string{
	"Eczema",
	"Psoriasis",
	"Melanoma",
	"Rosacea",
	"Contact Dermatitis",
	"Normal Skin",
}

// Prediction is the pair shown to the user. Label and Confidence are always set together.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Index      int     `json:"index"`
}

// LabelFor maps a raw output index onto Labels.
func LabelFor(index int) string {
	n := len(Labels)
	return Labels[((index%n)+n)%n]
}

// Argmax returns the index and value of the highest score. Ties go to the lowest index;
// NaN scores never win.
func Argmax(scores []float32) (int, float32, error) {
	maxIdx := -1
	var maxVal float32
	for i, val := range scores {
		if val != val {
			continue
		}
		if maxIdx < 0 || val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	if maxIdx < 0 {
		return 0, 0, ErrEmptyScores
	}
	return maxIdx, maxVal, nil
}

// Predict folds a score vector into a Prediction.
func Predict(scores []float32) (Prediction, error) {
	idx, val, err := Argmax(scores)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Label: LabelFor(idx), Confidence: val, Index: idx}, nil
}

// Softmax rescales logits into probabilities in place.
func Softmax(scores []float32) {
	if len(scores) == 0 {
		return
	}
	maxVal := scores[0]
	for _, v := range scores[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for i, v := range scores {
		e := math.Exp(float64(v - maxVal))
		scores[i] = float32(e)
		sum += e
	}
	for i := range scores {
		scores[i] = float32(float64(scores[i]) / sum)
	}
}
