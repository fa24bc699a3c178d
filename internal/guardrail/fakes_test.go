package guardrail

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

// fakeEmbedder maps any text containing a registered phrase to that phrase's
// vector; unknown text gets the fallback vector. Call count covers every
// Embed invocation, including the exemplar warmup.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	fail     bool
	calls    atomic.Int64
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors:  map[string][]float32{},
		fallback: []float32{0, 1},
	}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := f.fallback
		for phrase, v := range f.vectors {
			if strings.Contains(text, phrase) {
				vec = v
				break
			}
		}
		out[i] = vec
	}
	return out, nil
}

// fakeCLIP returns a fixed score vector per call, selected by label-set
// size so the same fake serves the gate pass and the identification pass.
type fakeCLIP struct {
	gateScores     []float64
	identifyScores []float64
	fail           bool
	calls          atomic.Int64
}

// gateVector builds a score vector over pos+neg labels with the given max
// positive and max negative scores.
func gateVector(maxPos, maxNeg float64) []float64 {
	scores := make([]float64, len(posLabels)+len(negLabels))
	scores[0] = maxPos
	scores[len(posLabels)] = maxNeg
	return scores
}

// gateVectorAt is like gateVector but places the negative peak on a chosen
// negative label.
func gateVectorAt(maxPos, maxNeg float64, negLabel string) []float64 {
	scores := make([]float64, len(posLabels)+len(negLabels))
	scores[0] = maxPos
	for i, label := range negLabels {
		if label == negLabel {
			scores[len(posLabels)+i] = maxNeg
			return scores
		}
	}
	scores[len(posLabels)] = maxNeg
	return scores
}

// identifyVector peaks on the given food type label.
func identifyVector(foodType string, confidence float64) []float64 {
	scores := make([]float64, len(foodTypeLabels))
	for i, label := range foodTypeLabels {
		if label == foodType {
			scores[i] = confidence
		}
	}
	return scores
}

func (f *fakeCLIP) Scores(_ context.Context, _ []byte, labels []string) ([]float64, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("clip service unavailable")
	}
	if len(labels) == len(foodTypeLabels) && labels[0] == foodTypeLabels[0] {
		return f.identifyScores, nil
	}
	return f.gateScores, nil
}

// foodCLIP is a fake that passes the gate and identifies pizza.
func foodCLIP() *fakeCLIP {
	return &fakeCLIP{
		gateScores:     gateVector(0.8, 0.1),
		identifyScores: identifyVector("pizza", 0.9),
	}
}
