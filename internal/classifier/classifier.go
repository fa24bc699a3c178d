// Package classifier holds the pluggable ML collaborators the guardrail
// pipeline depends on. The pipeline consumes them as opaque capabilities;
// model internals live behind a model-serving HTTP endpoint.
package classifier

import (
	"context"
	"math"
)

// TextEmbedder embeds text into dense vectors for semantic similarity.
type TextEmbedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageClassifier scores how well an image matches each of a set of
// candidate text labels (contrastive image-text classification).
type ImageClassifier interface {
	// Scores returns one score per label, in label order, softmaxed over the
	// similarity logits so the vector sums to 1.
	Scores(ctx context.Context, imageJPEG []byte, labels []string) ([]float64, error)
}

// Cosine computes the cosine similarity between two embedding vectors.
// Vectors of mismatched or zero length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
