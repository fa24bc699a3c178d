package guardrail

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AnkitKoranga/guardrail/internal/classifier"
)

// Labels describing the approved domain.
var posLabels = []string{"a photo of food", "a meal", "a dish", "ingredients", "cooking"}

// Negative labels spanning NSFW content, violence, and clearly out-of-domain
// subjects. The single contrastive call against pos+neg labels does double
// duty as domain gate and unsafe-content gate.
var negLabels = []string{
	// NSFW content
	"a nude person", "nudity", "naked person", "explicit nudity",
	"porn", "pornography", "sexual content", "adult content",
	// Violence and weapons
	"weapon", "gun", "knife", "violence", "gore", "blood", "death",
	// Non-food content
	"a face portrait", "portrait", "person", "people",
	"document", "text", "paper", "child", "minor",
}

// Substrings that mark a winning negative label as NSFW-flavored. This only
// shapes the reason text, never the decision itself.
var nsfwTerms = []string{"nude", "naked", "porn", "sexual", "adult"}

// Fine-grained in-domain subcategories for the identification pass.
var foodTypeLabels = []string{
	"pizza", "burger", "pasta", "sushi", "salad", "soup", "sandwich", "taco",
	"burrito", "curry", "ramen", "fried rice", "steak", "fried chicken",
	"grilled fish", "shrimp", "cake", "cupcake", "cookie", "pie", "donut",
	"ice cream", "pancakes", "waffles", "bread", "croissant", "fruit",
	"vegetables", "cheese", "eggs", "coffee", "smoothie",
}

// FoodIdentification is the structured detail of the identification pass.
type FoodIdentification struct {
	FoodType      string          `json:"food_type"`
	Confidence    float64         `json:"confidence"`
	TopCandidates []FoodCandidate `json:"top_candidates"`
}

// FoodCandidate is one ranked entry of the identification pass.
type FoodCandidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ImageChecker classifies a sanitized image for food relevance and unsafe
// content with a single contrastive classifier call, optionally refining a
// passing image with fine-grained food identification.
type ImageChecker struct {
	clip   classifier.ImageClassifier
	margin float64
}

// NewImageChecker creates an image checker with the given pass margin.
func NewImageChecker(clip classifier.ImageClassifier, margin float64) *ImageChecker {
	if margin <= 0 {
		margin = 0.1
	}
	return &ImageChecker{clip: clip, margin: margin}
}

// Check blocks unless the top positive-label score beats the top negative
// score by the configured margin. On PASS with identifyType set, a second
// classification over the food subcategory labels reports the top match;
// that pass is a refinement of an already-approved image, never a gate.
func (c *ImageChecker) Check(ctx context.Context, img *SanitizedImage, identifyType bool) *Result {
	labels := make([]string, 0, len(posLabels)+len(negLabels))
	labels = append(labels, posLabels...)
	labels = append(labels, negLabels...)

	scores, err := c.clip.Scores(ctx, img.JPEG, labels)
	if err != nil {
		return Block([]string{fmt.Sprintf("CLIP check failed: %v", err)}, nil)
	}

	maxPos, _ := maxScore(scores[:len(posLabels)])
	maxNeg, negIdx := maxScore(scores[len(posLabels):])

	if maxPos < maxNeg+c.margin {
		negLabel := negLabels[negIdx]
		reason := fmt.Sprintf("Image not clearly food (pos: %.2f, neg: %.2f)", maxPos, maxNeg)
		if isNSFWLabel(negLabel) {
			reason = fmt.Sprintf("NSFW content detected: %s", negLabel)
		}
		return Block([]string{reason}, map[string]any{
			"food_score":         maxPos,
			"non_food_score":     maxNeg,
			"top_negative_label": negLabel,
		})
	}

	result := Pass(map[string]any{
		"food_score":     maxPos,
		"non_food_score": maxNeg,
	})

	if identifyType {
		identification, err := c.identifyFoodType(ctx, img)
		if err != nil {
			return Block([]string{fmt.Sprintf("CLIP check failed: %v", err)}, result.Scores)
		}
		result.Scores["identified_food"] = identification.FoodType
		result.Scores["food_type_confidence"] = identification.Confidence
		result.Metadata = map[string]any{metaFoodIdentification: identification}
	}

	return result
}

// identifyFoodType runs the second classification pass over the fine-grained
// subcategory labels and ranks the top three candidates.
func (c *ImageChecker) identifyFoodType(ctx context.Context, img *SanitizedImage) (*FoodIdentification, error) {
	scores, err := c.clip.Scores(ctx, img.JPEG, foodTypeLabels)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		label string
		score float64
	}
	all := make([]ranked, len(scores))
	for i, s := range scores {
		all[i] = ranked{label: foodTypeLabels[i], score: s}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	top := all
	if len(top) > 3 {
		top = top[:3]
	}
	candidates := make([]FoodCandidate, len(top))
	for i, r := range top {
		candidates[i] = FoodCandidate{Label: r.label, Confidence: r.score * 100}
	}

	return &FoodIdentification{
		FoodType:      candidates[0].Label,
		Confidence:    candidates[0].Confidence,
		TopCandidates: candidates,
	}, nil
}

func maxScore(scores []float64) (float64, int) {
	best, idx := scores[0], 0
	for i, s := range scores {
		if s > best {
			best, idx = s, i
		}
	}
	return best, idx
}

func isNSFWLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, term := range nsfwTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
