package guardrail

// Status is the outcome of a guardrail decision. The pipeline itself only
// ever produces PASS or BLOCK; ERROR is a job-level state owned by the
// worker layer, never by a stage.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusBlock Status = "BLOCK"
)

// Result is the sole value type flowing through the pipeline. Each stage
// returns one; the engine threads it forward, enriching scores and metadata
// until a terminal decision is reached.
//
// Scores is an open key-value map rather than a fixed struct because
// different stages legitimately contribute different optional fields. Known
// keys, namespaced per stage:
//
//	domain_score, method, matched_keywords        - text food-domain stage
//	food_score, non_food_score, top_negative_label - image check stage
//	identified_food, food_type_confidence          - image identification pass
//	image_food_score, image_non_food_score,
//	image_identified_food, image_food_type_confidence
//	                                               - image leg of a prompt-led run
//
// Metadata is side-channel data scoped to a single pipeline run. It carries
// the decoded sanitized image, the detected use case, and structured food
// identification detail. It is never written to the decision cache.
type Result struct {
	Status   Status         `json:"status"`
	Reasons  []string       `json:"reasons,omitempty"`
	Scores   map[string]any `json:"scores,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Metadata keys used across the pipeline.
const (
	metaImage              = "image"
	metaUseCase            = "use_case"
	metaHasImage           = "has_image"
	metaFoodIdentification = "food_identification"
)

// Pass builds a passing result carrying the scores computed by the stage.
func Pass(scores map[string]any) *Result {
	return &Result{Status: StatusPass, Scores: scores}
}

// Block builds a blocking result. A BLOCK always carries at least one reason.
func Block(reasons []string, scores map[string]any) *Result {
	return &Result{Status: StatusBlock, Reasons: reasons, Scores: scores}
}

// Blocked reports whether the result is a BLOCK decision.
func (r *Result) Blocked() bool {
	return r.Status == StatusBlock
}

// Image returns the sanitized image handle from metadata, if present.
func (r *Result) Image() *SanitizedImage {
	if r.Metadata == nil {
		return nil
	}
	img, _ := r.Metadata[metaImage].(*SanitizedImage)
	return img
}

// UseCase returns the routing tag recorded in metadata.
func (r *Result) UseCase() UseCase {
	if r.Metadata == nil {
		return ""
	}
	uc, _ := r.Metadata[metaUseCase].(UseCase)
	return uc
}
