package guardrail

import (
	"context"
	"log"
	"strings"
)

// UseCase is the routing variant governing which checks run and how their
// results combine.
type UseCase string

const (
	// UseCaseImageAnalysis: an attached image is the subject; the prompt is
	// one of the known template phrases.
	UseCaseImageAnalysis UseCase = "image_analysis"
	// UseCasePromptAnalysis: the prompt is the subject; an attached image is
	// optional but must also pass if present.
	UseCasePromptAnalysis UseCase = "prompt_analysis"
)

// ImageAnalysisPrompt is the canonical template phrase for image-led
// requests; the worker substitutes it for the user prompt when generating
// from an approved image.
const ImageAnalysisPrompt = "generate image with this image attached in center of the background"

// Template phrases that mark a request as image analysis when an image is
// attached.
var imageAnalysisPrompts = []string{
	ImageAnalysisPrompt,
	"generate image with this image attached in center",
	"generate image with this image in center",
	"create image with this image in center",
}

// Policy holds the policy constants the pipeline consumes. All are fixed at
// construction, never runtime-negotiated.
type Policy struct {
	MaxPromptChars  int
	MaxImageBytes   int
	MaxPixels       int
	Margin          float64
	DomainThreshold float64
}

// Engine is the guardrail decision pipeline: it routes a (prompt, optional
// image) pair to a use case, runs the ordered checks short-circuiting on the
// first BLOCK, aggregates stage scores into a single result, and memoizes
// the decision by content fingerprint.
//
// The engine is synchronous and safe for concurrent use; all mutable state
// lives in the injected cache and the lazily-initialized classifier handles.
type Engine struct {
	policy    Policy
	cache     *DecisionCache
	sanitizer *Sanitizer
	domain    *DomainChecker
	image     *ImageChecker
}

// NewEngine wires the pipeline from its collaborators.
func NewEngine(policy Policy, cache *DecisionCache, sanitizer *Sanitizer, domain *DomainChecker, image *ImageChecker) *Engine {
	return &Engine{
		policy:    policy,
		cache:     cache,
		sanitizer: sanitizer,
		domain:    domain,
		image:     image,
	}
}

// Sanitizer exposes the hygiene sanitizer so callers can re-derive a
// sanitized image after a cache hit, without re-running classification.
func (e *Engine) Sanitizer() *Sanitizer {
	return e.sanitizer
}

// Process is the sole entry point of the pipeline. It returns PASS or
// BLOCK; collaborator faults surface as fail-closed BLOCKs, never as
// errors.
func (e *Engine) Process(ctx context.Context, prompt string, imageBytes []byte) *Result {
	fingerprint := Fingerprint(prompt, imageBytes)

	if cached := e.cache.Lookup(ctx, fingerprint); cached != nil {
		log.Printf("Guardrail cache hit for %s", fingerprint)
		return cached
	}

	if Route(prompt, imageBytes != nil) == UseCaseImageAnalysis {
		return e.processImageAnalysis(ctx, imageBytes, fingerprint)
	}
	return e.processPromptAnalysis(ctx, prompt, imageBytes, fingerprint)
}

// Route decides which pipeline variant governs the request. Routing is pure
// and deterministic.
func Route(prompt string, imagePresent bool) UseCase {
	if !imagePresent {
		return UseCasePromptAnalysis
	}
	lower := strings.TrimSpace(strings.ToLower(prompt))
	for _, pattern := range imageAnalysisPrompts {
		if strings.Contains(lower, pattern) {
			return UseCaseImageAnalysis
		}
	}
	return UseCasePromptAnalysis
}

// processImageAnalysis validates that the attached image is food, with food
// type identification. Hygiene runs before any classifier sees the bytes.
func (e *Engine) processImageAnalysis(ctx context.Context, imageBytes []byte, fingerprint string) *Result {
	log.Printf("Processing use case: image analysis with food identification")

	res := e.sanitizer.Sanitize(imageBytes)
	if res.Blocked() {
		return e.block(ctx, fingerprint, res.Reasons, nil)
	}
	img := res.Image()

	res = e.image.Check(ctx, img, true)
	if res.Blocked() {
		return e.block(ctx, fingerprint, res.Reasons, res.Scores)
	}

	final := &Result{
		Status: StatusPass,
		Scores: res.Scores,
		Metadata: map[string]any{
			metaImage:              img,
			metaUseCase:            UseCaseImageAnalysis,
			metaFoodIdentification: res.Metadata[metaFoodIdentification],
		},
	}
	e.cache.Store(ctx, fingerprint, final)
	return final
}

// processPromptAnalysis runs the four text stages in order, then validates
// the optional image attachment. Both prompt and image must pass.
func (e *Engine) processPromptAnalysis(ctx context.Context, prompt string, imageBytes []byte, fingerprint string) *Result {
	log.Printf("Processing use case: prompt analysis (image provided: %v)", imageBytes != nil)

	combined := map[string]any{}

	if len(prompt) > e.policy.MaxPromptChars {
		return e.block(ctx, fingerprint, []string{"Prompt too long"}, nil)
	}

	if res := CheckInjection(prompt); res.Blocked() {
		return e.block(ctx, fingerprint, res.Reasons, nil)
	}

	if res := CheckPolicy(prompt); res.Blocked() {
		return e.block(ctx, fingerprint, res.Reasons, nil)
	}

	res := e.domain.Check(ctx, prompt)
	if res.Blocked() {
		return e.block(ctx, fingerprint, res.Reasons, res.Scores)
	}
	mergeScores(combined, res.Scores)

	var img *SanitizedImage
	var identification any
	if imageBytes != nil {
		log.Printf("Prompt analysis: validating optional image attachment")

		res = e.sanitizer.Sanitize(imageBytes)
		if res.Blocked() {
			return e.block(ctx, fingerprint, prefixReasons("Image validation failed: ", res.Reasons), nil)
		}
		img = res.Image()

		res = e.image.Check(ctx, img, true)
		if res.Blocked() {
			return e.block(ctx, fingerprint, prefixReasons("Image validation failed: ", res.Reasons), res.Scores)
		}

		// Image-leg scores carry a distinct prefix so they never collide
		// with the text-domain keys.
		combined["image_food_score"] = res.Scores["food_score"]
		combined["image_non_food_score"] = res.Scores["non_food_score"]
		combined["image_identified_food"] = res.Scores["identified_food"]
		combined["image_food_type_confidence"] = res.Scores["food_type_confidence"]

		identification = res.Metadata[metaFoodIdentification]
	}

	metadata := map[string]any{
		metaUseCase:  UseCasePromptAnalysis,
		metaHasImage: img != nil,
	}
	if img != nil {
		metadata[metaImage] = img
		metadata[metaFoodIdentification] = identification
	}

	final := &Result{Status: StatusPass, Scores: combined, Metadata: metadata}
	e.cache.Store(ctx, fingerprint, final)
	return final
}

// block builds the terminal BLOCK result and writes it through the cache.
func (e *Engine) block(ctx context.Context, fingerprint string, reasons []string, scores map[string]any) *Result {
	result := Block(reasons, scores)
	e.cache.Store(ctx, fingerprint, result)
	return result
}

func mergeScores(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func prefixReasons(prefix string, reasons []string) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = prefix + r
	}
	return out
}
