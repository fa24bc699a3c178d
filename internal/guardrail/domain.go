package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/AnkitKoranga/guardrail/internal/classifier"
)

// Specific food items and food-related context keywords (strict matching).
var foodItems = []string{
	// Common dishes
	"pizza", "burger", "pasta", "sandwich", "salad", "soup", "sushi", "taco", "burrito",
	"curry", "stir fry", "noodles", "ramen", "dumpling", "spring roll", "sushi roll",
	// Meals
	"breakfast", "lunch", "dinner", "brunch", "snack", "appetizer", "dessert",
	// Food categories
	"cake", "bread", "cookie", "pie", "pastry", "muffin", "donut", "croissant",
	"steak", "chicken", "beef", "pork", "lamb", "fish", "seafood", "shrimp", "crab", "lobster",
	"rice", "quinoa", "noodle", "potato", "fries", "mashed potato",
	"vegetable", "fruit", "apple", "banana", "orange", "strawberry", "grape",
	"tomato", "lettuce", "onion", "garlic", "pepper", "carrot", "broccoli", "spinach",
	// Beverages
	"coffee", "tea", "juice", "smoothie", "milkshake", "soda", "wine", "beer",
	// Cooking terms
	"recipe", "cooking", "baking", "grilling", "roasting", "frying", "steaming", "boiling",
	// Food context
	"restaurant", "cafe", "bakery", "menu", "chef", "cuisine", "dish", "meal", "food",
}

// Exemplar in-domain intents for the embedding fallback.
var allowlistIntents = []string{
	"write a recipe for pizza",
	"ingredients list for pasta",
	"cooking steps for burger",
	"plating photo of food",
	"food photography",
	"restaurant menu item",
	"recipe for chicken",
	"how to cook pasta",
	"dinner idea",
	"create a food image",
	"generate food photo",
	"recipe for pasta",
	"cooking instructions",
	"food preparation",
	"dish presentation",
	"meal planning",
}

var (
	// "generate image of <subject>" template; the subject is inspected for
	// person references before the expensive classifier runs.
	imageOfPattern = regexp.MustCompile(`\b(generate|create|make|show|display)\b.*image.*of\s+(.+?)(?:\s|$)`)

	personPattern = regexp.MustCompile(`\b(emma|watson|hitler|person|people|man|woman|celebrity|actor)\b`)

	// Broader non-food request shapes, fast-blocked unless the prompt also
	// mentions a food item.
	nonFoodPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(generate|create|make)\b.*image.*of\s+(a\s+)?(person|people|man|woman|boy|girl|child|baby|portrait)\b`),
		regexp.MustCompile(`\b(generate|create|make)\b.*image.*of\s+(a\s+)?(celebrity|actor|actress|model|singer|artist)\b`),
	}
)

const keywordMatchScore = 0.95

const nonFoodReason = "Prompt does not contain food-related items or context"

// DomainChecker decides whether a prompt is about food. It tries a keyword
// fast path and a person-pattern fast block before falling back to semantic
// similarity against the exemplar intents.
type DomainChecker struct {
	embedder  classifier.TextEmbedder
	threshold float64

	// Exemplar embeddings are computed on first use and shared read-only
	// afterwards. A failed attempt leaves intentVecs nil so the next call
	// retries instead of pinning a permanent failure.
	mu         sync.Mutex
	intentVecs [][]float32
}

// NewDomainChecker creates a domain checker. The exemplar intents are not
// embedded until the first prompt needs the fallback path.
func NewDomainChecker(embedder classifier.TextEmbedder, threshold float64) *DomainChecker {
	if threshold <= 0 {
		threshold = 0.55
	}
	return &DomainChecker{embedder: embedder, threshold: threshold}
}

// Check runs the multi-stage food-domain classification over a prompt.
func (c *DomainChecker) Check(ctx context.Context, prompt string) *Result {
	lower := strings.TrimSpace(strings.ToLower(prompt))

	// Fast block: "image of <named person>" without any food mention.
	if m := imageOfPattern.FindStringSubmatch(lower); m != nil {
		subject := strings.TrimSpace(m[2])
		if personPattern.MatchString(subject) && !containsFoodItem(subject) {
			return Block([]string{nonFoodReason}, map[string]any{
				"domain_score": 0.0,
				"method":       "pattern_block",
			})
		}
	}
	for _, pattern := range nonFoodPatterns {
		if pattern.MatchString(lower) && !containsFoodItem(lower) {
			return Block([]string{nonFoodReason}, map[string]any{
				"domain_score": 0.0,
				"method":       "pattern_block",
			})
		}
	}

	// Fast path: an explicit food keyword approves without touching the
	// classifier.
	if matches := matchFoodItems(lower); len(matches) > 0 {
		if len(matches) > 5 {
			matches = matches[:5]
		}
		return Pass(map[string]any{
			"domain_score":     keywordMatchScore,
			"method":           "keyword_match",
			"matched_keywords": matches,
		})
	}

	// Fallback: semantic similarity against exemplar intents. An inability
	// to classify never defaults to PASS.
	maxScore, err := c.maxIntentSimilarity(ctx, prompt)
	if err != nil {
		return Block([]string{fmt.Sprintf("Domain check failed: %v", err)}, nil)
	}

	if maxScore < c.threshold {
		return Block(
			[]string{fmt.Sprintf("Prompt not related to food items or context (score: %.2f)", maxScore)},
			map[string]any{"domain_score": maxScore, "method": "embedding"},
		)
	}

	return Pass(map[string]any{"domain_score": maxScore, "method": "embedding"})
}

// maxIntentSimilarity embeds the prompt and returns its highest cosine
// similarity against the exemplar intents.
func (c *DomainChecker) maxIntentSimilarity(ctx context.Context, prompt string) (float64, error) {
	vecs, err := c.intentEmbeddings(ctx)
	if err != nil {
		return 0, err
	}

	promptVecs, err := c.embedder.Embed(ctx, []string{prompt})
	if err != nil {
		return 0, err
	}
	if len(promptVecs) != 1 {
		return 0, fmt.Errorf("expected 1 embedding, got %d", len(promptVecs))
	}

	maxScore := -1.0
	for _, v := range vecs {
		if s := classifier.Cosine(promptVecs[0], v); s > maxScore {
			maxScore = s
		}
	}
	return maxScore, nil
}

// intentEmbeddings lazily computes the exemplar embeddings, guarded against
// concurrent first use.
func (c *DomainChecker) intentEmbeddings(ctx context.Context) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.intentVecs == nil {
		vecs, err := c.embedder.Embed(ctx, allowlistIntents)
		if err != nil {
			return nil, fmt.Errorf("embedding exemplar intents: %w", err)
		}
		c.intentVecs = vecs
	}
	return c.intentVecs, nil
}

func containsFoodItem(text string) bool {
	for _, item := range foodItems {
		if strings.Contains(text, item) {
			return true
		}
	}
	return false
}

func matchFoodItems(text string) []string {
	var matches []string
	for _, item := range foodItems {
		if strings.Contains(text, item) {
			matches = append(matches, item)
		}
	}
	return matches
}
