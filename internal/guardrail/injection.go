package guardrail

import (
	"fmt"
	"strings"
)

// Known prompt-injection phrases, matched against the lowercased prompt.
var injectionPhrases = []string{
	"ignore previous",
	"system prompt",
	"developer message",
	"bypass safety",
	"jailbreak",
	"dan mode",
	"do anything now",
}

// Tokens longer than this that are not URLs are treated as encoded or
// obfuscated payloads.
const maxTokenLength = 40

// CheckInjection blocks prompts that match known injection phrases or carry
// suspiciously long non-URL tokens.
func CheckInjection(prompt string) *Result {
	lower := strings.ToLower(prompt)

	for _, phrase := range injectionPhrases {
		if strings.Contains(lower, phrase) {
			return Block([]string{fmt.Sprintf("Potential prompt injection detected: %s", phrase)}, nil)
		}
	}

	for _, token := range strings.Fields(prompt) {
		if len(token) > maxTokenLength && !strings.HasPrefix(token, "http") {
			return Block([]string{"Suspicious long string detected"}, nil)
		}
	}

	return Pass(nil)
}
