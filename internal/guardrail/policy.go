package guardrail

import (
	"fmt"
	"strings"
)

// Denylist covering sexual, violent, hate, fraud, and minors-related terms.
var denylistTerms = []string{
	"nude", "naked", "sex", "porn", "xxx",
	"kill", "murder", "suicide", "hurt", "blood", "gore",
	"hate", "racist", "nazi",
	"scam", "fraud", "credit card", "ssn",
	"child", "minor", "kid",
}

// CheckPolicy blocks prompts containing denylisted terms. The reason lists
// every matched term, not just the first.
func CheckPolicy(prompt string) *Result {
	lower := strings.ToLower(prompt)

	var found []string
	for _, term := range denylistTerms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}

	if len(found) > 0 {
		return Block([]string{fmt.Sprintf("Policy violation: %s", strings.Join(found, ", "))}, nil)
	}

	return Pass(nil)
}
