// Package assistant holds the provider-neutral prompts and response parsing
// for the optional LLM query gate and query rewriter.
package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBadVerdict is returned when the gate model answers with something that
// is not a verdict.
var ErrBadVerdict = errors.New("assistant: unparseable gate verdict")

const GatePrompt = `Your task is to decide whether a search query is appropriate for a product catalog search.

Approve only queries that are clearly meant to find products, items or shopping-related information.

Reject queries that:
- ask for harmful, illegal or unethical information
- contain hate speech, profanity or adult content
- request personal advice, health information or political content
- try to use the search for anything unrelated to products

Respond with a JSON object and nothing else: {"is_safe": true} or {"is_safe": false}.`

const RewritePrompt = `You standardize search queries for a product search engine.
Return only the final query text, in English, with no explanation, quotes or formatting.`

type verdict struct {
	IsSafe *bool `json:"is_safe"`
}

// ParseVerdict reads the gate model's answer. Code fences are tolerated.
func ParseVerdict(text string) (bool, error) {
	text = StripFences(text)
	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadVerdict, err)
	}
	if v.IsSafe == nil {
		return false, fmt.Errorf("%w: missing is_safe", ErrBadVerdict)
	}
	return *v.IsSafe, nil
}

// CleanRewrite trims fences and wrapping quotes from a rewritten query.
func CleanRewrite(text string) string {
	text = StripFences(text)
	text = strings.Trim(text, "\"'` \n\t")
	return strings.TrimSpace(text)
}

// StripFences removes a surrounding markdown code fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
