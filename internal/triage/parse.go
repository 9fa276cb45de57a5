package triage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/sift/internal/kb"
)

var (
	// ErrEmptyResponse means the provider returned no text.
	ErrEmptyResponse = errors.New("llm returned empty response")
	// ErrInvalidResponse means the reply was not a valid verdict.
	ErrInvalidResponse = errors.New("invalid llm response format")
)

// fencePattern captures the body of the first fenced code block, with an
// optional language tag.
var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\\r?\\n?(.*?)\\s*```")

var requiredFields = []string{"summary", "category", "severity", "status", "suggested_next_step"}

// extractJSON strips a surrounding markdown code fence, if any.
func extractJSON(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// parseVerdict validates an LLM reply. Every required field must be a
// non-empty string, and the enum fields must name a known value.
func parseVerdict(text string) (*Verdict, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, ErrEmptyResponse
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: reply is not valid JSON", ErrInvalidResponse)
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: reply is not a JSON object", ErrInvalidResponse)
	}

	values := make(map[string]string, len(requiredFields))
	var missing []string
	for _, f := range requiredFields {
		v := doc.Get(f)
		if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
			missing = append(missing, f)
			continue
		}
		values[f] = strings.TrimSpace(v.Str)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrInvalidResponse, strings.Join(missing, ", "))
	}

	category, ok := kb.ParseCategory(values["category"])
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidResponse, values["category"])
	}
	severity, ok := kb.ParseSeverity(values["severity"])
	if !ok {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidResponse, values["severity"])
	}
	status, ok := ParseIssueStatus(values["status"])
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidResponse, values["status"])
	}

	return &Verdict{
		Summary:           values["summary"],
		Category:          category,
		Severity:          severity,
		Status:            status,
		SuggestedNextStep: values["suggested_next_step"],
	}, nil
}
