package kb

import (
	"strings"
)

// Category is the closed set of ticket categories.
type Category string

const (
	CategoryBilling     Category = "Billing"
	CategoryLogin       Category = "Login"
	CategoryPerformance Category = "Performance"
	CategoryBug         Category = "Bug"
	CategoryQuestion    Category = "Question/How-To"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryBilling, CategoryLogin, CategoryPerformance, CategoryBug, CategoryQuestion}

// ParseCategory normalizes s to a Category. Matching ignores case and
// surrounding whitespace; "Question", "How-To" and "HowTo" all map to
// CategoryQuestion.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "billing":
		return CategoryBilling, true
	case "login":
		return CategoryLogin, true
	case "performance":
		return CategoryPerformance, true
	case "bug":
		return CategoryBug, true
	case "question/how-to", "question", "how-to", "howto":
		return CategoryQuestion, true
	}
	return "", false
}

// Severity is the closed set of ticket severities.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Severities lists every valid severity from least to most urgent.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity normalizes s to a Severity, ignoring case and surrounding
// whitespace.
func ParseSeverity(s string) (Severity, bool) {
	for _, sev := range Severities {
		if strings.EqualFold(strings.TrimSpace(s), string(sev)) {
			return sev, true
		}
	}
	return "", false
}

// Entry is one known issue in the knowledge base.
type Entry struct {
	ID                string   `json:"id" yaml:"id"`
	Title             string   `json:"title" yaml:"title"`
	Category          Category `json:"category" yaml:"category"`
	Severity          Severity `json:"severity" yaml:"severity"`
	Symptoms          []string `json:"symptoms" yaml:"symptoms"`
	RecommendedAction string   `json:"recommended_action" yaml:"recommended_action"`
}

// MatchedIssue is a knowledge-base entry scored against a query.
// Confidence is in [0, 1].
type MatchedIssue struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Confidence        float64 `json:"confidence"`
	RecommendedAction string  `json:"recommended_action"`
}
