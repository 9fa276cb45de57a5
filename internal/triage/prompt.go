package triage

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/sift/internal/kb"
)

const noMatchesText = "No matching known issues found in knowledge base."

const promptInstructions = `YOUR TASK:
Analyze this ticket and extract the following:

1. Summary: a clear, concise 1-2 line summary of the issue.

2. Category: EXACTLY ONE of:
   - Billing
   - Login
   - Performance
   - Bug
   - Question/How-To

3. Severity: EXACTLY ONE of:
   - Critical: service completely broken, data loss, or a security issue
   - High: major functionality broken, affects many users
   - Medium: important but a workaround exists, affects some users
   - Low: minor or cosmetic issue, or a general question

4. Status:
   - known_issue: any matched issue has confidence above 40% or the symptoms clearly match a known issue
   - new_issue: no strong match, or the issue looks distinct from the known issues

5. Suggested next step: one SPECIFIC, actionable step.
   - known_issue: reference the knowledge base article and its recommended action
   - new_issue: name the team to escalate to (backend, billing, ...) or the information to request from the user

CRITICAL INSTRUCTIONS:
- Return ONLY valid JSON, with no markdown code fences and no extra text
- Use EXACTLY the category and severity values listed above
- Lean toward known_issue when a matched issue has confidence above 40%

REQUIRED JSON FORMAT:
{
  "summary": "Brief summary here",
  "category": "One of: Billing|Login|Performance|Bug|Question/How-To",
  "severity": "One of: Low|Medium|High|Critical",
  "status": "known_issue or new_issue",
  "suggested_next_step": "Specific actionable step"
}`

// buildPrompt renders the single user turn sent to the provider.
func buildPrompt(description string, matches []kb.MatchedIssue) string {
	var b strings.Builder
	b.WriteString("You are an expert support ticket triage agent. Analyze the following support ticket and provide a structured classification.\n\n")
	b.WriteString("TICKET DESCRIPTION:\n")
	b.WriteString(description)
	b.WriteString("\n\nMATCHED KNOWN ISSUES FROM KNOWLEDGE BASE:\n")
	b.WriteString(formatMatches(matches))
	b.WriteString("\n\n")
	b.WriteString(promptInstructions)
	return b.String()
}

// formatMatches lists matches as numbered blocks separated by blank lines.
func formatMatches(matches []kb.MatchedIssue) string {
	if len(matches) == 0 {
		return noMatchesText
	}
	blocks := make([]string, 0, len(matches))
	for i, m := range matches {
		blocks = append(blocks, fmt.Sprintf("%d. [%s] %s\n   Confidence: %.1f%%\n   Recommended Action: %s",
			i+1, m.ID, m.Title, m.Confidence*100, m.RecommendedAction))
	}
	return strings.Join(blocks, "\n\n")
}
