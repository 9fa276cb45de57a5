// Package slack sends triage notifications to Slack via incoming webhooks.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/linnemanlabs/sift/internal/kb"
	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	maxSectionLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts finished triage records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a finished triage record to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rec *triage.Record) error {
	if n.webhookURL == "" {
		return nil
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, buildMessage(rec)); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

func buildMessage(rec *triage.Record) *slack.WebhookMessage {
	blocks := []slack.Block{
		headerBlock(rec),
		slack.NewDividerBlock(),
		fieldsBlock(rec),
		slack.NewDividerBlock(),
		bodyBlock(rec),
		slack.NewDividerBlock(),
		contextBlock(rec),
	}
	return &slack.WebhookMessage{
		Text:   headerText(rec),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func headerText(rec *triage.Record) string {
	title := "Triage Complete"
	if rec.Status == triage.StatusFailed {
		title = "Triage Failed"
	}
	var sev kb.Severity
	if rec.Response != nil {
		sev = rec.Response.Severity
	}
	return fmt.Sprintf("%s %s: %s", severityEmoji(rec.Status, sev), title, truncate(oneLine(rec.Description), 120))
}

func headerBlock(rec *triage.Record) slack.Block {
	return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, headerText(rec), true, false))
}

func mrkdwn(format string, args ...any) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf(format, args...), false, false)
}

func fieldsBlock(rec *triage.Record) slack.Block {
	fields := []*slack.TextBlockObject{mrkdwn("*Status:* %s", rec.Status)}
	if r := rec.Response; r != nil {
		fields = append(fields,
			mrkdwn("*Category:* %s", r.Category),
			mrkdwn("*Severity:* %s", r.Severity),
			mrkdwn("*Issue:* %s", r.Status),
			mrkdwn("*Duration:* %dms", r.ProcessingTimeMS),
			mrkdwn("*Model:* %s", shortModel(r.Model)),
			mrkdwn("*KB matches:* %d", len(r.MatchedIssues)),
		)
	}
	return slack.NewSectionBlock(nil, fields, nil)
}

func bodyBlock(rec *triage.Record) slack.Block {
	var text string
	switch {
	case rec.Status == triage.StatusFailed:
		text = "*Error*\n\n" + truncate(rec.Error, maxSectionLen-20)
	case rec.Response != nil:
		text = fmt.Sprintf("*Summary*\n%s\n\n*Next step*\n%s", rec.Response.Summary, rec.Response.SuggestedNextStep)
		text = truncate(text, maxSectionLen)
	default:
		text = "_No summary available._"
	}
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func contextBlock(rec *triage.Record) slack.Block {
	ts := rec.CompletedAt
	if ts.IsZero() {
		ts = rec.CreatedAt
	}
	return slack.NewContextBlock("", mrkdwn("sift • triage %s • %s", rec.ID, ts.UTC().Format("2006-01-02 15:04 UTC")))
}

func severityEmoji(status triage.Status, severity kb.Severity) string {
	if status == triage.StatusFailed {
		return "\U0001f534" // red circle
	}
	switch severity {
	case kb.SeverityCritical, kb.SeverityHigh:
		return "\U0001f534" // red circle
	case kb.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	if model == "" {
		return "unknown"
	}
	return dateModelRe.ReplaceAllString(model, "")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
