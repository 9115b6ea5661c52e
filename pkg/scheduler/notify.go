package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// resultPreviewLength caps the result excerpt in chat notifications.
const resultPreviewLength = 1_000

// Notifier reports job outcomes to the job's configured Slack channel and/or
// Teams webhook. Delivery failures are logged, never surfaced.
type Notifier struct {
	slack  *goslack.Client // nil = Slack disabled
	http   *http.Client
	logger *slog.Logger
}

// NewNotifier creates a job-outcome notifier. slackToken may be empty
// (Slack disabled).
func NewNotifier(slackToken string) *Notifier {
	n := &Notifier{
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default().With("component", "scheduler-notifier"),
	}
	if slackToken != "" {
		n.slack = goslack.New(slackToken)
	}
	return n
}

// JobFinished sends the outcome to all channels the job configures.
func (n *Notifier) JobFinished(ctx context.Context, job *models.ScheduledJob, exec *models.ScheduledJobExecution) {
	if job.SlackChannelID != "" && n.slack != nil {
		n.notifySlack(ctx, job, exec)
	}
	if job.TeamsWebhookURL != "" {
		n.notifyTeams(ctx, job, exec)
	}
}

func (n *Notifier) notifySlack(ctx context.Context, job *models.ScheduledJob, exec *models.ScheduledJobExecution) {
	color := "good"
	if exec.Status != models.JobSuccess {
		color = "danger"
	}
	attachment := goslack.Attachment{
		Color: color,
		Title: fmt.Sprintf("Scheduled job %q: %s", job.Name, exec.Status),
		Text:  models.Truncate(exec.Result, resultPreviewLength),
		Fields: []goslack.AttachmentField{
			{Title: "Duration", Value: fmt.Sprintf("%dms", exec.DurationMs), Short: true},
			{Title: "Type", Value: string(job.JobType), Short: true},
		},
	}
	_, _, err := n.slack.PostMessageContext(ctx, job.SlackChannelID,
		goslack.MsgOptionAttachments(attachment))
	if err != nil {
		n.logger.Warn("Slack job notification failed", "job", job.Name, "error", err)
	}
}

// notifyTeams posts a MessageCard to the job's incoming webhook.
func (n *Notifier) notifyTeams(ctx context.Context, job *models.ScheduledJob, exec *models.ScheduledJobExecution) {
	card := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    fmt.Sprintf("Scheduled job %q: %s", job.Name, exec.Status),
		"themeColor": teamsColor(exec.Status),
		"title":      fmt.Sprintf("Scheduled job %q: %s", job.Name, exec.Status),
		"text":       models.Truncate(exec.Result, resultPreviewLength),
	}
	body, err := json.Marshal(card)
	if err != nil {
		n.logger.Warn("Teams card marshal failed", "job", job.Name, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.TeamsWebhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Teams request build failed", "job", job.Name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Warn("Teams job notification failed", "job", job.Name, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("Teams webhook rejected notification",
			"job", job.Name, "status", resp.StatusCode)
	}
}

func teamsColor(status models.JobStatus) string {
	if status == models.JobSuccess {
		return "2EB67D"
	}
	return "E01E5A"
}
