package alerts

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// LogNotifier writes fired alerts to the structured log. Always configured;
// acts as the fallback channel when no external notifier is set up.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "alert-log-notifier")}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, rule *models.AlertRule, inst *models.AlertInstance) error {
	n.logger.Warn("ALERT",
		"severity", inst.Severity,
		"rule", rule.Name,
		"tenant_id", inst.TenantID,
		"metric", rule.Metric,
		"value", inst.MetricValue,
		"threshold", inst.Threshold,
		"message", inst.Message)
	return nil
}

// SlackNotifier posts fired alerts to a Slack channel.
type SlackNotifier struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewSlackNotifier creates a Slack notifier.
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	return &SlackNotifier{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "alert-slack-notifier"),
	}
}

// NewSlackNotifierWithAPIURL creates a Slack notifier that targets a custom
// API URL. Useful for testing with a mock server.
func NewSlackNotifierWithAPIURL(token, channelID, apiURL string) *SlackNotifier {
	return &SlackNotifier{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "alert-slack-notifier"),
	}
}

// Name implements Notifier.
func (n *SlackNotifier) Name() string { return "slack" }

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, rule *models.AlertRule, inst *models.AlertInstance) error {
	attachment := goslack.Attachment{
		Color: severityColor(inst.Severity),
		Title: fmt.Sprintf("[%s] %s", inst.Severity, rule.Name),
		Text:  inst.Message,
		Fields: []goslack.AttachmentField{
			{Title: "Metric", Value: rule.Metric, Short: true},
			{Title: "Value", Value: fmt.Sprintf("%.4f", inst.MetricValue), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%.4f", inst.Threshold), Short: true},
			{Title: "Tenant", Value: tenantLabel(inst.TenantID), Short: true},
		},
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		goslack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("post alert to slack: %w", err)
	}
	return nil
}

func severityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "danger"
	case models.SeverityWarning:
		return "warning"
	default:
		return "#439FE0"
	}
}

func tenantLabel(tenantID string) string {
	if tenantID == "" {
		return "platform"
	}
	return tenantID
}
