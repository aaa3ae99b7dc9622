// Package notify posts operator notifications to Slack. Notifications are
// best-effort: a delivery failure is logged and never fails the pipeline.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/slack-go/slack"

	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/models"
)

// slackAPI is the slice of the Slack client we use.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts to a single operator channel. A nil Notifier is valid and
// drops everything, so wiring is unconditional.
type Notifier struct {
	api     slackAPI
	channel string
}

// New builds a notifier from config. Returns nil when Slack is disabled.
func New(cfg config.SlackConfig) *Notifier {
	if !cfg.Enabled {
		return nil
	}
	return &Notifier{
		api:     slack.New(os.Getenv(cfg.TokenEnv)),
		channel: cfg.Channel,
	}
}

// NewWithAPI wires an explicit API implementation. Used by tests.
func NewWithAPI(api slackAPI, channel string) *Notifier {
	return &Notifier{api: api, channel: channel}
}

func (n *Notifier) post(ctx context.Context, text string) {
	if n == nil {
		return
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Error("Slack notification failed", "error", err)
	}
}

// ApprovalRequested announces a decision awaiting a human.
func (n *Notifier) ApprovalRequested(ctx context.Context, d *models.Decision) {
	n.post(ctx, fmt.Sprintf(
		":raised_hand: Approval needed for issue %s: %s (risk %s, confidence %.2f)\n%s",
		d.IssueID, d.ActionType, d.RiskLevel, d.Confidence, d.Reasoning))
}

// ActionFailed announces an action that exhausted its retries.
func (n *Notifier) ActionFailed(ctx context.Context, action *models.Action, errMsg string) {
	n.post(ctx, fmt.Sprintf(
		":x: Action %s failed for issue %s (merchant %s): %s",
		action.Type, action.IssueID, action.MerchantID, errMsg))
}

// SafeModeChanged announces interlock edges.
func (n *Notifier) SafeModeChanged(ctx context.Context, active bool, reason string) {
	if active {
		n.post(ctx, fmt.Sprintf(
			":rotating_light: Safe mode ACTIVATED (%s). Automatic actions are blocked until an operator deactivates.", reason))
		return
	}
	n.post(ctx, fmt.Sprintf(":white_check_mark: Safe mode deactivated (was: %s).", reason))
}

// EscalationFiled announces an engineering escalation ticket.
func (n *Notifier) EscalationFiled(ctx context.Context, issueID, ticketID, priority string) {
	n.post(ctx, fmt.Sprintf(
		":ticket: Engineering escalation %s filed for issue %s (priority %s).",
		ticketID, issueID, priority))
}

// timestamp formatting for digest messages.
func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// Digest posts a periodic summary of open issues.
func (n *Notifier) Digest(ctx context.Context, openIssues int, oldestOpen time.Time) {
	if openIssues == 0 {
		return
	}
	n.post(ctx, fmt.Sprintf(
		":bar_chart: %d issues open, oldest since %s.", openIssues, fmtTime(oldestOpen)))
}
