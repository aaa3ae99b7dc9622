package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/tickets"
)

// paramString pulls a required string parameter; a missing or empty value is
// a validation error and never retried.
func paramString(action *models.Action, key string) (string, error) {
	raw, ok := action.Parameters[key]
	if !ok {
		return "", fmt.Errorf("action %s missing required parameter %q", action.Type, key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("action %s parameter %q must be a non-empty string", action.Type, key)
	}
	return s, nil
}

func optionalString(action *models.Action, key, fallback string) string {
	if s, ok := action.Parameters[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// supportGuidance comments on the merchant's existing ticket when one is
// referenced, otherwise opens a new one with the rendered guidance.
func (e *Executor) supportGuidance(ctx context.Context, action *models.Action) (map[string]any, error) {
	message, err := paramString(action, "message")
	if err != nil {
		return nil, err
	}

	if ticketID, ok := action.Parameters["ticket_id"].(string); ok && ticketID != "" {
		if err := e.desk.Comment(ctx, ticketID, message); err != nil {
			return nil, err
		}
		return map[string]any{"ticket_id": ticketID, "updated": true}, nil
	}

	ticketID, err := e.desk.Create(ctx, &tickets.Ticket{
		Queue:      tickets.QueueSupport,
		Subject:    fmt.Sprintf("Migration guidance for merchant %s", action.MerchantID),
		Body:       message,
		Priority:   optionalString(action, "priority", "medium"),
		MerchantID: action.MerchantID,
		Tags:       []string{"driftwatch", "migration"},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"ticket_id": ticketID, "created": true}, nil
}

// proactiveCommunication fans out to every recipient; the action succeeds
// when at least one delivery does.
func (e *Executor) proactiveCommunication(ctx context.Context, action *models.Action) (map[string]any, error) {
	message, err := paramString(action, "message")
	if err != nil {
		return nil, err
	}
	channel := optionalString(action, "channel", "email")

	raw, ok := action.Parameters["recipients"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("action %s requires a non-empty recipients list", action.Type)
	}

	statuses := make(map[string]string, len(raw))
	notified := 0
	for _, r := range raw {
		recipient, ok := r.(string)
		if !ok || recipient == "" {
			continue
		}
		if err := e.messenger.Send(ctx, recipient, channel, message); err != nil {
			statuses[recipient] = "failed: " + err.Error()
			continue
		}
		statuses[recipient] = "sent"
		notified++
	}

	result := map[string]any{
		"notified":             notified,
		"total":                len(raw),
		"per_recipient_status": statuses,
	}
	if notified == 0 {
		return nil, fmt.Errorf("all %d recipients failed on channel %s", len(raw), channel)
	}
	return result, nil
}

// engineeringEscalation files a ticket carrying the full investigation.
func (e *Executor) engineeringEscalation(ctx context.Context, action *models.Action) (map[string]any, error) {
	priority := optionalString(action, "priority", "medium")
	summary := optionalString(action, "summary",
		fmt.Sprintf("Platform issue affecting merchant %s", action.MerchantID))

	var body strings.Builder
	body.WriteString(summary)
	body.WriteString("\n\n")
	if analysis, ok := action.Parameters["analysis"].(string); ok && analysis != "" {
		body.WriteString("Analysis:\n")
		body.WriteString(analysis)
		body.WriteString("\n\n")
	}
	if evidence, ok := action.Parameters["evidence"].([]any); ok {
		body.WriteString("Evidence:\n")
		for _, item := range evidence {
			fmt.Fprintf(&body, "- %v\n", item)
		}
		body.WriteString("\n")
	}
	if recs, ok := action.Parameters["recommendations"].([]any); ok {
		body.WriteString("Recommended actions:\n")
		for _, item := range recs {
			fmt.Fprintf(&body, "- %v\n", item)
		}
		body.WriteString("\n")
	}
	if signals, ok := action.Parameters["signals"].([]any); ok && len(signals) > 0 {
		body.WriteString("Signals:\n")
		for _, item := range signals {
			fmt.Fprintf(&body, "- %v\n", item)
		}
		body.WriteString("\n")
	}
	if failure, ok := action.Parameters["failure"].(string); ok && failure != "" {
		body.WriteString("Original failure: ")
		body.WriteString(failure)
		body.WriteString("\n")
	}
	if action.Reasoning != "" {
		body.WriteString("Recommendation: ")
		body.WriteString(action.Reasoning)
		body.WriteString("\n")
	}

	ticketID, err := e.desk.Create(ctx, &tickets.Ticket{
		Queue:      tickets.QueueEngineering,
		Subject:    summary,
		Body:       body.String(),
		Priority:   priority,
		MerchantID: action.MerchantID,
		Tags:       []string{"driftwatch", "escalation"},
	})
	if err != nil {
		return nil, err
	}
	e.notifier.EscalationFiled(ctx, action.IssueID, ticketID, priority)
	return map[string]any{"ticket_id": ticketID, "priority": priority}, nil
}

// temporaryMitigation applies a reversible config change and embeds what a
// later rollback needs. A per-merchant cooldown prevents churning the same
// resource.
func (e *Executor) temporaryMitigation(ctx context.Context, action *models.Action) (map[string]any, map[string]any, error) {
	resourceType, err := paramString(action, "resource_type")
	if err != nil {
		return nil, nil, err
	}
	resourceID := optionalString(action, "resource_id", action.MerchantID)
	changes, ok := action.Parameters["changes"].(map[string]any)
	if !ok || len(changes) == 0 {
		return nil, nil, fmt.Errorf("action %s requires a non-empty changes map", action.Type)
	}

	cooling, err := e.gate.InCooldown(ctx, action.MerchantID, action.Type)
	if err == nil && cooling {
		return nil, nil, fmt.Errorf("mitigation cooldown active for merchant %s", action.MerchantID)
	}

	change, err := e.mitigator.ApplyChange(ctx, resourceType, resourceID, changes,
		optionalString(action, "reason", "automated mitigation"), actorName)
	if err != nil {
		return nil, nil, err
	}

	// The mitigation already applied; a failed cooldown write is not worth
	// failing the action over.
	if err := e.gate.SetCooldown(ctx, action.MerchantID, action.Type, e.cfg.ActionCooldown); err != nil {
		slog.Warn("Cooldown write failed", "merchant_id", action.MerchantID, "error", err)
	}
	return map[string]any{"change_id": change.ChangeID, "applied": true}, rollbackData(change), nil
}

func rollbackData(change *models.ConfigChange) map[string]any {
	return map[string]any{
		"change_id":       change.ChangeID,
		"before_snapshot": change.BeforeSnapshot,
	}
}

// documentationUpdate files a doc-update ticket for the writers.
func (e *Executor) documentationUpdate(ctx context.Context, action *models.Action) (map[string]any, error) {
	content, err := paramString(action, "message")
	if err != nil {
		return nil, err
	}
	section := optionalString(action, "section", "general")

	ticketID, err := e.desk.Create(ctx, &tickets.Ticket{
		Queue:    tickets.QueueDocumentation,
		Subject:  fmt.Sprintf("Documentation gap: %s", section),
		Body:     content,
		Priority: optionalString(action, "priority", "medium"),
		Tags:     []string{"driftwatch", "docs", section},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"ticket_id": ticketID, "section": section}, nil
}
