// Package executor runs decided actions against the outside world, subject
// to the safe-mode interlock, per-merchant rate limits, retry with backoff,
// and mandatory audit recording.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/audit"
	"github.com/commerceops/driftwatch/pkg/breaker"
	"github.com/commerceops/driftwatch/pkg/config"
	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/notify"
	"github.com/commerceops/driftwatch/pkg/tickets"
)

const actorName = "executor"

// TicketDesk files and updates tickets.
type TicketDesk interface {
	Create(ctx context.Context, t *tickets.Ticket) (string, error)
	Comment(ctx context.Context, ticketID, body string) error
}

// Mitigator applies reversible config changes.
type Mitigator interface {
	ApplyChange(ctx context.Context, resourceType, resourceID string, changes map[string]any, reason, appliedBy string) (*models.ConfigChange, error)
}

// Messenger delivers proactive merchant communications over one channel.
type Messenger interface {
	Send(ctx context.Context, recipient, channel, message string) error
}

// ActionGate is the Redis-backed rate limit and cooldown surface.
type ActionGate interface {
	AllowAction(ctx context.Context, merchantID string, actionType models.ActionType, limit int) (bool, error)
	ActionCount(ctx context.Context, merchantID string, actionType models.ActionType) (int, error)
	SetCooldown(ctx context.Context, merchantID string, actionType models.ActionType, d time.Duration) error
	InCooldown(ctx context.Context, merchantID string, actionType models.ActionType) (bool, error)
}

// Auditor appends to the hash-chained ledger.
type Auditor interface {
	Record(ctx context.Context, issueID, eventType, actor string, inputs, outputs map[string]any, reasoning string) (*models.AuditEntry, error)
}

// SafeMode reports the interlock state.
type SafeMode interface {
	Active() bool
}

// VolumeChecker is fed the current window count for anomaly tripping.
type VolumeChecker interface {
	CheckActionVolume(count int) bool
}

// Redactor scrubs sensitive values before they reach the audit trail.
type Redactor interface {
	RedactMap(m map[string]any) map[string]any
}

// Executor dispatches actions to their handlers.
type Executor struct {
	cfg       config.ExecutorConfig
	desk      TicketDesk
	mitigator Mitigator
	messenger Messenger
	gate      ActionGate
	ledger    Auditor
	safeMode  SafeMode
	volume    VolumeChecker
	redactor  Redactor
	notifier  *notify.Notifier
}

// Deps bundles the executor's collaborators. Optional fields may be nil.
type Deps struct {
	Desk      TicketDesk
	Mitigator Mitigator
	Messenger Messenger
	Gate      ActionGate
	Ledger    Auditor
	SafeMode  SafeMode
	Volume    VolumeChecker
	Redactor  Redactor
	Notifier  *notify.Notifier
}

// New creates an executor.
func New(cfg config.ExecutorConfig, deps Deps) *Executor {
	return &Executor{
		cfg:       cfg,
		desk:      deps.Desk,
		mitigator: deps.Mitigator,
		messenger: deps.Messenger,
		gate:      deps.Gate,
		ledger:    deps.Ledger,
		safeMode:  deps.SafeMode,
		volume:    deps.Volume,
		redactor:  deps.Redactor,
		notifier:  deps.Notifier,
	}
}

// Execute runs one action through pre-checks, the handler with retry, and
// audit recording. The returned result is always non-nil; the error covers
// only infrastructure failures around the execution itself.
func (e *Executor) Execute(ctx context.Context, action *models.Action) (*models.ActionResult, error) {
	if err := models.ActionTypeValidator(action.Type); err != nil {
		return e.failed(ctx, action, err.Error()), nil
	}

	// Interlock first: while safe mode is active nothing executes.
	if e.safeMode != nil && e.safeMode.Active() {
		return e.failed(ctx, action, "Safe mode active"), nil
	}

	// Rate limit: reject without consuming a slot when the window is full.
	allowed, err := e.gate.AllowAction(ctx, action.MerchantID, action.Type, e.cfg.MaxActionsPerWindow)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		msg := fmt.Sprintf("Rate limit exceeded for merchant %s action %s", action.MerchantID, action.Type)
		return e.failed(ctx, action, msg), nil
	}

	// Excessive-action flag: log only, never reject. The safe-mode detector
	// trips separately at its own higher threshold.
	count, err := e.gate.ActionCount(ctx, action.MerchantID, action.Type)
	if err == nil {
		if count >= e.cfg.ExcessiveActionThreshold {
			slog.Warn("Excessive action volume flagged",
				"merchant_id", action.MerchantID, "action_type", action.Type, "count", count)
		}
		if e.volume != nil {
			e.volume.CheckActionVolume(count)
		}
	}

	result, rollback, execErr := e.dispatchWithRetry(ctx, action)
	if execErr != nil {
		failed := e.failed(ctx, action, execErr.Error())
		e.notifier.ActionFailed(ctx, action, execErr.Error())
		if !action.Synthetic {
			e.escalateFailure(ctx, action, execErr)
		}
		return failed, nil
	}

	out := &models.ActionResult{
		ActionID:     action.ActionID,
		Success:      true,
		Result:       result,
		ExecutedAt:   time.Now().UTC(),
		RollbackData: rollback,
	}
	e.record(ctx, action, audit.EventActionExecuted, result, "")
	return out, nil
}

// dispatchWithRetry wraps the handler in the retry policy: transient errors
// (connection, timeout) retry with exponential backoff; everything else
// propagates on first occurrence.
func (e *Executor) dispatchWithRetry(ctx context.Context, action *models.Action) (map[string]any, map[string]any, error) {
	var result, rollback map[string]any

	op := func() error {
		res, rb, err := e.dispatch(ctx, action)
		if err != nil {
			if isTransient(err) {
				slog.Warn("Action attempt failed, will retry",
					"action_id", action.ActionID, "action_type", action.Type, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		result, rollback = res, rb
		return nil
	}

	if action.Synthetic {
		// Synthetic escalations run exactly once.
		return e.dispatch(ctx, action)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBaseDelay
	bo.MaxInterval = e.cfg.RetryMaxDelay
	bo.MaxElapsedTime = 0

	retries := uint64(0)
	if e.cfg.RetryAttempts > 1 {
		retries = uint64(e.cfg.RetryAttempts - 1)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	return result, rollback, err
}

func (e *Executor) dispatch(ctx context.Context, action *models.Action) (map[string]any, map[string]any, error) {
	switch action.Type {
	case models.ActionSupportGuidance:
		res, err := e.supportGuidance(ctx, action)
		return res, nil, err
	case models.ActionProactiveCommunication:
		res, err := e.proactiveCommunication(ctx, action)
		return res, nil, err
	case models.ActionEngineeringEscalation:
		res, err := e.engineeringEscalation(ctx, action)
		return res, nil, err
	case models.ActionTemporaryMitigation:
		return e.temporaryMitigation(ctx, action)
	case models.ActionDocumentationUpdate:
		res, err := e.documentationUpdate(ctx, action)
		return res, nil, err
	}
	return nil, nil, fmt.Errorf("no handler for action type %q", action.Type)
}

// escalateFailure files the synthetic engineering escalation that surfaces a
// retry-exhausted action. It never recurses.
func (e *Executor) escalateFailure(ctx context.Context, action *models.Action, cause error) {
	synthetic := &models.Action{
		ActionID:   uuid.New().String(),
		IssueID:    action.IssueID,
		DecisionID: action.DecisionID,
		Type:       models.ActionEngineeringEscalation,
		MerchantID: action.MerchantID,
		Parameters: map[string]any{
			"priority":         "high",
			"summary":          fmt.Sprintf("Automated %s failed after retries", action.Type),
			"failure":          cause.Error(),
			"failed_action_id": action.ActionID,
		},
		Reasoning: "Retry budget exhausted; surfacing to engineering.",
		Synthetic: true,
	}

	result, _, err := e.dispatch(ctx, synthetic)
	if err != nil {
		slog.Error("Synthetic escalation failed",
			"issue_id", action.IssueID, "failed_action_id", action.ActionID, "error", err)
		e.record(ctx, synthetic, audit.EventActionFailed, nil, err.Error())
		return
	}
	e.record(ctx, synthetic, audit.EventActionExecuted, result, "")
}

func (e *Executor) failed(ctx context.Context, action *models.Action, msg string) *models.ActionResult {
	e.record(ctx, action, audit.EventActionFailed, nil, msg)
	return &models.ActionResult{
		ActionID:     action.ActionID,
		Success:      false,
		ErrorMessage: msg,
		ExecutedAt:   time.Now().UTC(),
	}
}

// record appends the action outcome to the ledger. Audit failures are logged
// but never fail the action itself.
func (e *Executor) record(ctx context.Context, action *models.Action, event string, outputs map[string]any, errMsg string) {
	if e.ledger == nil {
		return
	}
	params := action.Parameters
	if e.redactor != nil {
		params = e.redactor.RedactMap(params)
	}
	inputs := map[string]any{
		"action_id":   action.ActionID,
		"action_type": string(action.Type),
		"merchant_id": action.MerchantID,
		"parameters":  params,
		"synthetic":   action.Synthetic,
	}
	if errMsg != "" {
		if outputs == nil {
			outputs = map[string]any{}
		}
		outputs["error_message"] = errMsg
	}
	if _, err := e.ledger.Record(ctx, action.IssueID, event, actorName, inputs, outputs, action.Reasoning); err != nil {
		slog.Error("Audit record failed", "issue_id", action.IssueID, "event", event, "error", err)
	}
}

// isTransient classifies connection and timeout errors as retryable.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, breaker.ErrOpen)
}
