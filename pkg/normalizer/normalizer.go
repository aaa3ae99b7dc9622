// Package normalizer converts source-specific payloads into the canonical
// Signal schema. Each source has a dedicated, stateless mapper; unknown
// sources fail with ErrUnsupportedSource.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/models"
)

// ErrUnsupportedSource is returned when no mapper exists for a source name.
var ErrUnsupportedSource = errors.New("unsupported signal source")

// Source names accepted at the ingestion boundary.
const (
	SourceZendesk        = "zendesk"
	SourceFreshdesk      = "freshdesk"
	SourceIntercom       = "intercom"
	SourceAPIFailure     = "api_failure"
	SourceCheckoutError  = "checkout_error"
	SourceWebhookFailure = "webhook_failure"
)

type mapper func(payload map[string]any, sig *models.Signal)

var mappers = map[string]mapper{
	SourceZendesk:        mapZendesk,
	SourceFreshdesk:      mapFreshdesk,
	SourceIntercom:       mapIntercom,
	SourceAPIFailure:     mapAPIFailure,
	SourceCheckoutError:  mapCheckoutError,
	SourceWebhookFailure: mapWebhookFailure,
}

// Normalize maps a raw source payload to a canonical Signal. The raw payload
// is retained verbatim for audit. The signal id is system-assigned and the
// timestamp is the ingestion time.
func Normalize(source string, payload map[string]any) (*models.Signal, error) {
	m, ok := mappers[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, source)
	}

	sig := &models.Signal{
		SignalID:   uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		RawData:    payload,
		MerchantID: extractMerchantID(payload),
		Context:    map[string]any{},
	}
	sig.MigrationStage = stringField(payload, "migration_stage")

	m(payload, sig)

	sig.ErrorMessage = models.TruncateErrorMessage(sig.ErrorMessage)
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("normalized signal invalid: %w", err)
	}
	return sig, nil
}

// extractMerchantID resolves the merchant from a payload, in priority order:
// well-known custom fields, a "merchant:*" tag, the requester id, else the
// unknown sentinel.
func extractMerchantID(payload map[string]any) string {
	for _, key := range []string{"merchant_id", "merchant", "shop_id", "account_id"} {
		if v := stringField(payload, key); v != "" {
			return v
		}
	}
	if fields, ok := payload["custom_fields"].(map[string]any); ok {
		for _, key := range []string{"merchant_id", "merchant"} {
			if v := stringField(fields, key); v != "" {
				return v
			}
		}
	}
	if tags, ok := payload["tags"].([]any); ok {
		for _, t := range tags {
			s, _ := t.(string)
			if id, found := strings.CutPrefix(s, "merchant:"); found && id != "" {
				return id
			}
		}
	}
	if requester, ok := payload["requester"].(map[string]any); ok {
		if v := stringField(requester, "id"); v != "" {
			return v
		}
	}
	if v := stringField(payload, "requester_id"); v != "" {
		return v
	}
	return models.UnknownMerchant
}

func mapZendesk(payload map[string]any, sig *models.Signal) {
	sig.Source = models.SourceSupportTicket
	switch stringField(payload, "priority") {
	case "urgent":
		sig.Severity = models.SeverityCritical
	case "high":
		sig.Severity = models.SeverityHigh
	case "low":
		sig.Severity = models.SeverityLow
	default: // "normal" and unset
		sig.Severity = models.SeverityMedium
	}
	sig.ErrorMessage = firstString(payload, "description", "subject")
	sig.AffectedResource = stringField(payload, "url")
	putScalar(sig.Context, "ticket_id", payload["id"])
	putScalar(sig.Context, "subject", payload["subject"])
}

func mapFreshdesk(payload map[string]any, sig *models.Signal) {
	sig.Source = models.SourceSupportTicket
	switch intField(payload, "priority") {
	case 1:
		sig.Severity = models.SeverityLow
	case 3:
		sig.Severity = models.SeverityHigh
	case 4:
		sig.Severity = models.SeverityCritical
	default: // 2 and unset
		sig.Severity = models.SeverityMedium
	}
	sig.ErrorMessage = firstString(payload, "description_text", "description", "subject")
	putScalar(sig.Context, "ticket_id", payload["id"])
	putScalar(sig.Context, "subject", payload["subject"])
}

func mapIntercom(payload map[string]any, sig *models.Signal) {
	sig.Source = models.SourceSupportTicket
	switch stringField(payload, "state") {
	case "open":
		sig.Severity = models.SeverityMedium
	default: // snoozed, closed, unset
		sig.Severity = models.SeverityLow
	}
	if src, ok := payload["source"].(map[string]any); ok {
		sig.ErrorMessage = stringField(src, "body")
	}
	if sig.ErrorMessage == "" {
		sig.ErrorMessage = stringField(payload, "body")
	}
	putScalar(sig.Context, "conversation_id", payload["id"])
	putScalar(sig.Context, "state", payload["state"])
}

func mapAPIFailure(payload map[string]any, sig *models.Signal) {
	sig.Source = models.SourceAPIFailure
	status := intField(payload, "status_code")
	switch {
	case status >= 500:
		sig.Severity = models.SeverityCritical
	case status >= 400:
		sig.Severity = models.SeverityHigh
	case status >= 300:
		sig.Severity = models.SeverityMedium
	default:
		sig.Severity = models.SeverityLow
	}
	if status > 0 {
		sig.ErrorCode = fmt.Sprintf("%d", status)
	} else {
		sig.ErrorCode = stringField(payload, "error_code")
	}
	sig.ErrorMessage = firstString(payload, "error_message", "message")
	sig.AffectedResource = firstString(payload, "endpoint", "url")
	putScalar(sig.Context, "method", payload["method"])
	putScalar(sig.Context, "status_code", payload["status_code"])
}

func mapCheckoutError(payload map[string]any, sig *models.Signal) {
	sig.Source = models.SourceCheckoutError
	sig.Severity = models.SeverityHigh // checkout failures are always high
	sig.ErrorCode = stringField(payload, "error_code")
	sig.ErrorMessage = firstString(payload, "error_message", "message")
	sig.AffectedResource = firstString(payload, "cart_id", "checkout_id")
	putScalar(sig.Context, "step", payload["step"])
	putScalar(sig.Context, "payment_method", payload["payment_method"])
}

func mapWebhookFailure(payload map[string]any, sig *models.Signal) {
	sig.Source = models.SourceWebhookFailure
	failures := intField(payload, "failure_count")
	switch {
	case failures >= 5:
		sig.Severity = models.SeverityCritical
	case failures >= 3:
		sig.Severity = models.SeverityHigh
	default:
		sig.Severity = models.SeverityMedium
	}
	sig.ErrorCode = stringField(payload, "error_code")
	sig.ErrorMessage = firstString(payload, "error_message", "last_error")
	sig.AffectedResource = stringField(payload, "webhook_url")
	putScalar(sig.Context, "failure_count", payload["failure_count"])
	putScalar(sig.Context, "event_type", payload["event_type"])
}

// --- field helpers ---

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(m, key); v != "" {
			return v
		}
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// putScalar records a context value only when it is a scalar, keeping the
// context map bounded and JSON-friendly.
func putScalar(ctx map[string]any, key string, v any) {
	switch v.(type) {
	case string, bool, int, int64, float64:
		ctx[key] = v
	}
}
