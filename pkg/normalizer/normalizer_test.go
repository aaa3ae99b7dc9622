package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/models"
)

func TestNormalizeUnsupportedSource(t *testing.T) {
	_, err := Normalize("pagerduty", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestNormalizeZendesk(t *testing.T) {
	tests := []struct {
		priority string
		want     models.Severity
	}{
		{"urgent", models.SeverityCritical},
		{"high", models.SeverityHigh},
		{"normal", models.SeverityMedium},
		{"low", models.SeverityLow},
		{"", models.SeverityMedium},
	}
	for _, tc := range tests {
		t.Run("priority "+tc.priority, func(t *testing.T) {
			sig, err := Normalize(SourceZendesk, map[string]any{
				"id":          float64(1234),
				"priority":    tc.priority,
				"subject":     "Checkout broken after migration",
				"description": "Customers cannot complete checkout since cutover",
				"custom_fields": map[string]any{
					"merchant_id": "merchant-a",
				},
			})
			require.NoError(t, err)
			assert.Equal(t, models.SourceSupportTicket, sig.Source)
			assert.Equal(t, tc.want, sig.Severity)
			assert.Equal(t, "merchant-a", sig.MerchantID)
			assert.Equal(t, "Customers cannot complete checkout since cutover", sig.ErrorMessage)
		})
	}
}

func TestNormalizeFreshdesk(t *testing.T) {
	for priority, want := range map[int]models.Severity{
		1: models.SeverityLow,
		2: models.SeverityMedium,
		3: models.SeverityHigh,
		4: models.SeverityCritical,
	} {
		sig, err := Normalize(SourceFreshdesk, map[string]any{
			"priority":         float64(priority),
			"description_text": "orders stuck in pending",
			"merchant_id":      "merchant-b",
		})
		require.NoError(t, err)
		assert.Equal(t, want, sig.Severity, "priority %d", priority)
	}
}

func TestNormalizeIntercom(t *testing.T) {
	sig, err := Normalize(SourceIntercom, map[string]any{
		"id":    "conv-9",
		"state": "open",
		"source": map[string]any{
			"body": "webhooks stopped firing",
		},
		"tags": []any{"billing", "merchant:merchant-c"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, sig.Severity)
	assert.Equal(t, "merchant-c", sig.MerchantID)
	assert.Equal(t, "webhooks stopped firing", sig.ErrorMessage)

	t.Run("closed conversations are low", func(t *testing.T) {
		sig, err := Normalize(SourceIntercom, map[string]any{
			"state":       "closed",
			"merchant_id": "merchant-c",
		})
		require.NoError(t, err)
		assert.Equal(t, models.SeverityLow, sig.Severity)
	})
}

func TestNormalizeAPIFailure(t *testing.T) {
	tests := []struct {
		status int
		want   models.Severity
	}{
		{503, models.SeverityCritical},
		{429, models.SeverityHigh},
		{301, models.SeverityMedium},
		{200, models.SeverityLow},
	}
	for _, tc := range tests {
		sig, err := Normalize(SourceAPIFailure, map[string]any{
			"status_code":   float64(tc.status),
			"endpoint":      "/v1/orders",
			"error_message": "upstream timeout",
			"merchant_id":   "merchant-d",
		})
		require.NoError(t, err)
		assert.Equal(t, models.SourceAPIFailure, sig.Source)
		assert.Equal(t, tc.want, sig.Severity, "status %d", tc.status)
	}

	t.Run("status code becomes error code", func(t *testing.T) {
		sig, err := Normalize(SourceAPIFailure, map[string]any{
			"status_code": float64(429),
			"merchant_id": "merchant-d",
		})
		require.NoError(t, err)
		assert.Equal(t, "429", sig.ErrorCode)
	})
}

func TestNormalizeCheckoutError(t *testing.T) {
	sig, err := Normalize(SourceCheckoutError, map[string]any{
		"error_code":  "PAYMENT_DECLINED",
		"message":     "gateway rejected transaction",
		"cart_id":     "cart-17",
		"merchant_id": "merchant-e",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, sig.Severity, "checkout errors always high")
	assert.Equal(t, "PAYMENT_DECLINED", sig.ErrorCode)
	assert.Equal(t, "cart-17", sig.AffectedResource)
}

func TestNormalizeWebhookFailure(t *testing.T) {
	tests := []struct {
		failures int
		want     models.Severity
	}{
		{6, models.SeverityCritical},
		{3, models.SeverityHigh},
		{1, models.SeverityMedium},
	}
	for _, tc := range tests {
		sig, err := Normalize(SourceWebhookFailure, map[string]any{
			"failure_count": float64(tc.failures),
			"webhook_url":   "https://merchant.test/hook",
			"last_error":    "connection refused",
			"merchant_id":   "merchant-f",
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, sig.Severity, "%d failures", tc.failures)
	}
}

func TestNormalizeCommon(t *testing.T) {
	t.Run("unresolvable merchant falls back to unknown", func(t *testing.T) {
		sig, err := Normalize(SourceCheckoutError, map[string]any{
			"error_code": "TIMEOUT",
		})
		require.NoError(t, err)
		assert.Equal(t, models.UnknownMerchant, sig.MerchantID)
	})

	t.Run("requester id used as last resort", func(t *testing.T) {
		sig, err := Normalize(SourceZendesk, map[string]any{
			"requester": map[string]any{"id": float64(5551)},
		})
		require.NoError(t, err)
		assert.Equal(t, "5551", sig.MerchantID)
	})

	t.Run("long error messages truncated", func(t *testing.T) {
		sig, err := Normalize(SourceAPIFailure, map[string]any{
			"status_code":   float64(500),
			"error_message": strings.Repeat("e", 2000),
			"merchant_id":   "merchant-g",
		})
		require.NoError(t, err)
		assert.Len(t, sig.ErrorMessage, models.MaxErrorMessageLen)
	})

	t.Run("raw payload preserved", func(t *testing.T) {
		payload := map[string]any{"status_code": float64(500), "merchant_id": "m"}
		sig, err := Normalize(SourceAPIFailure, payload)
		require.NoError(t, err)
		assert.Equal(t, payload, sig.RawData)
	})

	t.Run("ids are unique per call", func(t *testing.T) {
		a, err := Normalize(SourceCheckoutError, map[string]any{"merchant_id": "m"})
		require.NoError(t, err)
		b, err := Normalize(SourceCheckoutError, map[string]any{"merchant_id": "m"})
		require.NoError(t, err)
		assert.NotEqual(t, a.SignalID, b.SignalID)
	})
}
