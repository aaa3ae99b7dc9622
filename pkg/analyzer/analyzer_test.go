package analyzer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/models"
	"github.com/commerceops/driftwatch/pkg/redaction"
)

// fakeLLM returns a canned reply or error.
type fakeLLM struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeLLM) Complete(_ context.Context, _, user string) (string, error) {
	f.lastPrompt = user
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

const validReply = `{
	"category": "config_error",
	"confidence": 0.85,
	"reasoning": "webhook endpoint changed during migration but the subscription was not updated",
	"evidence": ["all failures target the legacy webhook URL"],
	"recommended_actions": ["update the webhook subscription to the new endpoint"],
	"alternatives": [{"hypothesis": "platform outage", "reason_rejected": "only one merchant affected"}]
}`

func someSignals() []*models.Signal {
	return []*models.Signal{{
		SignalID:     "sig-1",
		Source:       models.SourceWebhookFailure,
		MerchantID:   "merchant-a",
		Severity:     models.SeverityHigh,
		ErrorCode:    "TIMEOUT",
		ErrorMessage: "delivery to legacy endpoint timed out",
	}}
}

func TestAnalyzeLLMPath(t *testing.T) {
	a := New(&fakeLLM{reply: validReply}, nil, nil, nil, nil)

	out, err := a.Analyze(context.Background(), someSignals(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, PathLLM, out.Path)
	assert.Empty(t, out.FallbackReason)
	assert.Equal(t, models.CategoryConfigError, out.Analysis.Category)
	assert.InDelta(t, 0.85, out.Analysis.Confidence, 1e-9)
	require.NoError(t, out.Analysis.Validate())
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	a := New(&fakeLLM{reply: "```json\n" + validReply + "\n```"}, nil, nil, nil, nil)

	out, err := a.Analyze(context.Background(), someSignals(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, PathLLM, out.Path)
	assert.Equal(t, models.CategoryConfigError, out.Analysis.Category)
}

func TestAnalyzeFallsBackOnLLMError(t *testing.T) {
	a := New(&fakeLLM{err: errors.New("quota exceeded")}, nil, nil, nil, nil)

	out, err := a.Analyze(context.Background(), someSignals(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, PathFallback, out.Path)
	assert.Contains(t, out.FallbackReason, "quota exceeded")
	require.NoError(t, out.Analysis.Validate())
	assert.NotEmpty(t, out.Analysis.Alternatives, "fallback must record alternatives considered")
}

type fakeCritical struct{ reported []string }

func (f *fakeCritical) ReportCriticalError(errorType string) {
	f.reported = append(f.reported, errorType)
}

func TestQuotaErrorsReachSafeModeDetector(t *testing.T) {
	t.Run("quota failure is reported", func(t *testing.T) {
		critical := &fakeCritical{}
		a := New(&fakeLLM{err: fmt.Errorf("%w: 429 too many requests", ErrQuotaExceeded)}, nil, nil, nil, critical)

		out, err := a.Analyze(context.Background(), someSignals(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, PathFallback, out.Path)
		assert.Equal(t, []string{"claude_api_quota_exceeded"}, critical.reported)
	})

	t.Run("ordinary failures are not", func(t *testing.T) {
		critical := &fakeCritical{}
		a := New(&fakeLLM{err: errors.New("connection reset")}, nil, nil, nil, critical)

		out, err := a.Analyze(context.Background(), someSignals(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, PathFallback, out.Path)
		assert.Empty(t, critical.reported)
	})
}

func TestAnalyzeFallsBackOnGarbageReply(t *testing.T) {
	tests := map[string]string{
		"not json":                "the root cause is probably config",
		"invalid category":        `{"category":"cosmic_rays","confidence":0.9,"reasoning":"x","evidence":["e"],"recommended_actions":["a"]}`,
		"confidence out of range": `{"category":"config_error","confidence":1.4,"reasoning":"x","evidence":["e"],"recommended_actions":["a"]}`,
		"empty reasoning":         `{"category":"config_error","confidence":0.9,"reasoning":"","evidence":["e"],"recommended_actions":["a"]}`,
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			a := New(&fakeLLM{reply: reply}, nil, nil, nil, nil)
			out, err := a.Analyze(context.Background(), someSignals(), nil, nil)
			require.NoError(t, err)
			assert.Equal(t, PathFallback, out.Path)
			require.NoError(t, out.Analysis.Validate())
		})
	}
}

func TestAnalyzeRequiresSignals(t *testing.T) {
	a := New(&fakeLLM{reply: validReply}, nil, nil, nil, nil)
	_, err := a.Analyze(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoSignals)
}

func TestPromptRedactsSensitiveData(t *testing.T) {
	llm := &fakeLLM{reply: validReply}
	a := New(llm, nil, nil, redaction.NewService(redaction.DefaultConfig()), nil)

	signals := someSignals()
	signals[0].ErrorMessage = "auth failed for ops@merchant.example"
	_, err := a.Analyze(context.Background(), signals, nil, map[string]any{
		"api_key": "sk_live_1234567890abcdef",
		"plan":    "enterprise",
	})
	require.NoError(t, err)
	assert.NotContains(t, llm.lastPrompt, "ops@merchant.example")
	assert.NotContains(t, llm.lastPrompt, "sk_live_1234567890abcdef")
	assert.Contains(t, llm.lastPrompt, "enterprise")
}

func TestPromptCapsRenderedSignals(t *testing.T) {
	llm := &fakeLLM{reply: validReply}
	a := New(llm, nil, nil, nil, nil)

	signals := make([]*models.Signal, 25)
	for i := range signals {
		signals[i] = someSignals()[0]
	}
	_, err := a.Analyze(context.Background(), signals, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, llm.lastPrompt, "25 total, 10 shown")
	assert.Contains(t, llm.lastPrompt, "15 more signals")
}

func TestClassifyRuleOrder(t *testing.T) {
	sig := func(source models.SignalSource, code, msg string) *models.Signal {
		return &models.Signal{SignalID: "s", Source: source, MerchantID: "m", Severity: models.SeverityHigh, ErrorCode: code, ErrorMessage: msg}
	}

	t.Run("auth beats config vocabulary", func(t *testing.T) {
		m := classify([]*models.Signal{sig(models.SourceAPIFailure, "401", "config rejected")}, nil)
		assert.Equal(t, models.CategoryMigrationMisstep, m.category)
		assert.InDelta(t, 0.75, m.confidence, 1e-9)
	})

	t.Run("config vocabulary", func(t *testing.T) {
		m := classify([]*models.Signal{sig(models.SourceAPIFailure, "", "invalid environment variable")}, nil)
		assert.Equal(t, models.CategoryConfigError, m.category)
		assert.InDelta(t, 0.70, m.confidence, 1e-9)
	})

	t.Run("webhook source", func(t *testing.T) {
		m := classify([]*models.Signal{sig(models.SourceWebhookFailure, "", "delivery failed")}, nil)
		assert.Equal(t, models.CategoryConfigError, m.category)
		assert.InDelta(t, 0.65, m.confidence, 1e-9)
	})

	t.Run("404 frequency split", func(t *testing.T) {
		s := []*models.Signal{sig(models.SourceAPIFailure, "404", "")}

		m := classify(s, []*models.Pattern{{PatternID: "p", Frequency: 8}})
		assert.Equal(t, models.CategoryPlatformRegression, m.category)
		assert.InDelta(t, 0.68, m.confidence, 1e-9)

		m = classify(s, []*models.Pattern{{PatternID: "p", Frequency: 2}})
		assert.Equal(t, models.CategoryMigrationMisstep, m.category)
		assert.InDelta(t, 0.65, m.confidence, 1e-9)
	})

	t.Run("checkout source", func(t *testing.T) {
		m := classify([]*models.Signal{sig(models.SourceCheckoutError, "", "payment step failed")}, nil)
		assert.Equal(t, models.CategoryMigrationMisstep, m.category)
		assert.InDelta(t, 0.60, m.confidence, 1e-9)
	})

	t.Run("multi merchant pattern", func(t *testing.T) {
		m := classify(
			[]*models.Signal{sig(models.SourceAPIFailure, "500", "")},
			[]*models.Pattern{{PatternID: "p", MerchantIDs: []string{"a", "b", "c", "d"}}},
		)
		assert.Equal(t, models.CategoryPlatformRegression, m.category)
		assert.InDelta(t, 0.70, m.confidence, 1e-9)
	})

	t.Run("documentation vocabulary", func(t *testing.T) {
		m := classify([]*models.Signal{sig(models.SourceSupportTicket, "", "the guide is unclear about redirects")}, nil)
		assert.Equal(t, models.CategoryDocumentationGap, m.category)
		assert.InDelta(t, 0.60, m.confidence, 1e-9)
	})

	t.Run("default", func(t *testing.T) {
		m := classify([]*models.Signal{sig(models.SourceSupportTicket, "", "orders look odd")}, nil)
		assert.Equal(t, models.CategoryMigrationMisstep, m.category)
		assert.InDelta(t, 0.50, m.confidence, 1e-9)
	})
}
