// Package redaction removes sensitive data from payloads before they reach
// logs, LLM prompts, or notifications. Redaction is pure: it returns a new
// structure and never mutates its input.
package redaction

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redacted is the replacement written over sensitive values.
const Redacted = "[REDACTED]"

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// PatternConfig is a redaction pattern as declared in configuration.
type PatternConfig struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// Config declares the sensitive field names and value patterns to redact.
type Config struct {
	SensitiveFields []string                 `yaml:"sensitive_fields" json:"sensitive_fields"`
	Patterns        map[string]PatternConfig `yaml:"patterns" json:"patterns"`
}

// DefaultConfig returns the built-in redaction rules. Deployments extend
// these through configuration; the built-ins are always applied.
func DefaultConfig() Config {
	return Config{
		SensitiveFields: []string{
			"password", "passwd", "pwd", "api_key", "apikey", "token",
			"access_token", "refresh_token", "bearer_token", "auth_token",
			"secret", "secret_key", "client_secret", "authorization",
			"credit_card", "card_number", "cvv", "ssn", "social_security",
			"private_key",
		},
		Patterns: map[string]PatternConfig{
			"email": {
				Pattern:     `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
				Replacement: Redacted,
			},
			"card_number": {
				Pattern:     `\b(?:\d[ \-]?){13,16}\b`,
				Replacement: Redacted,
			},
			"ssn": {
				Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
				Replacement: Redacted,
			},
			"phone": {
				Pattern:     `\b\+?1?[ .\-]?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`,
				Replacement: Redacted,
			},
			"bearer_token": {
				Pattern:     `(?i)bearer\s+[a-zA-Z0-9._\-]+`,
				Replacement: Redacted,
			},
			"aws_access_key": {
				Pattern:     `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`,
				Replacement: Redacted,
			},
			"api_key_value": {
				Pattern:     `\b(?:sk|pk|key)[_\-][a-zA-Z0-9]{16,}\b`,
				Replacement: Redacted,
			},
		},
	}
}

// Service applies field- and pattern-based redaction to arbitrary payloads.
type Service struct {
	fields   map[string]bool
	patterns []*CompiledPattern
}

// NewService compiles the configured patterns. Invalid patterns are logged
// and skipped rather than failing startup.
func NewService(cfg Config) *Service {
	s := &Service{fields: make(map[string]bool, len(cfg.SensitiveFields))}
	for _, f := range cfg.SensitiveFields {
		s.fields[strings.ToLower(f)] = true
	}
	for name, p := range cfg.Patterns {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = Redacted
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: replacement,
		})
	}
	return s
}

// RedactMap returns a deep copy of m with sensitive fields replaced and
// value patterns applied to every string. The input is left untouched.
func (s *Service) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s.fields[strings.ToLower(k)] {
			out[k] = Redacted
			continue
		}
		out[k] = s.redactValue(v)
	}
	return out
}

// RedactString applies the value patterns to a single string.
func (s *Service) RedactString(in string) string {
	for _, p := range s.patterns {
		in = p.Regex.ReplaceAllString(in, p.Replacement)
	}
	return in
}

func (s *Service) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.RedactString(val)
	case map[string]any:
		return s.RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.redactValue(item)
		}
		return out
	default:
		return val
	}
}
