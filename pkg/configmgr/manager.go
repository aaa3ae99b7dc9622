// Package configmgr applies reversible configuration changes to merchant
// resources. Every change captures before and after snapshots; rollback
// replays the before snapshot exactly once.
package configmgr

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commerceops/driftwatch/pkg/models"
)

// ConfigSource reads and writes live resource configuration. Implemented
// against the platform's config API; tests use an in-memory fake.
type ConfigSource interface {
	Fetch(ctx context.Context, resourceType, resourceID string) (map[string]any, error)
	Apply(ctx context.Context, resourceType, resourceID string, cfg map[string]any) error
}

// ChangeStore persists the change log.
type ChangeStore interface {
	Insert(ctx context.Context, c *models.ConfigChange) error
	Get(ctx context.Context, changeID string) (*models.ConfigChange, error)
	MarkRolledBack(ctx context.Context, changeID string) error
}

// Manager coordinates snapshot, validation, apply, and rollback.
type Manager struct {
	source ConfigSource
	store  ChangeStore
}

// NewManager creates a config manager.
func NewManager(source ConfigSource, store ChangeStore) *Manager {
	return &Manager{source: source, store: store}
}

// ApplyChange validates and applies a set of dotted-path changes to one
// resource, recording before/after snapshots. Returns the recorded change,
// whose id is the rollback handle.
func (m *Manager) ApplyChange(ctx context.Context, resourceType, resourceID string, changes map[string]any, reason, appliedBy string) (*models.ConfigChange, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("no changes given")
	}
	if err := validateChanges(resourceType, changes); err != nil {
		return nil, err
	}

	current, err := m.source.Fetch(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch current config: %w", err)
	}
	before, err := snapshot(resourceType, resourceID, current)
	if err != nil {
		return nil, err
	}

	next := deepCopy(current)
	for path, value := range changes {
		setDotted(next, path, value)
	}
	if err := m.source.Apply(ctx, resourceType, resourceID, next); err != nil {
		return nil, fmt.Errorf("apply config: %w", err)
	}
	after, err := snapshot(resourceType, resourceID, next)
	if err != nil {
		return nil, err
	}

	change := &models.ConfigChange{
		ChangeID:       uuid.New().String(),
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		Changes:        changes,
		Reason:         reason,
		AppliedBy:      appliedBy,
		AppliedAt:      time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, change); err != nil {
		return nil, fmt.Errorf("record config change: %w", err)
	}
	return change, nil
}

// Rollback replays a change's before snapshot. A change can be rolled back
// exactly once; a second attempt fails without touching the resource.
func (m *Manager) Rollback(ctx context.Context, changeID string) error {
	change, err := m.store.Get(ctx, changeID)
	if err != nil {
		return fmt.Errorf("load change: %w", err)
	}
	if change.RolledBack {
		return fmt.Errorf("change %s was already rolled back", changeID)
	}

	before := change.BeforeSnapshot
	if err := m.source.Apply(ctx, before.ResourceType, before.ResourceID, before.ConfigData); err != nil {
		return fmt.Errorf("replay before snapshot: %w", err)
	}
	if err := m.store.MarkRolledBack(ctx, changeID); err != nil {
		return fmt.Errorf("mark rolled back: %w", err)
	}
	return nil
}

func snapshot(resourceType, resourceID string, cfg map[string]any) (*models.ConfigSnapshot, error) {
	s := &models.ConfigSnapshot{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ConfigData:   deepCopy(cfg),
		Timestamp:    time.Now().UTC(),
	}
	checksum, err := s.ComputeChecksum()
	if err != nil {
		return nil, fmt.Errorf("checksum snapshot: %w", err)
	}
	s.Checksum = checksum
	return s, nil
}

// setDotted writes a value at a dotted path, creating intermediate maps.
func setDotted(cfg map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := cfg
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// validateChanges applies per-resource-type rules before anything touches
// the live config.
func validateChanges(resourceType string, changes map[string]any) error {
	switch resourceType {
	case "webhook":
		if raw, ok := changes["url"]; ok {
			s, ok := raw.(string)
			if !ok {
				return fmt.Errorf("webhook url must be a string")
			}
			u, err := url.Parse(s)
			if err != nil || u.Scheme != "https" || u.Host == "" {
				return fmt.Errorf("webhook url must be a valid https URL")
			}
		}
	case "api":
		for _, key := range []string{"timeout", "api.timeout", "retry_count", "rate_limit"} {
			if raw, ok := changes[key]; ok {
				if err := positiveInt(key, raw); err != nil {
					return err
				}
			}
		}
	case "logging":
		if raw, ok := changes["level"]; ok {
			level, _ := raw.(string)
			switch level {
			case "debug", "info", "warn", "error":
			default:
				return fmt.Errorf("invalid log level %q", raw)
			}
		}
	default:
		return fmt.Errorf("unknown resource type %q", resourceType)
	}

	// No change may write an empty key.
	for path := range changes {
		if path == "" || slicesContainsEmpty(path) {
			return fmt.Errorf("invalid change path %q", path)
		}
	}
	return nil
}

func slicesContainsEmpty(path string) bool {
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return true
		}
	}
	return false
}

func positiveInt(key string, raw any) error {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("%s must be an integer", key)
		}
		n = int64(v)
	default:
		return fmt.Errorf("%s must be an integer", key)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return nil
}
