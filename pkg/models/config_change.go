package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ConfigSnapshot captures one resource's configuration at a point in time.
type ConfigSnapshot struct {
	ResourceType string         `json:"resource_type" db:"resource_type"`
	ResourceID   string         `json:"resource_id" db:"resource_id"`
	ConfigData   map[string]any `json:"config_data"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	Checksum     string         `json:"checksum" db:"checksum"`
}

// ComputeChecksum returns SHA-256 over the canonical JSON of the config data.
func (s *ConfigSnapshot) ComputeChecksum() (string, error) {
	canonical, err := CanonicalJSON(s.ConfigData)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ConfigChange records an applied configuration change with the snapshots
// needed to roll it back. A change cannot be rolled back twice.
type ConfigChange struct {
	ChangeID       string          `json:"change_id" db:"change_id"`
	BeforeSnapshot *ConfigSnapshot `json:"before_snapshot"`
	AfterSnapshot  *ConfigSnapshot `json:"after_snapshot"`
	Changes        map[string]any  `json:"changes"`
	Reason         string          `json:"reason" db:"reason"`
	AppliedBy      string          `json:"applied_by" db:"applied_by"`
	AppliedAt      time.Time       `json:"applied_at" db:"applied_at"`
	RolledBack     bool            `json:"rolled_back" db:"rolled_back"`
}
