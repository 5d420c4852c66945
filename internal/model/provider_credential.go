package model

import (
	"time"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
)

// ProviderCredential stores an API key for a geocoding or LLM provider,
// encrypted at rest via db.EncryptedString (SPEC_FULL §11.1, adapted from
// the teacher's OIDCProvider.ClientSecret / Destination.Credentials pattern).
type ProviderCredential struct {
	db.SoftDelete
	Provider string `gorm:"index"`
	Kind     string `gorm:"default:'geocoding'"` // "geocoding" or "llm"
	APIKey   db.EncryptedString
	Enabled  bool
}

func (ProviderCredential) TableName() string { return "provider_credential" }

// ReconcilerConfig holds the operator-tunable entity-matching thresholds
// (spec §4.G.2, §6.5) as a persisted row rather than process-local config,
// so they can be adjusted without a redeploy.
type ReconcilerConfig struct {
	db.SoftDelete
	OrgProximityThreshold   float64 `gorm:"default:0.7"`
	LocationCoordTolerance  float64 `gorm:"default:0.0001"`
	ProvenanceRanks         string  `gorm:"type:text;default:'{}'"` // JSON: scraper_id -> rank
}

func (ReconcilerConfig) TableName() string { return "reconciler_config" }

// ReconcilerConstraintViolation logs a row-level conflict encountered while
// merging (spec §4.G.5, §7): concurrent inserts racing on the same match
// key after advisory-lock retries were exhausted.
type ReconcilerConstraintViolation struct {
	db.Base
	RecordType string
	MatchKey   string
	Reason     string
	OccurredAt time.Time `gorm:"autoCreateTime"`
}

func (ReconcilerConstraintViolation) TableName() string { return "reconciler_constraint_violations" }
