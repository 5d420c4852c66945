// Package model defines the GORM entities for the HSDS canonical/source
// split (spec §3.2, §3.3): Organization, Location, Service and their
// subordinate tables, plus the pipeline-support tables (RecordVersion,
// provider credentials, reconciler config/violations). The geocode cache
// lives in Redis and has no model here.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
)

// ValidationStatus is the derived quality gate on Organization/Location/
// Service canonical and aligned records (spec §3.2, §4.F.3).
type ValidationStatus string

const (
	ValidationVerified    ValidationStatus = "verified"
	ValidationNeedsReview ValidationStatus = "needs_review"
	ValidationRejected    ValidationStatus = "rejected"
)

// Organization is the canonical row for one merged organization (spec §3.2).
// IsCanonical is always true for rows in this table; source observations
// live in OrganizationSource.
type Organization struct {
	db.Base
	Name             string
	NormalizedName   string `gorm:"index"`
	Description      string
	URL              string
	Email            string
	YearIncorporated *int
	LegalStatus      string
	TaxID            string
	ParentOrgID      *uuid.UUID `gorm:"type:text"`
	ConfidenceScore  int
	ValidationStatus ValidationStatus `gorm:"type:text;default:'needs_review'"`
	ValidationNotes  string           `gorm:"type:text;default:'[]'"` // JSON array of strings
	IsCanonical      bool             `gorm:"default:true"`
}

func (Organization) TableName() string { return "organization" }

// OrganizationSource is one scraper's observation of an organization,
// always pointed at exactly one canonical Organization (spec §3.3).
type OrganizationSource struct {
	db.Base
	CanonicalID uuid.UUID `gorm:"type:text;index"`
	ScraperID   string
	Name        string
	Description string
	URL         string
	Email       string
	ObservedAt  time.Time
	SourceHash  string
}

func (OrganizationSource) TableName() string { return "organization_source" }
