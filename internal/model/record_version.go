package model

import (
	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
)

// RecordType names the canonical entity kinds that carry version history
// (spec §3.4).
type RecordType string

const (
	RecordTypeOrganization RecordType = "organization"
	RecordTypeLocation     RecordType = "location"
	RecordTypeService      RecordType = "service"
)

// RecordVersion is a full-snapshot audit row written on every canonical
// create or merge (spec §3.4). Version numbers are monotone per RecordID,
// starting at 1, and are never reused or skipped.
type RecordVersion struct {
	db.Base
	RecordID   string `gorm:"index"`
	RecordType RecordType
	VersionNum int
	Data       string `gorm:"type:text"` // JSON snapshot of the canonical row at this version
	CreatedBy  string // scraper_id or "reconciler" for merge-only bumps
}

func (RecordVersion) TableName() string { return "record_version" }
