package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
)

// LocationType enumerates the HSDS location kinds (spec §3.2).
type LocationType string

const (
	LocationPhysical LocationType = "physical"
	LocationPostal   LocationType = "postal"
	LocationVirtual  LocationType = "virtual"
)

// Location is the canonical row for one merged physical/postal/virtual
// location. A canonical Location MUST have non-null coordinates (spec §3.3);
// confidence-rejected locations are never persisted here (spec §4.G.4).
type Location struct {
	db.Base
	OrganizationID     uuid.UUID `gorm:"type:text;index"`
	Name               string
	Description        string
	Latitude           float64
	Longitude          float64
	LocationType       LocationType `gorm:"type:text;default:'physical'"`
	ExternalIdentifier string
	GeocodingSource    string
	ConfidenceScore    int
	ValidationStatus   ValidationStatus `gorm:"type:text;default:'needs_review'"`
	ValidationNotes    string           `gorm:"type:text;default:'[]'"`
	IsCanonical        bool             `gorm:"default:true"`
}

func (Location) TableName() string { return "location" }

// LocationSource is one scraper's observation of a location. Unlike the
// canonical row, coordinates may be nil pre-enrichment.
type LocationSource struct {
	db.Base
	CanonicalID     uuid.UUID `gorm:"type:text;index"`
	ScraperID       string
	OrganizationID  uuid.UUID `gorm:"type:text"`
	Name            string
	Latitude        *float64
	Longitude       *float64
	AddressLine     string
	PostalCode      string
	State           string
	GeocodingSource string
	ConfidenceScore int
	ObservedAt      time.Time
}

func (LocationSource) TableName() string { return "location_source" }

// Address holds HSDS address detail for a location.
type Address struct {
	db.Base
	LocationID    uuid.UUID `gorm:"type:text;index"`
	Address1      string
	City          string
	StateProvince string
	PostalCode    string
	Country       string `gorm:"default:'US'"`
}

func (Address) TableName() string { return "address" }
