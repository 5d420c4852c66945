package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/For-The-Greater-Good/pantry-pirate-radio-sub002/internal/db"
)

// ServiceStatus enumerates the HSDS service lifecycle states (spec §3.2).
type ServiceStatus string

const (
	ServiceActive             ServiceStatus = "active"
	ServiceInactive           ServiceStatus = "inactive"
	ServiceDefunct            ServiceStatus = "defunct"
	ServiceTemporarilyClosed  ServiceStatus = "temporarily closed"
)

// Service is the canonical row for one merged service. Services are matched
// only within a single canonical organization (spec §4.G.2).
type Service struct {
	db.Base
	OrganizationID          uuid.UUID `gorm:"type:text;index"`
	Name                    string
	Description             string
	Status                  ServiceStatus `gorm:"type:text;default:'active'"`
	EligibilityDescription  string
	ConfidenceScore         int
	ValidationStatus        ValidationStatus `gorm:"type:text;default:'needs_review'"`
	ValidationNotes         string           `gorm:"type:text;default:'[]'"`
	IsCanonical             bool             `gorm:"default:true"`
}

func (Service) TableName() string { return "service" }

// ServiceSource is one scraper's observation of a service.
type ServiceSource struct {
	db.Base
	CanonicalID uuid.UUID `gorm:"type:text;index"`
	ScraperID   string
	Name        string
	Description string
	Status      ServiceStatus `gorm:"type:text;default:'active'"`
	ObservedAt  time.Time
}

func (ServiceSource) TableName() string { return "service_source" }

// ServiceAtLocation links a canonical Service to a canonical Location
// (spec §3.2).
type ServiceAtLocation struct {
	db.Base
	ServiceID  uuid.UUID `gorm:"type:text;index"`
	LocationID uuid.UUID `gorm:"type:text;index"`
}

func (ServiceAtLocation) TableName() string { return "service_at_location" }

// Phone is subordinate contact detail attached to a Location or Service.
type Phone struct {
	db.Base
	LocationID *uuid.UUID `gorm:"type:text"`
	ServiceID  *uuid.UUID `gorm:"type:text"`
	Number     string
	Extension  string
}

func (Phone) TableName() string { return "phone" }

// Schedule is subordinate open-hours detail attached to a Location or Service.
type Schedule struct {
	db.Base
	ServiceID  *uuid.UUID `gorm:"type:text"`
	LocationID *uuid.UUID `gorm:"type:text"`
	Freq       string     `gorm:"default:'WEEKLY'"`
	ByDay      string
	OpensAt    string
	ClosesAt   string
}

func (Schedule) TableName() string { return "schedule" }
