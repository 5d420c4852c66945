package hsds

// Payload is the strongly-typed HSDS-shaped draft produced by alignment
// (spec §3.2, §4.E). Fields not in this shape are rejected during parsing
// (spec §4.E step 3: "reject fields not in the schema").
type Payload struct {
	Organization OrganizationDraft `json:"organization"`
	Locations    []LocationDraft   `json:"locations"`
	Services     []ServiceDraft    `json:"services"`
}

// OrganizationDraft mirrors model.Organization's aligned-but-unpersisted
// shape (spec §3.2).
type OrganizationDraft struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	URL              string `json:"url,omitempty"`
	Email            string `json:"email,omitempty"`
	YearIncorporated *int   `json:"year_incorporated,omitempty"`
	LegalStatus      string `json:"legal_status,omitempty"`
	TaxID            string `json:"tax_id,omitempty"`
}

// LocationDraft mirrors model.Location's aligned-but-unpersisted shape.
// Latitude/Longitude are pointers because pre-enrichment they may be absent
// (spec §4.F.1: enrichment fills them from an address when missing).
type LocationDraft struct {
	Name               string   `json:"name,omitempty"`
	Description        string   `json:"description,omitempty"`
	AddressLine        string   `json:"address,omitempty"`
	City               string   `json:"city,omitempty"`
	State              string   `json:"state,omitempty"`
	PostalCode         string   `json:"postal_code,omitempty"`
	Latitude           *float64 `json:"lat,omitempty"`
	Longitude          *float64 `json:"lon,omitempty"`
	LocationType       string   `json:"location_type,omitempty"`
	ExternalIdentifier string   `json:"external_identifier,omitempty"`
}

// ServiceDraft mirrors model.Service's aligned-but-unpersisted shape.
type ServiceDraft struct {
	Name                   string `json:"name"`
	Description            string `json:"description,omitempty"`
	Status                 string `json:"status,omitempty"`
	EligibilityDescription string `json:"eligibility_description,omitempty"`
	LocationIndex          *int   `json:"location_index,omitempty"` // index into Payload.Locations
}

// requiredOrgFields and requiredLocationFields name the fields whose absence
// draws the completeness penalty (spec §4.E step 5.ii). coherenceCheck tests
// those fields directly and does not read these lists.
var requiredOrgFields = []string{"Name"}
var requiredLocationFields = []string{"Name", "AddressLine"}
