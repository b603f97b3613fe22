// Package company defines the canonical lead entities (organizations and the
// contacts they own), their period snapshots, and the explicit field merge
// used when a new observation matches an existing entity.
package company

import (
	"encoding/json"
	"time"

	"github.com/sells-group/leadtool/internal/model"
)

// DefaultSource is recorded when an observation does not name its source.
const DefaultSource = "Google Maps"

// Company is the canonical organization record. Name and Address form the
// identity key; a nil Address is distinct from any non-nil address.
type Company struct {
	ID      int64   `json:"id" db:"id"`
	Name    string  `json:"name" db:"name"`
	Address *string `json:"address,omitempty" db:"address"`

	Category    string   `json:"category,omitempty" db:"category"`
	Phone       string   `json:"phone,omitempty" db:"phone"`
	Website     string   `json:"website,omitempty" db:"website"`
	Rating      *float64 `json:"rating,omitempty" db:"rating"`
	ReviewCount *int     `json:"review_count,omitempty" db:"review_count"`
	Source      string   `json:"source,omitempty" db:"source"`
	Description string   `json:"description,omitempty" db:"description"`
	Domain      string   `json:"domain,omitempty" db:"domain"`
	Industry    string   `json:"industry,omitempty" db:"industry"`
	Size        string   `json:"size,omitempty" db:"size"`
	Location    string   `json:"location,omitempty" db:"location"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AddressOrEmpty returns the address or "" when unset.
func (c *Company) AddressOrEmpty() string {
	if c.Address == nil {
		return ""
	}
	return *c.Address
}

// Contact is a person at an organization. Identity is (CompanyID, Email)
// when Email is set; contacts without an email are never deduplicated.
type Contact struct {
	ID         int64   `json:"id" db:"id"`
	CompanyID  int64   `json:"company_id" db:"company_id"`
	Email      *string `json:"email,omitempty" db:"email"`
	Phone      string  `json:"phone,omitempty" db:"phone"`
	FirstName  string  `json:"first_name,omitempty" db:"first_name"`
	LastName   string  `json:"last_name,omitempty" db:"last_name"`
	Title      string  `json:"title,omitempty" db:"title"`
	Department string  `json:"department,omitempty" db:"department"`
	Address    string  `json:"address,omitempty" db:"address"`
	LinkedIn   string  `json:"linkedin,omitempty" db:"linkedin"`
	IsPrimary  bool    `json:"is_primary" db:"is_primary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Snapshot records what was observed about an entity during one period.
// Payload is the raw observation and is never rewritten; only Active changes.
type Snapshot struct {
	ID         int64           `json:"id" db:"id"`
	CompanyID  int64           `json:"company_id" db:"company_id"`
	ContactID  *int64          `json:"contact_id,omitempty" db:"contact_id"`
	Period     model.Period    `json:"period" db:"period"`
	Kind       model.Kind      `json:"kind" db:"kind"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	SourceURL  string          `json:"source_url,omitempty" db:"source_url"`
	QueryName  string          `json:"query_name,omitempty" db:"query_name"`
	CapturedAt time.Time       `json:"captured_at" db:"captured_at"`
	Active     bool            `json:"active" db:"active"`
}

// Detail is a company together with its contacts and active snapshots.
type Detail struct {
	Company   Company    `json:"company"`
	Contacts  []Contact  `json:"contacts"`
	Snapshots []Snapshot `json:"snapshots"`
}
