package company

import "strings"

// CompanyFields is a normalized organization observation. A nil pointer means
// the field was absent from the observation and must not touch the stored
// value.
type CompanyFields struct { //nolint:revive // mirrors ContactFields
	Name    string
	Address *string

	Category    *string
	Phone       *string
	Website     *string
	Rating      *float64
	ReviewCount *int
	Source      *string
	Description *string
	Domain      *string
	Industry    *string
	Size        *string
	Location    *string
}

// LockKey is the identity key used to serialize writers of the same entity.
func (f CompanyFields) LockKey() string {
	if f.Address == nil {
		return "org\x00" + strings.ToLower(f.Name)
	}
	return "org\x00" + strings.ToLower(f.Name) + "\x00" + strings.ToLower(*f.Address)
}

// ContactFields is a normalized contact observation. CompanyName and
// CompanyAddress reference the owning organization.
type ContactFields struct {
	CompanyName    string
	CompanyAddress *string

	Email      *string
	Phone      *string
	FirstName  *string
	LastName   *string
	Title      *string
	Department *string
	Address    *string
	LinkedIn   *string
	IsPrimary  *bool
}

// LockKey serializes writers of the same contact. Contacts without an email
// have no stable identity and lock on the owning organization only.
func (f ContactFields) LockKey() string {
	owner := strings.ToLower(f.CompanyName)
	if f.CompanyAddress != nil {
		owner += "\x00" + strings.ToLower(*f.CompanyAddress)
	}
	if f.Email == nil {
		return "contact\x00" + owner
	}
	return "contact\x00" + owner + "\x00" + *f.Email
}
