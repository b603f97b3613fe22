package company

// NewCompany builds a canonical company from a normalized observation.
func NewCompany(in CompanyFields) *Company {
	c := &Company{Name: in.Name, Address: in.Address, Source: DefaultSource}
	MergeCompany(c, in)
	return c
}

// MergeCompany overwrites every field present in the observation and leaves
// absent fields untouched. It reports whether any stored value changed.
// Identity fields are never rewritten.
func MergeCompany(c *Company, in CompanyFields) bool {
	changed := false
	changed = setString(&c.Category, in.Category) || changed
	changed = setString(&c.Phone, in.Phone) || changed
	changed = setString(&c.Website, in.Website) || changed
	changed = setString(&c.Source, in.Source) || changed
	changed = setString(&c.Description, in.Description) || changed
	changed = setString(&c.Domain, in.Domain) || changed
	changed = setString(&c.Industry, in.Industry) || changed
	changed = setString(&c.Size, in.Size) || changed
	changed = setString(&c.Location, in.Location) || changed

	if in.Rating != nil && (c.Rating == nil || *c.Rating != *in.Rating) {
		v := *in.Rating
		c.Rating = &v
		changed = true
	}
	if in.ReviewCount != nil && (c.ReviewCount == nil || *c.ReviewCount != *in.ReviewCount) {
		v := *in.ReviewCount
		c.ReviewCount = &v
		changed = true
	}
	return changed
}

// NewContact builds a contact owned by companyID.
func NewContact(companyID int64, in ContactFields) *Contact {
	c := &Contact{CompanyID: companyID, Email: in.Email}
	MergeContact(c, in)
	return c
}

// MergeContact applies the present fields of in to c. The email is the
// identity key and is not rewritten.
func MergeContact(c *Contact, in ContactFields) bool {
	changed := false
	changed = setString(&c.Phone, in.Phone) || changed
	changed = setString(&c.FirstName, in.FirstName) || changed
	changed = setString(&c.LastName, in.LastName) || changed
	changed = setString(&c.Title, in.Title) || changed
	changed = setString(&c.Department, in.Department) || changed
	changed = setString(&c.Address, in.Address) || changed
	changed = setString(&c.LinkedIn, in.LinkedIn) || changed

	if in.IsPrimary != nil && c.IsPrimary != *in.IsPrimary {
		c.IsPrimary = *in.IsPrimary
		changed = true
	}
	return changed
}

func setString(dst *string, v *string) bool {
	if v == nil || *dst == *v {
		return false
	}
	*dst = *v
	return true
}
