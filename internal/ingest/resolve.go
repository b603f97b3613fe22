package ingest

import (
	"context"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/store"
)

// Resolver finds the canonical entity an observation refers to. Not found is
// reported as a nil entity and a nil error.
type Resolver struct{}

// ResolveCompany looks up by (name, address) when the observation carries an
// address, else among companies stored without one. A name-only observation
// therefore never matches a company that was created with an address.
func (Resolver) ResolveCompany(ctx context.Context, tx store.Tx, in company.CompanyFields) (*company.Company, error) {
	return tx.FindCompany(ctx, in.Name, in.Address)
}

// ResolveOwner finds the organization a contact belongs to: by exact key when
// the reference carries an address, otherwise the lowest-id company with that
// name.
func (Resolver) ResolveOwner(ctx context.Context, tx store.Tx, in company.ContactFields) (*company.Company, error) {
	if in.CompanyAddress != nil {
		return tx.FindCompany(ctx, in.CompanyName, in.CompanyAddress)
	}
	return tx.FindCompanyByName(ctx, in.CompanyName)
}

// ResolveContact looks up by (email, company). Contacts without an email
// have no stable key and are always new.
func (Resolver) ResolveContact(ctx context.Context, tx store.Tx, in company.ContactFields, companyID int64) (*company.Contact, error) {
	if in.Email == nil {
		return nil, nil
	}
	return tx.FindContact(ctx, companyID, *in.Email)
}
