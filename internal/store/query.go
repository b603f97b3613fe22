package store

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/leadtool/internal/company"
)

// where accumulates filter clauses with dialect-specific placeholders.
type where struct {
	dollar  bool
	clauses []string
	args    []any
}

func newWhere(dollar bool) *where { return &where{dollar: dollar} }

// arg appends v and returns its placeholder.
func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	if w.dollar {
		return "$" + strconv.Itoa(len(w.args))
	}
	return "?"
}

func (w *where) add(clause string) { w.clauses = append(w.clauses, clause) }

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET.
func (w *where) page(limit, offset int) string {
	s := " LIMIT " + w.arg(company.EffectiveLimit(limit))
	if offset > 0 {
		s += " OFFSET " + w.arg(offset)
	}
	return s
}

// likeOp is the case-insensitive LIKE for the dialect.
func (w *where) likeOp() string {
	if w.dollar {
		return "ILIKE"
	}
	return "LIKE"
}

func companyWhere(w *where, f company.CompanyFilter) {
	if !f.Period.IsZero() || f.ActiveOnly {
		sub := "EXISTS (SELECT 1 FROM snapshots s WHERE s.company_id = c.id"
		if !f.Period.IsZero() {
			sub += " AND s.period = " + w.arg(f.Period.String())
		}
		if f.ActiveOnly {
			sub += " AND s.active = " + w.arg(true)
		}
		w.add(sub + ")")
	}
	if f.Name != "" {
		w.add("c.name " + w.likeOp() + " " + w.arg("%"+f.Name+"%"))
	}
	if f.Category != "" {
		w.add("c.category = " + w.arg(f.Category))
	}
	if f.Location != "" {
		w.add("c.location " + w.likeOp() + " " + w.arg("%"+f.Location+"%"))
	}
}

func contactWhere(w *where, f company.ContactFilter) {
	if f.CompanyID > 0 {
		w.add("ct.company_id = " + w.arg(f.CompanyID))
	}
	if f.Email != "" {
		w.add("ct.email = " + w.arg(strings.ToLower(f.Email)))
	}
	if f.Title != "" {
		w.add("ct.title " + w.likeOp() + " " + w.arg("%"+f.Title+"%"))
	}
	if f.Department != "" {
		w.add("ct.department " + w.likeOp() + " " + w.arg("%"+f.Department+"%"))
	}
	if f.IsPrimary != nil {
		w.add("ct.is_primary = " + w.arg(*f.IsPrimary))
	}
	if !f.Period.IsZero() || f.ActiveOnly {
		sub := "EXISTS (SELECT 1 FROM snapshots s WHERE s.contact_id = ct.id"
		if !f.Period.IsZero() {
			sub += " AND s.period = " + w.arg(f.Period.String())
		}
		if f.ActiveOnly {
			sub += " AND s.active = " + w.arg(true)
		}
		w.add(sub + ")")
	}
}

func snapshotWhere(w *where, f company.SnapshotFilter) {
	if f.CompanyID > 0 {
		w.add("company_id = " + w.arg(f.CompanyID))
	}
	if !f.Period.IsZero() {
		w.add("period = " + w.arg(f.Period.String()))
	}
	if f.Kind != "" {
		w.add("kind = " + w.arg(string(f.Kind)))
	}
	if f.ActiveOnly {
		w.add("active = " + w.arg(true))
	}
}

const companyColumns = `c.id, c.name, c.address, c.category, c.phone, c.website, c.rating, c.review_count,
	c.source, c.description, c.domain, c.industry, c.size, c.location, c.created_at, c.updated_at`

func companyDests(c *company.Company) []any {
	return []any{
		&c.ID, &c.Name, &c.Address, &c.Category, &c.Phone, &c.Website, &c.Rating, &c.ReviewCount,
		&c.Source, &c.Description, &c.Domain, &c.Industry, &c.Size, &c.Location, &c.CreatedAt, &c.UpdatedAt,
	}
}

const contactColumns = `ct.id, ct.company_id, ct.email, ct.phone, ct.first_name, ct.last_name, ct.title,
	ct.department, ct.address, ct.linkedin, ct.is_primary, ct.created_at, ct.updated_at`

func contactDests(c *company.Contact) []any {
	return []any{
		&c.ID, &c.CompanyID, &c.Email, &c.Phone, &c.FirstName, &c.LastName, &c.Title,
		&c.Department, &c.Address, &c.LinkedIn, &c.IsPrimary, &c.CreatedAt, &c.UpdatedAt,
	}
}

const snapshotColumns = `id, company_id, contact_id, period, kind, payload, source_url, query_name, captured_at, active`

// bucketLimit caps group-by results in stats queries.
const bucketLimit = 50

type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
