package ingest

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
)

// Record is a normalized observation. Exactly one of Company or Contact is
// meaningful, selected by Kind.
type Record struct {
	Kind    model.Kind
	Company company.CompanyFields
	Contact company.ContactFields
}

// LockKey is the identity key writers of this record serialize on.
func (r Record) LockKey() string {
	if r.Kind == model.KindContact {
		return r.Contact.LockKey()
	}
	return r.Company.LockKey()
}

// Rating bounds. Values outside are dropped, not rejected.
const (
	minRating = 0.0
	maxRating = 5.0
)

var (
	numberRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)
	// countTokenRe picks out every numeric token along with any suffix glued
	// to it, so "2.5K" and "4.5" stay one token.
	countTokenRe = regexp.MustCompile(`\d[\d,.]*[A-Za-z]*`)
	countRe      = regexp.MustCompile(`^(?:\d+|\d{1,3}(?:,\d{3})+)$`)
)

// Normalize cleans a raw observation into a Record. It fails with a
// *model.ValidationError when the identity fields are missing. It has no side
// effects.
func Normalize(kind model.Kind, raw map[string]any) (Record, error) {
	switch kind {
	case model.KindOrganization:
		f, err := normalizeCompany(raw)
		return Record{Kind: kind, Company: f}, err
	case model.KindContact:
		f, err := normalizeContact(raw)
		return Record{Kind: kind, Contact: f}, err
	}
	return Record{}, &model.ValidationError{Kind: kind, Field: "kind", Reason: "unknown record kind"}
}

func normalizeCompany(raw map[string]any) (company.CompanyFields, error) {
	f := company.CompanyFields{
		Address:     text(raw, "address"),
		Category:    text(raw, "category"),
		Phone:       phone(raw, "phone"),
		Website:     website(raw, "website"),
		Rating:      rating(raw, "rating"),
		ReviewCount: reviewCount(raw, "review_count", "reviews"),
		Source:      text(raw, "source"),
		Description: text(raw, "description"),
		Domain:      text(raw, "domain"),
		Industry:    text(raw, "industry"),
		Size:        text(raw, "size"),
		Location:    text(raw, "location"),
	}
	name := text(raw, "name", "company_name")
	if name == nil {
		return f, &model.ValidationError{Kind: model.KindOrganization, Field: "name", Reason: "required"}
	}
	f.Name = *name
	return f, nil
}

func normalizeContact(raw map[string]any) (company.ContactFields, error) {
	f := company.ContactFields{
		Phone:      phone(raw, "phone"),
		FirstName:  text(raw, "first_name"),
		LastName:   text(raw, "last_name"),
		Title:      text(raw, "title"),
		Department: text(raw, "department"),
		Address:    text(raw, "address"),
		LinkedIn:   website(raw, "linkedin", "linkedin_url"),
		IsPrimary:  boolean(raw, "is_primary", "primary"),
	}

	if email := text(raw, "email"); email != nil {
		e := strings.ToLower(*email)
		e = strings.TrimPrefix(e, "mailto:")
		if at := strings.IndexByte(e, '@'); at <= 0 || at == len(e)-1 {
			return f, &model.ValidationError{Kind: model.KindContact, Field: "email", Reason: "not an email address"}
		}
		f.Email = &e
	}
	if f.Email == nil && f.Phone == nil {
		return f, &model.ValidationError{Kind: model.KindContact, Field: "email", Reason: "email or phone required"}
	}

	// The owner reference is either flat or a nested company object.
	if nested, ok := raw["company"].(map[string]any); ok {
		if n := text(nested, "name"); n != nil {
			f.CompanyName = *n
		}
		f.CompanyAddress = text(nested, "address")
	}
	if f.CompanyName == "" {
		if n := text(raw, "company_name"); n != nil {
			f.CompanyName = *n
		}
		if f.CompanyAddress == nil {
			f.CompanyAddress = text(raw, "company_address")
		}
	}
	if f.CompanyName == "" {
		return f, &model.ValidationError{Kind: model.KindContact, Field: "company_name", Reason: "organization reference required"}
	}
	return f, nil
}

// lookup returns the first present value among keys.
func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// CleanText trims, collapses internal whitespace and NFC-normalizes s.
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// text returns the cleaned string value, or nil when absent or blank.
func text(raw map[string]any, keys ...string) *string {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return nil
	}
	s = CleanText(s)
	if s == "" {
		return nil
	}
	return &s
}

func phone(raw map[string]any, keys ...string) *string {
	p := text(raw, keys...)
	if p == nil {
		return nil
	}
	s := *p
	if len(s) >= 4 && strings.EqualFold(s[:4], "tel:") {
		s = strings.TrimSpace(s[4:])
	}
	if s == "" {
		return nil
	}
	return &s
}

func website(raw map[string]any, keys ...string) *string {
	w := text(raw, keys...)
	if w == nil {
		return nil
	}
	u, err := url.Parse(*w)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return w
}

func rating(raw map[string]any, keys ...string) *float64 {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	var r float64
	switch t := v.(type) {
	case float64:
		r = t
	case float32:
		r = float64(t)
	case int:
		r = float64(t)
	case int64:
		r = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		r = f
	case string:
		m := numberRe.FindString(t)
		if m == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err != nil {
			return nil
		}
		r = f
	default:
		return nil
	}
	if math.IsNaN(r) || r < minRating || r > maxRating {
		return nil
	}
	return &r
}

func reviewCount(raw map[string]any, keys ...string) *int {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt32 {
			return nil
		}
		n = int64(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return nil
		}
		n = i
	case string:
		// Exactly one plain integer token; "4.5 (120)" or "12 34" is ambiguous.
		tokens := countTokenRe.FindAllString(t, -1)
		if len(tokens) != 1 || !countRe.MatchString(tokens[0]) {
			return nil
		}
		i, err := strconv.ParseInt(strings.ReplaceAll(tokens[0], ",", ""), 10, 64)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	if n < 0 || n > math.MaxInt32 {
		return nil
	}
	c := int(n)
	return &c
}

func boolean(raw map[string]any, keys ...string) *bool {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			b = true
		case "false", "no", "n", "0":
			b = false
		default:
			return nil
		}
	case float64:
		b = t != 0
	case int:
		b = t != 0
	default:
		return nil
	}
	return &b
}
