package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind distinguishes organization observations from contact observations.
type Kind string

const (
	KindOrganization Kind = "organization"
	KindContact      Kind = "contact"
)

// ParseKind accepts the canonical names plus the short aliases used by
// spreadsheet and CSV drops ("company", "org", "person").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "organization", "organisation", "org", "company":
		return KindOrganization, nil
	case "contact", "person", "people":
		return KindContact, nil
	}
	return "", eris.Errorf("model: unknown record kind %q", s)
}

// Observation is one raw record as handed over by a collector. Data is kept
// exactly as received so it can be stored verbatim in the snapshot payload.
type Observation struct {
	Kind      Kind           `json:"kind"`
	Period    Period         `json:"period,omitzero"`
	SourceURL string         `json:"source_url,omitempty"`
	QueryName string         `json:"query_name,omitempty"`
	Data      map[string]any `json:"data"`
}

// Payload returns the serialized raw data.
func (o Observation) Payload() ([]byte, error) {
	if o.Data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(o.Data)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal observation payload")
	}
	return b, nil
}
