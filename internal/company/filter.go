package company

import "github.com/sells-group/leadtool/internal/model"

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 100

// CompanyFilter selects companies for the read side. When Period is set only
// companies with a snapshot in that period are returned; ActiveOnly further
// restricts to active snapshots.
type CompanyFilter struct { //nolint:revive // read-side filter naming
	Period     model.Period
	ActiveOnly bool
	Name       string
	Category   string
	Location   string
	Limit      int
	Offset     int
}

// ContactFilter selects contacts for the read side.
type ContactFilter struct {
	CompanyID  int64
	Email      string
	Title      string
	Department string
	IsPrimary  *bool
	Period     model.Period
	ActiveOnly bool
	Limit      int
	Offset     int
}

// SnapshotFilter selects snapshots.
type SnapshotFilter struct {
	CompanyID  int64
	Period     model.Period
	Kind       model.Kind
	ActiveOnly bool
	Limit      int
}

// EffectiveLimit returns l or DefaultListLimit when l is not positive.
func EffectiveLimit(l int) int {
	if l <= 0 {
		return DefaultListLimit
	}
	return l
}

// Bucket is one group-by row of a stats query.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// CompanyStats summarizes the company table.
type CompanyStats struct { //nolint:revive // read-side naming
	Total           int64    `json:"total"`
	ActiveSnapshots int64    `json:"active_snapshots"`
	ByCategory      []Bucket `json:"by_category"`
	ByLocation      []Bucket `json:"by_location"`
}

// ContactStats summarizes the contact table.
type ContactStats struct {
	Total        int64    `json:"total"`
	Primary      int64    `json:"primary"`
	ByTitle      []Bucket `json:"by_title"`
	ByDepartment []Bucket `json:"by_department"`
}
