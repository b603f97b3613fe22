package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection, so writers are serialized by the pool itself.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	address      TEXT,
	category     TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	rating       REAL,
	review_count INTEGER,
	source       TEXT NOT NULL DEFAULT 'Google Maps',
	description  TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	industry     TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_identity ON companies(name, COALESCE(address, ''));
CREATE INDEX IF NOT EXISTS idx_companies_category ON companies(category);
CREATE INDEX IF NOT EXISTS idx_companies_location ON companies(location);

CREATE TABLE IF NOT EXISTS contacts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id  INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	email       TEXT,
	phone       TEXT NOT NULL DEFAULT '',
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	department  TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	linkedin    TEXT NOT NULL DEFAULT '',
	is_primary  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_identity ON contacts(company_id, email) WHERE email IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id  INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	contact_id  INTEGER REFERENCES contacts(id) ON DELETE SET NULL,
	period      TEXT NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('organization', 'contact')),
	payload     TEXT NOT NULL,
	source_url  TEXT NOT NULL DEFAULT '',
	query_name  TEXT NOT NULL DEFAULT '',
	captured_at DATETIME NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_snapshots_company ON snapshots(company_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_contact ON snapshots(contact_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_period ON snapshots(period);
CREATE INDEX IF NOT EXISTS idx_snapshots_active ON snapshots(active) WHERE active = 1;

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	period      TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	report      TEXT,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ingest_runs_running ON ingest_runs(status) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS rejected_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	period     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error      TEXT NOT NULL,
	payload    TEXT,
	source_url TEXT NOT NULL DEFAULT '',
	query_name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rejected_records_run ON rejected_records(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteErr wraps err with op, promoting busy/locked errors to
// TransientStoreError and unique violations to ErrDuplicate.
func sqliteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &model.TransientStoreError{Op: op, Err: err}
		}
		if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return eris.Wrapf(ErrDuplicate, "sqlite: %s: %v", op, err)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return &model.TransientStoreError{Op: op, Err: err}
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return eris.Wrapf(ErrDuplicate, "sqlite: %s: %v", op, err)
	}
	return eris.Wrapf(err, "sqlite: %s", op)
}

// WithTx runs fn in a transaction and commits when fn returns nil.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return sqliteErr(tx.Commit(), "commit")
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FindCompany(ctx context.Context, name string, address *string) (*company.Company, error) {
	var row *sql.Row
	if address == nil {
		row = t.tx.QueryRowContext(ctx,
			`SELECT `+companyColumns+` FROM companies c WHERE c.name = ? AND c.address IS NULL ORDER BY c.id LIMIT 1`, name)
	} else {
		row = t.tx.QueryRowContext(ctx,
			`SELECT `+companyColumns+` FROM companies c WHERE c.name = ? AND c.address = ?`, name, *address)
	}
	return scanCompanyRow(row, "find company")
}

func (t *sqliteTx) FindCompanyByName(ctx context.Context, name string) (*company.Company, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies c WHERE c.name = ? ORDER BY c.id LIMIT 1`, name)
	return scanCompanyRow(row, "find company by name")
}

func (t *sqliteTx) CreateCompany(ctx context.Context, c *company.Company) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO companies (name, address, category, phone, website, rating, review_count,
			source, description, domain, industry, size, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Address, c.Category, c.Phone, c.Website, c.Rating, c.ReviewCount,
		c.Source, c.Description, c.Domain, c.Industry, c.Size, c.Location, now, now,
	)
	if err != nil {
		return sqliteErr(err, "insert company")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: company last insert id")
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
	return nil
}

func (t *sqliteTx) UpdateCompany(ctx context.Context, c *company.Company) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE companies SET category = ?, phone = ?, website = ?, rating = ?, review_count = ?,
			source = ?, description = ?, domain = ?, industry = ?, size = ?, location = ?, updated_at = ?
		WHERE id = ?`,
		c.Category, c.Phone, c.Website, c.Rating, c.ReviewCount,
		c.Source, c.Description, c.Domain, c.Industry, c.Size, c.Location, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return sqliteErr(err, "update company")
	}
	return checkRowsAffected(res, "company", c.ID)
}

func (t *sqliteTx) FindContact(ctx context.Context, companyID int64, email string) (*company.Contact, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts ct WHERE ct.company_id = ? AND ct.email = ?`, companyID, email)
	var c company.Contact
	err := row.Scan(contactDests(&c)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteErr(err, "find contact")
	}
	return &c, nil
}

func (t *sqliteTx) CreateContact(ctx context.Context, c *company.Contact) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO contacts (company_id, email, phone, first_name, last_name, title, department,
			address, linkedin, is_primary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CompanyID, c.Email, c.Phone, c.FirstName, c.LastName, c.Title, c.Department,
		c.Address, c.LinkedIn, c.IsPrimary, now, now,
	)
	if err != nil {
		return sqliteErr(err, "insert contact")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: contact last insert id")
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
	return nil
}

func (t *sqliteTx) UpdateContact(ctx context.Context, c *company.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE contacts SET phone = ?, first_name = ?, last_name = ?, title = ?, department = ?,
			address = ?, linkedin = ?, is_primary = ?, updated_at = ?
		WHERE id = ?`,
		c.Phone, c.FirstName, c.LastName, c.Title, c.Department,
		c.Address, c.LinkedIn, c.IsPrimary, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return sqliteErr(err, "update contact")
	}
	return checkRowsAffected(res, "contact", c.ID)
}

func (t *sqliteTx) InsertSnapshot(ctx context.Context, snap *company.Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	snap.Active = true
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO snapshots (company_id, contact_id, period, kind, payload, source_url, query_name, captured_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		snap.CompanyID, snap.ContactID, snap.Period.String(), string(snap.Kind), string(snap.Payload),
		snap.SourceURL, snap.QueryName, snap.CapturedAt,
	)
	if err != nil {
		return sqliteErr(err, "insert snapshot")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: snapshot last insert id")
	}
	snap.ID = id
	return nil
}

// DeactivateSnapshots clears the active flag on every snapshot in one
// transaction.
func (s *SQLiteStore) DeactivateSnapshots(ctx context.Context) (int64, error) {
	return s.execInTx(ctx, "deactivate snapshots", `UPDATE snapshots SET active = 0 WHERE active = 1`)
}

// PurgeSnapshotsBefore deletes snapshots whose period sorts before cutoff.
func (s *SQLiteStore) PurgeSnapshotsBefore(ctx context.Context, cutoff model.Period) (int64, error) {
	return s.execInTx(ctx, "purge snapshots", `DELETE FROM snapshots WHERE period < ?`, cutoff.String())
}

func (s *SQLiteStore) execInTx(ctx context.Context, op, query string, args ...any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sqliteErr(err, op)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, sqliteErr(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s rows affected", op)
	}
	if err := tx.Commit(); err != nil {
		return 0, sqliteErr(err, op+" commit")
	}
	return n, nil
}

// AcquireRun records run as running. It fails with a RunStateError when
// another run holds the lock, unless opts allow breaking it.
func (s *SQLiteStore) AcquireRun(ctx context.Context, run *model.Run, opts LockOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.RunStateError{Op: "acquire run lock", Err: sqliteErr(err, "begin")}
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var holder string
	var startedAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, started_at FROM ingest_runs WHERE status = ?`, string(model.RunStatusRunning),
	).Scan(&holder, &startedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return &model.RunStateError{Op: "acquire run lock", Err: sqliteErr(err, "select running")}
	case !opts.breaks(startedAt, now):
		return activeRunError(holder)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE ingest_runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
			string(model.RunStatusAborted), now, lockBrokenMsg, holder,
		); err != nil {
			return &model.RunStateError{Op: "break run lock", Err: sqliteErr(err, "abort stale run")}
		}
	}

	run.Status = model.RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, period, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Period.String(), string(run.Status), run.StartedAt,
	); err != nil {
		err = sqliteErr(err, "insert run")
		if errors.Is(err, ErrDuplicate) {
			return activeRunError("unknown")
		}
		return &model.RunStateError{Op: "acquire run lock", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &model.RunStateError{Op: "acquire run lock", Err: sqliteErr(err, "commit")}
	}
	return nil
}

// FinishRun stores the terminal status and report of run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	var report any
	if run.Report != nil {
		b, err := json.Marshal(run.Report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run report")
		}
		report = string(b)
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, finished_at = ?, report = ?, error = ? WHERE id = ?`,
		string(run.Status), finished, report, run.Error, run.ID,
	)
	if err != nil {
		return sqliteErr(err, "finish run")
	}
	return checkRowsAffected(res, "run", run.ID)
}

const runColumns = `id, period, status, started_at, finished_at, report, error`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, company.EffectiveLimit(limit))
	if err != nil {
		return nil, sqliteErr(err, "list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordRejected(ctx context.Context, rec *model.RejectedRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var payload any
	if rec.Payload != nil {
		payload = string(rec.Payload)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rejected_records (run_id, period, kind, reason, error, payload, source_url, query_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Period.String(), string(rec.Kind), string(rec.Reason), rec.Error, payload,
		rec.SourceURL, rec.QueryName, rec.CreatedAt,
	)
	if err != nil {
		return sqliteErr(err, "insert rejected record")
	}
	rec.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: rejected record last insert id")
}

func (s *SQLiteStore) ListRejected(ctx context.Context, runID string, limit int) ([]model.RejectedRecord, error) {
	w := newWhere(false)
	if runID != "" {
		w.add("run_id = " + w.arg(runID))
	}
	query := `SELECT id, run_id, period, kind, reason, error, payload, source_url, query_name, created_at
		FROM rejected_records` + w.String() + ` ORDER BY id` + w.page(limit, 0)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, sqliteErr(err, "list rejected records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RejectedRecord
	for rows.Next() {
		rec, err := scanRejected(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rejected iterate")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*company.Detail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies c WHERE c.id = ?`, id)
	c, err := scanCompanyRow(row, "get company")
	if err != nil || c == nil {
		return nil, err
	}
	contacts, err := s.ListContacts(ctx, company.ContactFilter{CompanyID: id, Limit: 1000})
	if err != nil {
		return nil, err
	}
	snaps, err := s.ListSnapshots(ctx, company.SnapshotFilter{CompanyID: id, ActiveOnly: true, Limit: 1000})
	if err != nil {
		return nil, err
	}
	return &company.Detail{Company: *c, Contacts: contacts, Snapshots: snaps}, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, f company.CompanyFilter) ([]company.Company, error) {
	w := newWhere(false)
	companyWhere(w, f)
	query := `SELECT ` + companyColumns + ` FROM companies c` + w.String() + ` ORDER BY c.id` + w.page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, sqliteErr(err, "list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []company.Company
	for rows.Next() {
		var c company.Company
		if err := rows.Scan(companyDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) ListContacts(ctx context.Context, f company.ContactFilter) ([]company.Contact, error) {
	w := newWhere(false)
	contactWhere(w, f)
	query := `SELECT ` + contactColumns + ` FROM contacts ct` + w.String() + ` ORDER BY ct.id` + w.page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, sqliteErr(err, "list contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []company.Contact
	for rows.Next() {
		var c company.Contact
		if err := rows.Scan(contactDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, f company.SnapshotFilter) ([]company.Snapshot, error) {
	w := newWhere(false)
	snapshotWhere(w, f)
	query := `SELECT ` + snapshotColumns + ` FROM snapshots` + w.String() + ` ORDER BY period, id` + w.page(f.Limit, 0)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, sqliteErr(err, "list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []company.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) CompanyStats(ctx context.Context) (*company.CompanyStats, error) {
	var st company.CompanyStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`).Scan(&st.Total); err != nil {
		return nil, sqliteErr(err, "count companies")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE active = 1`).Scan(&st.ActiveSnapshots); err != nil {
		return nil, sqliteErr(err, "count active snapshots")
	}
	var err error
	if st.ByCategory, err = s.buckets(ctx, "companies", "category"); err != nil {
		return nil, err
	}
	if st.ByLocation, err = s.buckets(ctx, "companies", "location"); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) ContactStats(ctx context.Context) (*company.ContactStats, error) {
	var st company.ContactStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_primary), 0) FROM contacts`).Scan(&st.Total, &st.Primary); err != nil {
		return nil, sqliteErr(err, "count contacts")
	}
	var err error
	if st.ByTitle, err = s.buckets(ctx, "contacts", "title"); err != nil {
		return nil, err
	}
	if st.ByDepartment, err = s.buckets(ctx, "contacts", "department"); err != nil {
		return nil, err
	}
	return &st, nil
}

// buckets groups table by a fixed column name; column is never user input.
func (s *SQLiteStore) buckets(ctx context.Context, table, column string) ([]company.Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*) AS n FROM `+table+`
		WHERE `+column+` <> '' GROUP BY `+column+` ORDER BY n DESC, `+column+` LIMIT ?`, bucketLimit)
	if err != nil {
		return nil, sqliteErr(err, "group "+table+" by "+column)
	}
	defer rows.Close() //nolint:errcheck

	var out []company.Bucket
	for rows.Next() {
		var b company.Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bucket")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: buckets iterate")
}

// ListOrphanCompanies returns companies with no snapshots and no contacts.
func (s *SQLiteStore) ListOrphanCompanies(ctx context.Context, limit int) ([]company.Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+` FROM companies c
		WHERE NOT EXISTS (SELECT 1 FROM snapshots s WHERE s.company_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM contacts ct WHERE ct.company_id = c.id)
		ORDER BY c.id LIMIT ?`, company.EffectiveLimit(limit))
	if err != nil {
		return nil, sqliteErr(err, "list orphan companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []company.Company
	for rows.Next() {
		var c company.Company
		if err := rows.Scan(companyDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan orphan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: orphan companies iterate")
}

// DeleteCompanies removes the given companies; contacts and snapshots cascade.
func (s *SQLiteStore) DeleteCompanies(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sqliteErr(err, "delete companies")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
		if err != nil {
			return 0, sqliteErr(err, "delete company")
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, sqliteErr(err, "delete companies commit")
	}
	return total, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %v", entity, id)
	}
	return nil
}

func scanCompanyRow(row scannable, op string) (*company.Company, error) {
	var c company.Company
	err := row.Scan(companyDests(&c)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteErr(err, op)
	}
	return &c, nil
}

func scanSnapshot(row scannable) (*company.Snapshot, error) {
	var snap company.Snapshot
	var period, kind string
	var payload []byte
	if err := row.Scan(&snap.ID, &snap.CompanyID, &snap.ContactID, &period, &kind, &payload,
		&snap.SourceURL, &snap.QueryName, &snap.CapturedAt, &snap.Active); err != nil {
		return nil, eris.Wrap(err, "store: scan snapshot")
	}
	p, err := model.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	snap.Period, snap.Kind, snap.Payload = p, model.Kind(kind), payload
	return &snap, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var period, status string
	var report sql.NullString
	if err := row.Scan(&r.ID, &period, &status, &r.StartedAt, &r.FinishedAt, &report, &r.Error); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, eris.Wrap(err, "store: scan run")
	}
	p, err := model.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	r.Period, r.Status = p, model.RunStatus(status)
	if report.Valid && report.String != "" {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(report.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run report")
		}
	}
	return &r, nil
}

func scanRejected(row scannable) (*model.RejectedRecord, error) {
	var rec model.RejectedRecord
	var period, kind, reason string
	var payload []byte
	if err := row.Scan(&rec.ID, &rec.RunID, &period, &kind, &reason, &rec.Error, &payload,
		&rec.SourceURL, &rec.QueryName, &rec.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "store: scan rejected record")
	}
	p, err := model.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	rec.Period, rec.Kind, rec.Reason, rec.Payload = p, model.Kind(kind), model.RejectReason(reason), payload
	return &rec, nil
}
