package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/db"
	"github.com/sells-group/leadtool/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; the caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// migrationLockID serializes concurrent migrations across processes.
const migrationLockID = 5318008

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	address      TEXT,
	category     TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	rating       DOUBLE PRECISION CHECK (rating IS NULL OR (rating >= 0 AND rating <= 5)),
	review_count INTEGER CHECK (review_count IS NULL OR review_count >= 0),
	source       TEXT NOT NULL DEFAULT 'Google Maps',
	description  TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	industry     TEXT NOT NULL DEFAULT '',
	size         TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_identity ON companies(name, COALESCE(address, ''));
CREATE INDEX IF NOT EXISTS idx_companies_category ON companies(category);
CREATE INDEX IF NOT EXISTS idx_companies_location ON companies(location);

CREATE TABLE IF NOT EXISTS contacts (
	id          BIGSERIAL PRIMARY KEY,
	company_id  BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	email       TEXT,
	phone       TEXT NOT NULL DEFAULT '',
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	department  TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	linkedin    TEXT NOT NULL DEFAULT '',
	is_primary  BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_identity ON contacts(company_id, email) WHERE email IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id          BIGSERIAL PRIMARY KEY,
	company_id  BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	contact_id  BIGINT REFERENCES contacts(id) ON DELETE SET NULL,
	period      CHAR(7) NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('organization', 'contact')),
	payload     JSON NOT NULL,
	source_url  TEXT NOT NULL DEFAULT '',
	query_name  TEXT NOT NULL DEFAULT '',
	captured_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_snapshots_company ON snapshots(company_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_contact ON snapshots(contact_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_period ON snapshots(period);
CREATE INDEX IF NOT EXISTS idx_snapshots_active ON snapshots(active) WHERE active;

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	period      CHAR(7) NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ,
	report      JSONB,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ingest_runs_running ON ingest_runs(status) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS rejected_records (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	period     CHAR(7) NOT NULL,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error      TEXT NOT NULL,
	payload    JSON,
	source_url TEXT NOT NULL DEFAULT '',
	query_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rejected_records_run ON rejected_records(run_id);
`

// Migrate applies the schema under a transaction-scoped advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: migrate lock")
	}
	if _, err := tx.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: migrate commit")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgErr wraps err with op, promoting retryable failures to
// TransientStoreError and unique violations to ErrDuplicate.
func pgErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if db.IsRetryable(err) {
		return &model.TransientStoreError{Op: op, Err: err}
	}
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: %s: %v", op, err)
	}
	return eris.Wrapf(err, "postgres: %s", op)
}

// WithTx runs fn in a transaction and commits when fn returns nil.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pgErr(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return pgErr(tx.Commit(ctx), "commit")
}

type pgTx struct {
	q db.Querier
}

func (t *pgTx) FindCompany(ctx context.Context, name string, address *string) (*company.Company, error) {
	var row pgx.Row
	if address == nil {
		row = t.q.QueryRow(ctx,
			`SELECT `+companyColumns+` FROM companies c WHERE c.name = $1 AND c.address IS NULL ORDER BY c.id LIMIT 1`, name)
	} else {
		row = t.q.QueryRow(ctx,
			`SELECT `+companyColumns+` FROM companies c WHERE c.name = $1 AND c.address = $2`, name, *address)
	}
	return scanPgCompany(row, "find company")
}

func (t *pgTx) FindCompanyByName(ctx context.Context, name string) (*company.Company, error) {
	row := t.q.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies c WHERE c.name = $1 ORDER BY c.id LIMIT 1`, name)
	return scanPgCompany(row, "find company by name")
}

func (t *pgTx) CreateCompany(ctx context.Context, c *company.Company) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO companies (name, address, category, phone, website, rating, review_count,
			source, description, domain, industry, size, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`,
		c.Name, c.Address, c.Category, c.Phone, c.Website, c.Rating, c.ReviewCount,
		c.Source, c.Description, c.Domain, c.Industry, c.Size, c.Location,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return pgErr(err, "insert company")
}

func (t *pgTx) UpdateCompany(ctx context.Context, c *company.Company) error {
	err := t.q.QueryRow(ctx, `
		UPDATE companies SET category = $2, phone = $3, website = $4, rating = $5, review_count = $6,
			source = $7, description = $8, domain = $9, industry = $10, size = $11, location = $12,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Category, c.Phone, c.Website, c.Rating, c.ReviewCount,
		c.Source, c.Description, c.Domain, c.Industry, c.Size, c.Location,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("company not found: %d", c.ID)
	}
	return pgErr(err, "update company")
}

func (t *pgTx) FindContact(ctx context.Context, companyID int64, email string) (*company.Contact, error) {
	var c company.Contact
	err := t.q.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts ct WHERE ct.company_id = $1 AND ct.email = $2`, companyID, email,
	).Scan(contactDests(&c)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgErr(err, "find contact")
	}
	return &c, nil
}

func (t *pgTx) CreateContact(ctx context.Context, c *company.Contact) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO contacts (company_id, email, phone, first_name, last_name, title, department,
			address, linkedin, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		c.CompanyID, c.Email, c.Phone, c.FirstName, c.LastName, c.Title, c.Department,
		c.Address, c.LinkedIn, c.IsPrimary,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return pgErr(err, "insert contact")
}

func (t *pgTx) UpdateContact(ctx context.Context, c *company.Contact) error {
	err := t.q.QueryRow(ctx, `
		UPDATE contacts SET phone = $2, first_name = $3, last_name = $4, title = $5, department = $6,
			address = $7, linkedin = $8, is_primary = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Phone, c.FirstName, c.LastName, c.Title, c.Department,
		c.Address, c.LinkedIn, c.IsPrimary,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("contact not found: %d", c.ID)
	}
	return pgErr(err, "update contact")
}

func (t *pgTx) InsertSnapshot(ctx context.Context, snap *company.Snapshot) error {
	snap.Active = true
	err := t.q.QueryRow(ctx, `
		INSERT INTO snapshots (company_id, contact_id, period, kind, payload, source_url, query_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, captured_at`,
		snap.CompanyID, snap.ContactID, snap.Period.String(), string(snap.Kind), string(snap.Payload),
		snap.SourceURL, snap.QueryName,
	).Scan(&snap.ID, &snap.CapturedAt)
	return pgErr(err, "insert snapshot")
}

// DeactivateSnapshots clears the active flag on every snapshot in one
// transaction.
func (s *PostgresStore) DeactivateSnapshots(ctx context.Context) (int64, error) {
	return s.execInTx(ctx, "deactivate snapshots", `UPDATE snapshots SET active = false WHERE active`)
}

// PurgeSnapshotsBefore deletes snapshots whose period sorts before cutoff.
func (s *PostgresStore) PurgeSnapshotsBefore(ctx context.Context, cutoff model.Period) (int64, error) {
	return s.execInTx(ctx, "purge snapshots", `DELETE FROM snapshots WHERE period < $1`, cutoff.String())
}

func (s *PostgresStore) execInTx(ctx context.Context, op, query string, args ...any) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, pgErr(err, op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, pgErr(err, op)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, pgErr(err, op+" commit")
	}
	return tag.RowsAffected(), nil
}

// AcquireRun records run as running. It fails with a RunStateError when
// another run holds the lock, unless opts allow breaking it.
func (s *PostgresStore) AcquireRun(ctx context.Context, run *model.Run, opts LockOptions) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &model.RunStateError{Op: "acquire run lock", Err: pgErr(err, "begin")}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	var holder string
	var startedAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT id, started_at FROM ingest_runs WHERE status = $1 FOR UPDATE`, string(model.RunStatusRunning),
	).Scan(&holder, &startedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return &model.RunStateError{Op: "acquire run lock", Err: pgErr(err, "select running")}
	case !opts.breaks(startedAt, now):
		return activeRunError(holder)
	default:
		if _, err := tx.Exec(ctx,
			`UPDATE ingest_runs SET status = $1, finished_at = $2, error = $3 WHERE id = $4`,
			string(model.RunStatusAborted), now, lockBrokenMsg, holder,
		); err != nil {
			return &model.RunStateError{Op: "break run lock", Err: pgErr(err, "abort stale run")}
		}
	}

	run.Status = model.RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ingest_runs (id, period, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Period.String(), string(run.Status), run.StartedAt,
	); err != nil {
		if db.IsUniqueViolation(err) {
			return activeRunError("unknown")
		}
		return &model.RunStateError{Op: "acquire run lock", Err: pgErr(err, "insert run")}
	}
	if err := tx.Commit(ctx); err != nil {
		return &model.RunStateError{Op: "acquire run lock", Err: pgErr(err, "commit")}
	}
	return nil
}

// FinishRun stores the terminal status and report of run.
func (s *PostgresStore) FinishRun(ctx context.Context, run *model.Run) error {
	var report []byte
	if run.Report != nil {
		b, err := json.Marshal(run.Report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run report")
		}
		report = b
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, finished_at = $2, report = $3, error = $4 WHERE id = $5`,
		string(run.Status), finished, report, run.Error, run.ID,
	)
	if err != nil {
		return pgErr(err, "finish run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, company.EffectiveLimit(limit))
	if err != nil {
		return nil, pgErr(err, "list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, pgErr(rows.Err(), "list runs iterate")
}

func (s *PostgresStore) RecordRejected(ctx context.Context, rec *model.RejectedRecord) error {
	var payload any
	if rec.Payload != nil {
		payload = string(rec.Payload)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rejected_records (run_id, period, kind, reason, error, payload, source_url, query_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		rec.RunID, rec.Period.String(), string(rec.Kind), string(rec.Reason), rec.Error, payload,
		rec.SourceURL, rec.QueryName,
	).Scan(&rec.ID, &rec.CreatedAt)
	return pgErr(err, "insert rejected record")
}

func (s *PostgresStore) ListRejected(ctx context.Context, runID string, limit int) ([]model.RejectedRecord, error) {
	w := newWhere(true)
	if runID != "" {
		w.add("run_id = " + w.arg(runID))
	}
	query := `SELECT id, run_id, period, kind, reason, error, payload, source_url, query_name, created_at
		FROM rejected_records` + w.String() + ` ORDER BY id` + w.page(limit, 0)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, pgErr(err, "list rejected records")
	}
	defer rows.Close()

	var out []model.RejectedRecord
	for rows.Next() {
		rec, err := scanRejected(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, pgErr(rows.Err(), "list rejected iterate")
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*company.Detail, error) {
	c, err := scanPgCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies c WHERE c.id = $1`, id), "get company")
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

func (s *PostgresStore) ListCompanies(ctx context.Context, f company.CompanyFilter) ([]company.Company, error) {
	w := newWhere(true)
	companyWhere(w, f)
	query := `SELECT ` + companyColumns + ` FROM companies c` + w.String() + ` ORDER BY c.id` + w.page(f.Limit, f.Offset)
	return s.queryCompanies(ctx, "list companies", query, w.args...)
}

func (s *PostgresStore) queryCompanies(ctx context.Context, op, query string, args ...any) ([]company.Company, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr(err, op)
	}
	defer rows.Close()

	var out []company.Company
	for rows.Next() {
		var c company.Company
		if err := rows.Scan(companyDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, c)
	}
	return out, pgErr(rows.Err(), op)
}

func (s *PostgresStore) ListContacts(ctx context.Context, f company.ContactFilter) ([]company.Contact, error) {
	w := newWhere(true)
	contactWhere(w, f)
	query := `SELECT ` + contactColumns + ` FROM contacts ct` + w.String() + ` ORDER BY ct.id` + w.page(f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, pgErr(err, "list contacts")
	}
	defer rows.Close()

	var out []company.Contact
	for rows.Next() {
		var c company.Contact
		if err := rows.Scan(contactDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		out = append(out, c)
	}
	return out, pgErr(rows.Err(), "list contacts")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, f company.SnapshotFilter) ([]company.Snapshot, error) {
	w := newWhere(true)
	snapshotWhere(w, f)
	query := `SELECT ` + snapshotColumns + ` FROM snapshots` + w.String() + ` ORDER BY period, id` + w.page(f.Limit, 0)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, pgErr(err, "list snapshots")
	}
	defer rows.Close()

	var out []company.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, pgErr(rows.Err(), "list snapshots")
}

func (s *PostgresStore) CompanyStats(ctx context.Context) (*company.CompanyStats, error) {
	var st company.CompanyStats
	if err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM companies), (SELECT COUNT(*) FROM snapshots WHERE active)`,
	).Scan(&st.Total, &st.ActiveSnapshots); err != nil {
		return nil, pgErr(err, "company stats")
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

func (s *PostgresStore) ContactStats(ctx context.Context) (*company.ContactStats, error) {
	var st company.ContactStats
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_primary) FROM contacts`,
	).Scan(&st.Total, &st.Primary); err != nil {
		return nil, pgErr(err, "contact stats")
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
func (s *PostgresStore) buckets(ctx context.Context, table, column string) ([]company.Bucket, error) {
	ident := pgx.Identifier{column}.Sanitize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+ident+`, COUNT(*) AS n FROM `+pgx.Identifier{table}.Sanitize()+`
		WHERE `+ident+` <> '' GROUP BY `+ident+` ORDER BY n DESC, `+ident+` LIMIT $1`, bucketLimit)
	if err != nil {
		return nil, pgErr(err, "group "+table+" by "+column)
	}
	defer rows.Close()

	var out []company.Bucket
	for rows.Next() {
		var b company.Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bucket")
		}
		out = append(out, b)
	}
	return out, pgErr(rows.Err(), "buckets")
}

// ListOrphanCompanies returns companies with no snapshots and no contacts.
func (s *PostgresStore) ListOrphanCompanies(ctx context.Context, limit int) ([]company.Company, error) {
	return s.queryCompanies(ctx, "list orphan companies", `
		SELECT `+companyColumns+` FROM companies c
		WHERE NOT EXISTS (SELECT 1 FROM snapshots s WHERE s.company_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM contacts ct WHERE ct.company_id = c.id)
		ORDER BY c.id LIMIT $1`, company.EffectiveLimit(limit))
}

// DeleteCompanies removes the given companies; contacts and snapshots cascade.
func (s *PostgresStore) DeleteCompanies(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execInTx(ctx, "delete companies", `DELETE FROM companies WHERE id = ANY($1)`, ids)
}

func scanPgCompany(row pgx.Row, op string) (*company.Company, error) {
	var c company.Company
	err := row.Scan(companyDests(&c)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgErr(err, op)
	}
	return &c, nil
}
