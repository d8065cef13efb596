package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/sovgate/sovgate/internal/crypto"
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLiteStore implements the Store interface using SQLite as the backing
// database. It provides durable, ACID-compliant metadata storage suitable
// for single-node deployments.
type SQLiteStore struct {
	db         *sql.DB
	passphrase string
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and
// initializes the database schema. The passphrase obfuscates tenant secrets
// at rest; credential operations fail while it is empty.
func NewSQLiteStore(dsn, passphrase string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}
	// PRAGMAs are per-connection; a single pooled connection keeps them in
	// force and serialises writes the way SQLite wants.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, passphrase: passphrase}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS tenant_credentials (
			customer_id TEXT NOT NULL,
			access_key  TEXT PRIMARY KEY,
			secret_key  TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_customer
			ON tenant_credentials(customer_id);

		CREATE TABLE IF NOT EXISTS bucket_mappings (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id    TEXT NOT NULL,
			region_id      TEXT NOT NULL,
			logical_name   TEXT NOT NULL,
			backend_id     TEXT NOT NULL,
			backend_bucket TEXT NOT NULL,
			created_at     TEXT NOT NULL,

			UNIQUE (customer_id, logical_name, backend_id)
		);

		CREATE INDEX IF NOT EXISTS idx_mappings_customer_logical
			ON bucket_mappings(customer_id, logical_name);

		CREATE TABLE IF NOT EXISTS object_metadata (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket_mapping_id INTEGER NOT NULL,
			object_key        TEXT NOT NULL,
			size              INTEGER NOT NULL,
			etag              TEXT NOT NULL,
			encrypted_key     TEXT,
			residency         TEXT,
			replica_count     INTEGER,
			created_at        TEXT NOT NULL,

			FOREIGN KEY (bucket_mapping_id) REFERENCES bucket_mappings(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_objects_mapping
			ON object_metadata(bucket_mapping_id);

		CREATE TABLE IF NOT EXISTS replication_jobs (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket_mapping_id  INTEGER NOT NULL,
			object_metadata_id INTEGER NOT NULL,
			source_backend_id  TEXT NOT NULL,
			target_backend     TEXT NOT NULL,
			status             TEXT NOT NULL DEFAULT 'pending',
			attempts           INTEGER NOT NULL DEFAULT 0,
			last_error         TEXT,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL,

			FOREIGN KEY (bucket_mapping_id) REFERENCES bucket_mappings(id) ON DELETE CASCADE,
			FOREIGN KEY (object_metadata_id) REFERENCES object_metadata(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_status ON replication_jobs(status, id);

		CREATE TABLE IF NOT EXISTS provider_capabilities (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			country       TEXT NOT NULL DEFAULT '',
			region_city   TEXT NOT NULL DEFAULT '',
			zone_code     TEXT NOT NULL,
			provider      TEXT NOT NULL,
			s3_compatible TEXT,
			object_lock   TEXT,
			versioning    TEXT,
			iso27001      TEXT,
			veeam_ready   TEXT,
			notes         TEXT,

			UNIQUE (provider, zone_code)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity to the SQLite database.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Tenant credential operations ----

// UpsertTenantCredential creates or replaces the credential for the given
// access key. The secret is obfuscated before it touches disk; the original
// created_at is preserved on overwrite.
func (s *SQLiteStore) UpsertTenantCredential(ctx context.Context, cred *TenantCredential) error {
	token, err := crypto.Encrypt(cred.SecretKey, s.passphrase)
	if err != nil {
		return err
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_credentials (customer_id, access_key, secret_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(access_key) DO UPDATE SET
			customer_id = excluded.customer_id,
			secret_key  = excluded.secret_key`,
		cred.CustomerID,
		cred.AccessKey,
		token,
		cred.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting credential %q: %w", cred.AccessKey, err)
	}
	return nil
}

// GetTenantByAccessKey retrieves a credential and decrypts its secret.
func (s *SQLiteStore) GetTenantByAccessKey(ctx context.Context, accessKey string) (*TenantCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT customer_id, access_key, secret_key, created_at
		 FROM tenant_credentials WHERE access_key = ?`,
		accessKey,
	)

	var cred TenantCredential
	var token, createdAtStr string
	err := row.Scan(&cred.CustomerID, &cred.AccessKey, &token, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", accessKey, err)
	}

	secret, err := crypto.Decrypt(token, s.passphrase)
	if err != nil {
		return nil, err
	}
	cred.SecretKey = secret
	cred.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &cred, nil
}

// ---- Bucket mapping operations ----

// UpsertBucketMapping creates or replaces the mapping row keyed by
// (customer, logical, backend) and fills in the row id.
func (s *SQLiteStore) UpsertBucketMapping(ctx context.Context, m *BucketMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bucket_mappings
			(customer_id, region_id, logical_name, backend_id, backend_bucket, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(customer_id, logical_name, backend_id) DO UPDATE SET
			region_id      = excluded.region_id,
			backend_bucket = excluded.backend_bucket`,
		m.CustomerID,
		m.RegionID,
		m.LogicalName,
		m.BackendID,
		m.BackendBucket,
		m.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting mapping %s/%s/%s: %w",
			m.CustomerID, m.LogicalName, m.BackendID, err)
	}

	// The upsert path does not report the row id, so read it back.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM bucket_mappings
		 WHERE customer_id = ? AND logical_name = ? AND backend_id = ?`,
		m.CustomerID, m.LogicalName, m.BackendID,
	)
	var createdAtStr string
	if err := row.Scan(&m.ID, &createdAtStr); err != nil {
		return fmt.Errorf("reading back mapping %s/%s/%s: %w",
			m.CustomerID, m.LogicalName, m.BackendID, err)
	}
	m.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return nil
}

// GetBucketMapping retrieves one mapping row, or (nil, nil) if absent.
func (s *SQLiteStore) GetBucketMapping(ctx context.Context, customerID, logicalName, backendID string) (*BucketMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, region_id, logical_name, backend_id, backend_bucket, created_at
		 FROM bucket_mappings
		 WHERE customer_id = ? AND logical_name = ? AND backend_id = ?`,
		customerID, logicalName, backendID,
	)

	var m BucketMapping
	var createdAtStr string
	err := row.Scan(&m.ID, &m.CustomerID, &m.RegionID, &m.LogicalName,
		&m.BackendID, &m.BackendBucket, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting mapping %s/%s/%s: %w",
			customerID, logicalName, backendID, err)
	}
	m.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &m, nil
}

// ListBucketMappings returns all backend rows for a logical bucket.
func (s *SQLiteStore) ListBucketMappings(ctx context.Context, customerID, logicalName string) ([]BucketMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, region_id, logical_name, backend_id, backend_bucket, created_at
		 FROM bucket_mappings
		 WHERE customer_id = ? AND logical_name = ?
		 ORDER BY backend_id`,
		customerID, logicalName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing mappings %s/%s: %w", customerID, logicalName, err)
	}
	defer rows.Close()

	var mappings []BucketMapping
	for rows.Next() {
		var m BucketMapping
		var createdAtStr string
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.RegionID, &m.LogicalName,
			&m.BackendID, &m.BackendBucket, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning mapping row: %w", err)
		}
		m.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// ---- Object operations ----

// InsertObject records object metadata under an existing mapping and fills
// in the row id.
func (s *SQLiteStore) InsertObject(ctx context.Context, obj *ObjectRecord) error {
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO object_metadata
			(bucket_mapping_id, object_key, size, etag, encrypted_key, residency, replica_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.BucketMappingID,
		obj.ObjectKey,
		obj.Size,
		obj.ETag,
		nullString(obj.EncryptedKey),
		nullString(obj.Residency),
		nullInt(obj.ReplicaCount),
		obj.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting object %q: %w", obj.ObjectKey, err)
	}
	obj.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading object row id: %w", err)
	}
	return nil
}

const objectSelect = `
	SELECT o.id, o.bucket_mapping_id, o.object_key, o.size, o.etag,
	       o.encrypted_key, o.residency, o.replica_count, o.created_at,
	       m.customer_id, m.logical_name, m.backend_id
	FROM object_metadata o
	JOIN bucket_mappings m ON m.id = o.bucket_mapping_id`

// GetObject retrieves an object record by id, or (nil, nil) if absent.
func (s *SQLiteStore) GetObject(ctx context.Context, id int64) (*ObjectRecord, error) {
	row := s.db.QueryRowContext(ctx, objectSelect+` WHERE o.id = ?`, id)
	obj, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %d: %w", id, err)
	}
	return obj, nil
}

// ListObjects lists object records for a logical bucket across all of its
// backend mappings, oldest first.
func (s *SQLiteStore) ListObjects(ctx context.Context, customerID, logicalName string) ([]ObjectRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		objectSelect+` WHERE m.customer_id = ? AND m.logical_name = ? ORDER BY o.id`,
		customerID, logicalName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing objects %s/%s: %w", customerID, logicalName, err)
	}
	defer rows.Close()

	var objects []ObjectRecord
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		objects = append(objects, *obj)
	}
	return objects, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanObject(sc scanner) (*ObjectRecord, error) {
	var obj ObjectRecord
	var encryptedKey, residency sql.NullString
	var replicaCount sql.NullInt64
	var createdAtStr string
	err := sc.Scan(&obj.ID, &obj.BucketMappingID, &obj.ObjectKey, &obj.Size, &obj.ETag,
		&encryptedKey, &residency, &replicaCount, &createdAtStr,
		&obj.CustomerID, &obj.LogicalName, &obj.BackendID)
	if err != nil {
		return nil, err
	}
	obj.EncryptedKey = encryptedKey.String
	obj.Residency = residency.String
	obj.ReplicaCount = int(replicaCount.Int64)
	obj.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &obj, nil
}

// ---- Replication job operations ----

// InsertReplicationJob enqueues a pending job for the given object. The
// source mapping and backend are resolved from the object row in the same
// statement, so a job can never reference a mapping its object does not
// belong to. Returns (nil, nil) when the object does not exist.
func (s *SQLiteStore) InsertReplicationJob(ctx context.Context, objectID int64, targetBackend string) (*ReplicationJob, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO replication_jobs
			(bucket_mapping_id, object_metadata_id, source_backend_id, target_backend,
			 status, attempts, created_at, updated_at)
		 SELECT o.bucket_mapping_id, o.id, m.backend_id, ?, ?, 0, ?, ?
		 FROM object_metadata o
		 JOIN bucket_mappings m ON m.id = o.bucket_mapping_id
		 WHERE o.id = ?`,
		targetBackend, JobPending, now, now, objectID,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting job for object %d: %w", objectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking job insert for object %d: %w", objectID, err)
	}
	if n == 0 {
		return nil, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading job row id: %w", err)
	}
	return s.getJob(ctx, id)
}

const jobSelect = `
	SELECT j.id, j.bucket_mapping_id, j.object_metadata_id, j.source_backend_id,
	       j.target_backend, j.status, j.attempts, j.last_error, j.created_at, j.updated_at,
	       m.customer_id, m.region_id, m.logical_name, m.backend_bucket, o.object_key
	FROM replication_jobs j
	JOIN bucket_mappings m ON m.id = j.bucket_mapping_id
	JOIN object_metadata o ON o.id = j.object_metadata_id`

func (s *SQLiteStore) getJob(ctx context.Context, id int64) (*ReplicationJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+` WHERE j.id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %d: %w", id, err)
	}
	return job, nil
}

// ListReplicationJobs lists jobs in insertion order, optionally filtered by
// status.
func (s *SQLiteStore) ListReplicationJobs(ctx context.Context, status string) ([]ReplicationJob, error) {
	query := jobSelect
	var args []any
	if status != "" {
		query += ` WHERE j.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY j.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ClaimPendingJobs returns up to limit pending jobs in insertion order.
// Claiming does not change status; terminal transitions are compare-and-set
// so concurrent workers cannot double-complete a job.
func (s *SQLiteStore) ClaimPendingJobs(ctx context.Context, limit int) ([]ReplicationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		jobSelect+` WHERE j.status = ? ORDER BY j.id LIMIT ?`,
		JobPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkJobCompleted transitions a pending job to completed. Returns an error
// if the job is absent or already terminal.
func (s *SQLiteStore) MarkJobCompleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE replication_jobs SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		JobCompleted, time.Now().UTC().Format(timeFormat), id, JobPending,
	)
	if err != nil {
		return fmt.Errorf("completing job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking completion of job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("job %d is not pending", id)
	}
	return nil
}

// MarkJobFailed transitions a pending job to failed, recording the error
// and incrementing the attempt counter.
func (s *SQLiteStore) MarkJobFailed(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE replication_jobs
		 SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		JobFailed, errMsg, time.Now().UTC().Format(timeFormat), id, JobPending,
	)
	if err != nil {
		return fmt.Errorf("failing job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking failure of job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("job %d is not pending", id)
	}
	return nil
}

func scanJob(sc scanner) (*ReplicationJob, error) {
	var job ReplicationJob
	var lastError sql.NullString
	var createdAtStr, updatedAtStr string
	err := sc.Scan(&job.ID, &job.BucketMappingID, &job.ObjectMetadataID, &job.SourceBackendID,
		&job.TargetBackend, &job.Status, &job.Attempts, &lastError, &createdAtStr, &updatedAtStr,
		&job.CustomerID, &job.RegionID, &job.LogicalName, &job.SourceBucket, &job.ObjectKey)
	if err != nil {
		return nil, err
	}
	job.LastError = lastError.String
	job.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	job.UpdatedAt, _ = time.Parse(timeFormat, updatedAtStr)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]ReplicationJob, error) {
	var jobs []ReplicationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ---- Provider catalogue operations ----

// SeedProviderCapabilities inserts catalogue rows, skipping rows whose
// (provider, zone_code) already exists. Returns the number inserted.
func (s *SQLiteStore) SeedProviderCapabilities(ctx context.Context, rows []ProviderCapability) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, r := range rows {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO provider_capabilities
				(country, region_city, zone_code, provider,
				 s3_compatible, object_lock, versioning, iso27001, veeam_ready, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Country, r.RegionCity, r.ZoneCode, r.Provider,
			nullString(r.S3Compatible), nullString(r.ObjectLock), nullString(r.Versioning),
			nullString(r.ISO27001), nullString(r.VeeamReady), nullString(r.Notes),
		)
		if err != nil {
			return 0, fmt.Errorf("seeding provider %s/%s: %w", r.Provider, r.ZoneCode, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking seed of %s/%s: %w", r.Provider, r.ZoneCode, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed transaction: %w", err)
	}
	return inserted, nil
}

// ListProviderCapabilities lists catalogue rows, optionally filtered by
// country (case-insensitive).
func (s *SQLiteStore) ListProviderCapabilities(ctx context.Context, country string) ([]ProviderCapability, error) {
	query := `SELECT id, country, region_city, zone_code, provider,
	                 s3_compatible, object_lock, versioning, iso27001, veeam_ready, notes
	          FROM provider_capabilities`
	var args []any
	if country != "" {
		query += ` WHERE country = ? COLLATE NOCASE`
		args = append(args, country)
	}
	query += ` ORDER BY provider, zone_code`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var caps []ProviderCapability
	for rows.Next() {
		var c ProviderCapability
		var s3c, lock, ver, iso, veeam, notes sql.NullString
		if err := rows.Scan(&c.ID, &c.Country, &c.RegionCity, &c.ZoneCode, &c.Provider,
			&s3c, &lock, &ver, &iso, &veeam, &notes); err != nil {
			return nil, fmt.Errorf("scanning provider row: %w", err)
		}
		c.S3Compatible = s3c.String
		c.ObjectLock = lock.String
		c.Versioning = ver.String
		c.ISO27001 = iso.String
		c.VeeamReady = veeam.String
		c.Notes = notes.String
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// nullString converts an empty string to NULL for optional columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt converts zero to NULL for optional integer columns.
func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// Interface check.
var _ Store = (*SQLiteStore)(nil)
