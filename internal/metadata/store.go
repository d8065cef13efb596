// Package metadata defines the interface and implementations for SovGate's
// metadata storage layer, which tracks tenants, bucket mappings, object
// records, and replication jobs.
package metadata

import (
	"context"
	"io"
	"time"
)

// Job status values. A job is terminal once completed or failed.
const (
	JobPending   = "pending"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// TenantCredential represents a tenant's API credential. SecretKey is
// plaintext in memory; implementations store it obfuscated and decrypt it
// on read.
type TenantCredential struct {
	CustomerID string
	AccessKey  string
	SecretKey  string
	CreatedAt  time.Time
}

// BucketMapping binds one logical bucket to one physical bucket on one
// backend. A logical bucket has one row per backend it is mapped to.
type BucketMapping struct {
	ID            int64
	CustomerID    string
	RegionID      string
	LogicalName   string
	BackendID     string
	BackendBucket string
	CreatedAt     time.Time
}

// ObjectRecord represents the metadata for a single stored object, owned by
// exactly one bucket mapping.
type ObjectRecord struct {
	ID              int64
	BucketMappingID int64
	ObjectKey       string
	Size            int64
	ETag            string
	EncryptedKey    string
	Residency       string
	ReplicaCount    int
	CreatedAt       time.Time

	// Denormalized mapping fields, populated on reads that join the
	// owning mapping.
	CustomerID  string
	LogicalName string
	BackendID   string
}

// ReplicationJob represents one queued object copy from the source mapping's
// backend to a target backend.
type ReplicationJob struct {
	ID               int64
	BucketMappingID  int64
	ObjectMetadataID int64
	SourceBackendID  string
	TargetBackend    string
	Status           string
	Attempts         int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Denormalized fields the worker needs to execute the copy without
	// further lookups on the source side.
	CustomerID   string
	RegionID     string
	LogicalName  string
	SourceBucket string
	ObjectKey    string
}

// ProviderCapability is one row of the read-only provider catalogue seeded
// at bootstrap. Flag columns carry the catalogue's free-form yes/no values
// verbatim.
type ProviderCapability struct {
	ID           int64
	Country      string
	RegionCity   string
	ZoneCode     string
	Provider     string
	S3Compatible string
	ObjectLock   string
	Versioning   string
	ISO27001     string
	VeeamReady   string
	Notes        string
}

// Store defines the interface for all metadata operations required by
// SovGate. Implementations must be safe for concurrent use. Fetch methods
// return (nil, nil) when the record is absent.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Tenant credential operations

	// UpsertTenantCredential creates or replaces the credential for the
	// given access key, obfuscating the secret at rest.
	UpsertTenantCredential(ctx context.Context, cred *TenantCredential) error

	// GetTenantByAccessKey retrieves a credential and decrypts its secret.
	GetTenantByAccessKey(ctx context.Context, accessKey string) (*TenantCredential, error)

	// Bucket mapping operations

	// UpsertBucketMapping creates or replaces the mapping row keyed by
	// (customer, logical, backend) and fills in the row id.
	UpsertBucketMapping(ctx context.Context, m *BucketMapping) error

	// GetBucketMapping retrieves one mapping row.
	GetBucketMapping(ctx context.Context, customerID, logicalName, backendID string) (*BucketMapping, error)

	// ListBucketMappings returns all backend rows for a logical bucket.
	ListBucketMappings(ctx context.Context, customerID, logicalName string) ([]BucketMapping, error)

	// Object operations

	// InsertObject records object metadata under an existing mapping and
	// fills in the row id.
	InsertObject(ctx context.Context, obj *ObjectRecord) error

	// GetObject retrieves an object record by id.
	GetObject(ctx context.Context, id int64) (*ObjectRecord, error)

	// ListObjects lists object records for a logical bucket across all of
	// its backend mappings.
	ListObjects(ctx context.Context, customerID, logicalName string) ([]ObjectRecord, error)

	// Replication job operations

	// InsertReplicationJob enqueues a pending job for the given object,
	// resolving the source mapping in the same statement. Returns
	// (nil, nil) when the object does not exist.
	InsertReplicationJob(ctx context.Context, objectID int64, targetBackend string) (*ReplicationJob, error)

	// ListReplicationJobs lists jobs, optionally filtered by status.
	ListReplicationJobs(ctx context.Context, status string) ([]ReplicationJob, error)

	// ClaimPendingJobs returns up to limit pending jobs in insertion order.
	ClaimPendingJobs(ctx context.Context, limit int) ([]ReplicationJob, error)

	// MarkJobCompleted transitions a pending job to completed. The update
	// is a compare-and-set on status so a terminal job never regresses.
	MarkJobCompleted(ctx context.Context, id int64) error

	// MarkJobFailed transitions a pending job to failed, recording the
	// error and incrementing the attempt counter.
	MarkJobFailed(ctx context.Context, id int64, errMsg string) error

	// Provider catalogue operations

	// SeedProviderCapabilities inserts catalogue rows, skipping rows whose
	// (provider, zone_code) already exists. Returns the number inserted.
	SeedProviderCapabilities(ctx context.Context, rows []ProviderCapability) (int, error)

	// ListProviderCapabilities lists catalogue rows, optionally filtered
	// by country (case-insensitive).
	ListProviderCapabilities(ctx context.Context, country string) ([]ProviderCapability, error)
}
