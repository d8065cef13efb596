package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sovgate/sovgate/internal/crypto"
)

// MemoryStore is an in-memory implementation of the Store interface, used
// for tests. It mirrors the SQLite store's semantics, including secret
// obfuscation, row ids, and compare-and-set job transitions.
type MemoryStore struct {
	mu         sync.RWMutex
	passphrase string

	credentials map[string]TenantCredential // by access key, secret obfuscated
	mappings    map[int64]BucketMapping
	objects     map[int64]ObjectRecord
	jobs        map[int64]ReplicationJob
	providers   []ProviderCapability

	nextMappingID  int64
	nextObjectID   int64
	nextJobID      int64
	nextProviderID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(passphrase string) *MemoryStore {
	return &MemoryStore{
		passphrase:  passphrase,
		credentials: make(map[string]TenantCredential),
		mappings:    make(map[int64]BucketMapping),
		objects:     make(map[int64]ObjectRecord),
		jobs:        make(map[int64]ReplicationJob),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// UpsertTenantCredential creates or replaces the credential for the given
// access key.
func (s *MemoryStore) UpsertTenantCredential(ctx context.Context, cred *TenantCredential) error {
	token, err := crypto.Encrypt(cred.SecretKey, s.passphrase)
	if err != nil {
		return err
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cred
	stored.SecretKey = token
	if prev, ok := s.credentials[cred.AccessKey]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	s.credentials[cred.AccessKey] = stored
	return nil
}

// GetTenantByAccessKey retrieves a credential and decrypts its secret.
func (s *MemoryStore) GetTenantByAccessKey(ctx context.Context, accessKey string) (*TenantCredential, error) {
	s.mu.RLock()
	stored, ok := s.credentials[accessKey]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	secret, err := crypto.Decrypt(stored.SecretKey, s.passphrase)
	if err != nil {
		return nil, err
	}
	cred := stored
	cred.SecretKey = secret
	return &cred, nil
}

// UpsertBucketMapping creates or replaces the mapping row keyed by
// (customer, logical, backend) and fills in the row id.
func (s *MemoryStore) UpsertBucketMapping(ctx context.Context, m *BucketMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.mappings {
		if existing.CustomerID == m.CustomerID &&
			existing.LogicalName == m.LogicalName &&
			existing.BackendID == m.BackendID {
			existing.RegionID = m.RegionID
			existing.BackendBucket = m.BackendBucket
			s.mappings[id] = existing
			*m = existing
			return nil
		}
	}

	s.nextMappingID++
	m.ID = s.nextMappingID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mappings[m.ID] = *m
	return nil
}

// GetBucketMapping retrieves one mapping row, or (nil, nil) if absent.
func (s *MemoryStore) GetBucketMapping(ctx context.Context, customerID, logicalName, backendID string) (*BucketMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mappings {
		if m.CustomerID == customerID && m.LogicalName == logicalName && m.BackendID == backendID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

// ListBucketMappings returns all backend rows for a logical bucket.
func (s *MemoryStore) ListBucketMappings(ctx context.Context, customerID, logicalName string) ([]BucketMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mappings []BucketMapping
	for _, m := range s.mappings {
		if m.CustomerID == customerID && m.LogicalName == logicalName {
			mappings = append(mappings, m)
		}
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].BackendID < mappings[j].BackendID
	})
	return mappings, nil
}

// InsertObject records object metadata under an existing mapping and fills
// in the row id.
func (s *MemoryStore) InsertObject(ctx context.Context, obj *ObjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[obj.BucketMappingID]
	if !ok {
		return fmt.Errorf("mapping %d not found", obj.BucketMappingID)
	}

	s.nextObjectID++
	obj.ID = s.nextObjectID
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}
	obj.CustomerID = m.CustomerID
	obj.LogicalName = m.LogicalName
	obj.BackendID = m.BackendID
	s.objects[obj.ID] = *obj
	return nil
}

// GetObject retrieves an object record by id, or (nil, nil) if absent.
func (s *MemoryStore) GetObject(ctx context.Context, id int64) (*ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, nil
	}
	cp := obj
	return &cp, nil
}

// ListObjects lists object records for a logical bucket across all of its
// backend mappings, oldest first.
func (s *MemoryStore) ListObjects(ctx context.Context, customerID, logicalName string) ([]ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var objects []ObjectRecord
	for _, obj := range s.objects {
		if obj.CustomerID == customerID && obj.LogicalName == logicalName {
			objects = append(objects, obj)
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}

// InsertReplicationJob enqueues a pending job for the given object,
// resolving the source mapping. Returns (nil, nil) when the object does
// not exist.
func (s *MemoryStore) InsertReplicationJob(ctx context.Context, objectID int64, targetBackend string) (*ReplicationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[objectID]
	if !ok {
		return nil, nil
	}
	m, ok := s.mappings[obj.BucketMappingID]
	if !ok {
		return nil, nil
	}

	s.nextJobID++
	now := time.Now().UTC()
	job := ReplicationJob{
		ID:               s.nextJobID,
		BucketMappingID:  m.ID,
		ObjectMetadataID: obj.ID,
		SourceBackendID:  m.BackendID,
		TargetBackend:    targetBackend,
		Status:           JobPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		CustomerID:       m.CustomerID,
		RegionID:         m.RegionID,
		LogicalName:      m.LogicalName,
		SourceBucket:     m.BackendBucket,
		ObjectKey:        obj.ObjectKey,
	}
	s.jobs[job.ID] = job
	cp := job
	return &cp, nil
}

// ListReplicationJobs lists jobs in insertion order, optionally filtered
// by status.
func (s *MemoryStore) ListReplicationJobs(ctx context.Context, status string) ([]ReplicationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []ReplicationJob
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// ClaimPendingJobs returns up to limit pending jobs in insertion order.
func (s *MemoryStore) ClaimPendingJobs(ctx context.Context, limit int) ([]ReplicationJob, error) {
	jobs, err := s.ListReplicationJobs(ctx, JobPending)
	if err != nil {
		return nil, err
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// MarkJobCompleted transitions a pending job to completed.
func (s *MemoryStore) MarkJobCompleted(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != JobPending {
		return fmt.Errorf("job %d is not pending", id)
	}
	job.Status = JobCompleted
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// MarkJobFailed transitions a pending job to failed, recording the error
// and incrementing the attempt counter.
func (s *MemoryStore) MarkJobFailed(ctx context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != JobPending {
		return fmt.Errorf("job %d is not pending", id)
	}
	job.Status = JobFailed
	job.Attempts++
	job.LastError = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// SeedProviderCapabilities inserts catalogue rows, skipping rows whose
// (provider, zone_code) already exists.
func (s *MemoryStore) SeedProviderCapabilities(ctx context.Context, rows []ProviderCapability) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.providers))
	for _, p := range s.providers {
		existing[p.Provider+"\x00"+p.ZoneCode] = true
	}

	inserted := 0
	for _, r := range rows {
		key := r.Provider + "\x00" + r.ZoneCode
		if existing[key] {
			continue
		}
		existing[key] = true
		s.nextProviderID++
		r.ID = s.nextProviderID
		s.providers = append(s.providers, r)
		inserted++
	}
	return inserted, nil
}

// ListProviderCapabilities lists catalogue rows, optionally filtered by
// country (case-insensitive).
func (s *MemoryStore) ListProviderCapabilities(ctx context.Context, country string) ([]ProviderCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var caps []ProviderCapability
	for _, p := range s.providers {
		if country == "" || strings.EqualFold(p.Country, country) {
			caps = append(caps, p)
		}
	}
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].Provider != caps[j].Provider {
			return caps[i].Provider < caps[j].Provider
		}
		return caps[i].ZoneCode < caps[j].ZoneCode
	})
	return caps, nil
}

// Interface check.
var _ Store = (*MemoryStore)(nil)
