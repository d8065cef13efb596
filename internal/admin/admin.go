// Package admin implements the operator-facing JSON surface under /proxy:
// tenant credentials, bucket mappings, object records, replication jobs,
// and the provider capability catalogue.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/naming"
	"github.com/sovgate/sovgate/internal/proxyerr"
)

// API holds the dependencies of the admin surface.
type API struct {
	Store metadata.Store
	// AdminKey is the operator value clients must present in X-Admin-Key.
	// Empty means the surface is unusable and every call fails with 500.
	AdminKey string
}

// AdminHeader is embedded in every input struct so huma extracts the
// X-Admin-Key header uniformly.
type AdminHeader struct {
	AdminKey string `header:"X-Admin-Key" doc:"Operator admin key"`
}

// checkAdmin gates every admin operation.
func (a *API) checkAdmin(key string) error {
	if a.AdminKey == "" {
		return huma.Error500InternalServerError("Admin API key is not configured")
	}
	if key != a.AdminKey {
		return huma.Error401Unauthorized("Invalid or missing admin key")
	}
	return nil
}

// mapError converts store and crypto errors into HTTP errors.
func mapError(err error) error {
	var perr *proxyerr.Error
	if errors.As(err, &perr) {
		return huma.NewError(perr.HTTPStatus, perr.Message)
	}
	return huma.Error500InternalServerError("Internal error", err)
}

// ---- Credentials ----

// CredentialBody is the projection returned for a tenant credential. The
// secret is never part of any response.
type CredentialBody struct {
	CustomerID string    `json:"customer_id"`
	AccessKey  string    `json:"access_key"`
	CreatedAt  time.Time `json:"created_at"`
}

type createCredentialInput struct {
	AdminHeader
	Body struct {
		CustomerID string `json:"customer_id" minLength:"1" doc:"Tenant identifier"`
		AccessKey  string `json:"access_key" minLength:"1" doc:"Globally unique access key"`
		SecretKey  string `json:"secret_key" minLength:"1" doc:"Secret key, stored obfuscated"`
	}
}

type credentialOutput struct {
	Body CredentialBody
}

type getCredentialInput struct {
	AdminHeader
	AccessKey string `path:"access_key"`
}

// ---- Buckets ----

// BucketMappingBody is the full mapping projection: one physical bucket per
// backend id.
type BucketMappingBody struct {
	CustomerID     string            `json:"customer_id"`
	RegionID       string            `json:"region_id"`
	LogicalName    string            `json:"logical_name"`
	BackendMapping map[string]string `json:"backend_mapping"`
}

type createBucketInput struct {
	AdminHeader
	Body struct {
		CustomerID  string   `json:"customer_id" minLength:"1"`
		RegionID    string   `json:"region_id" minLength:"1"`
		LogicalName string   `json:"logical_name" minLength:"1"`
		BackendIDs  []string `json:"backend_ids" minItems:"1" doc:"Backends to map this bucket onto"`
	}
}

type bucketOutput struct {
	Body BucketMappingBody
}

type getBucketInput struct {
	AdminHeader
	CustomerID  string `path:"customer_id"`
	LogicalName string `path:"logical_name"`
}

// ---- Objects ----

// ObjectBody is the stored object row.
type ObjectBody struct {
	ID           int64     `json:"id"`
	CustomerID   string    `json:"customer_id"`
	LogicalName  string    `json:"logical_name"`
	BackendID    string    `json:"backend_id"`
	ObjectKey    string    `json:"object_key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	EncryptedKey string    `json:"encrypted_key,omitempty"`
	Residency    string    `json:"residency,omitempty"`
	ReplicaCount int       `json:"replica_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type createObjectInput struct {
	AdminHeader
	Body struct {
		CustomerID   string   `json:"customer_id" minLength:"1"`
		LogicalName  string   `json:"logical_name" minLength:"1"`
		BackendID    string   `json:"backend_id" minLength:"1" doc:"Backend holding the object"`
		ObjectKey    string   `json:"object_key" minLength:"1"`
		Size         int64    `json:"size" minimum:"0"`
		ETag         string   `json:"etag"`
		EncryptedKey string   `json:"encrypted_key,omitempty"`
		Residency    string   `json:"residency,omitempty"`
		ReplicaCount int      `json:"replica_count,omitempty" minimum:"0"`
		Targets      []string `json:"targets,omitempty" doc:"Backends to enqueue replication jobs for"`
	}
}

type createObjectOutput struct {
	Body struct {
		ObjectBody
		JobsCreated []int64 `json:"jobs_created"`
	}
}

type listObjectsInput struct {
	AdminHeader
	CustomerID  string `path:"customer_id"`
	LogicalName string `path:"logical_name"`
}

type listObjectsOutput struct {
	Body struct {
		Objects []ObjectBody `json:"objects"`
	}
}

// ---- Jobs ----

// JobBody is the replication job row.
type JobBody struct {
	ID               int64     `json:"id"`
	BucketMappingID  int64     `json:"bucket_mapping_id"`
	ObjectMetadataID int64     `json:"object_metadata_id"`
	SourceBackendID  string    `json:"source_backend_id"`
	TargetBackend    string    `json:"target_backend"`
	ObjectKey        string    `json:"object_key"`
	Status           string    `json:"status"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type createJobInput struct {
	AdminHeader
	Body struct {
		ObjectID      int64  `json:"object_id" minimum:"1"`
		TargetBackend string `json:"target_backend" minLength:"1"`
	}
}

type jobOutput struct {
	Body JobBody
}

type listJobsInput struct {
	AdminHeader
	Status string `query:"status" enum:"pending,completed,failed" required:"false" doc:"Filter by job status"`
}

type listJobsOutput struct {
	Body struct {
		Jobs []JobBody `json:"jobs"`
	}
}

// ---- Providers ----

// ProviderBody is one row of the seeded provider capability catalogue.
type ProviderBody struct {
	ID           int64  `json:"id"`
	Country      string `json:"country"`
	RegionCity   string `json:"region_city"`
	ZoneCode     string `json:"zone_code"`
	Provider     string `json:"provider"`
	S3Compatible string `json:"s3_compatible,omitempty"`
	ObjectLock   string `json:"object_lock,omitempty"`
	Versioning   string `json:"versioning,omitempty"`
	ISO27001     string `json:"iso_27001_gdpr,omitempty"`
	VeeamReady   string `json:"veeam_ready,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type listProvidersInput struct {
	AdminHeader
	Country string `query:"country" required:"false" doc:"Filter by country"`
}

type listProvidersOutput struct {
	Body struct {
		Providers []ProviderBody `json:"providers"`
	}
}

// Register wires all admin operations onto the huma API under /proxy.
func Register(api huma.API, a *API) {
	huma.Register(api, huma.Operation{
		OperationID: "create-credential",
		Method:      http.MethodPost,
		Path:        "/proxy/credentials",
		Summary:     "Create or overwrite a tenant credential",
		Tags:        []string{"Admin"},
	}, a.createCredential)

	huma.Register(api, huma.Operation{
		OperationID: "get-credential",
		Method:      http.MethodGet,
		Path:        "/proxy/credentials/{access_key}",
		Summary:     "Fetch a tenant credential",
		Tags:        []string{"Admin"},
	}, a.getCredential)

	huma.Register(api, huma.Operation{
		OperationID: "create-bucket-mapping",
		Method:      http.MethodPost,
		Path:        "/proxy/buckets",
		Summary:     "Create or overwrite a logical bucket mapping",
		Tags:        []string{"Admin"},
	}, a.createBucket)

	huma.Register(api, huma.Operation{
		OperationID: "get-bucket-mapping",
		Method:      http.MethodGet,
		Path:        "/proxy/buckets/{customer_id}/{logical_name}",
		Summary:     "Fetch a logical bucket mapping",
		Tags:        []string{"Admin"},
	}, a.getBucket)

	huma.Register(api, huma.Operation{
		OperationID: "create-object",
		Method:      http.MethodPost,
		Path:        "/proxy/objects",
		Summary:     "Record object metadata and optionally enqueue replication",
		Tags:        []string{"Admin"},
	}, a.createObject)

	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/proxy/objects/{customer_id}/{logical_name}",
		Summary:     "List object records for a logical bucket",
		Tags:        []string{"Admin"},
	}, a.listObjects)

	huma.Register(api, huma.Operation{
		OperationID: "create-job",
		Method:      http.MethodPost,
		Path:        "/proxy/jobs",
		Summary:     "Create a replication job",
		Tags:        []string{"Admin"},
	}, a.createJob)

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/proxy/jobs",
		Summary:     "List replication jobs",
		Tags:        []string{"Admin"},
	}, a.listJobs)

	huma.Register(api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/proxy/providers",
		Summary:     "List the provider capability catalogue",
		Tags:        []string{"Admin"},
	}, a.listProviders)
}

func (a *API) createCredential(ctx context.Context, input *createCredentialInput) (*credentialOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	cred := &metadata.TenantCredential{
		CustomerID: input.Body.CustomerID,
		AccessKey:  input.Body.AccessKey,
		SecretKey:  input.Body.SecretKey,
	}
	if err := a.Store.UpsertTenantCredential(ctx, cred); err != nil {
		return nil, mapError(err)
	}

	return &credentialOutput{Body: CredentialBody{
		CustomerID: cred.CustomerID,
		AccessKey:  cred.AccessKey,
		CreatedAt:  cred.CreatedAt,
	}}, nil
}

func (a *API) getCredential(ctx context.Context, input *getCredentialInput) (*credentialOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	cred, err := a.Store.GetTenantByAccessKey(ctx, input.AccessKey)
	if err != nil {
		return nil, mapError(err)
	}
	if cred == nil {
		return nil, huma.Error404NotFound("Credential not found")
	}

	return &credentialOutput{Body: CredentialBody{
		CustomerID: cred.CustomerID,
		AccessKey:  cred.AccessKey,
		CreatedAt:  cred.CreatedAt,
	}}, nil
}

func (a *API) createBucket(ctx context.Context, input *createBucketInput) (*bucketOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	b := input.Body
	mapping := naming.MapBackends(b.CustomerID, b.RegionID, b.LogicalName, b.BackendIDs)
	for backendID, bucket := range mapping {
		m := &metadata.BucketMapping{
			CustomerID:    b.CustomerID,
			RegionID:      b.RegionID,
			LogicalName:   b.LogicalName,
			BackendID:     backendID,
			BackendBucket: bucket,
		}
		if err := a.Store.UpsertBucketMapping(ctx, m); err != nil {
			return nil, mapError(err)
		}
	}

	return &bucketOutput{Body: BucketMappingBody{
		CustomerID:     b.CustomerID,
		RegionID:       b.RegionID,
		LogicalName:    b.LogicalName,
		BackendMapping: mapping,
	}}, nil
}

func (a *API) getBucket(ctx context.Context, input *getBucketInput) (*bucketOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	rows, err := a.Store.ListBucketMappings(ctx, input.CustomerID, input.LogicalName)
	if err != nil {
		return nil, mapError(err)
	}
	if len(rows) == 0 {
		return nil, huma.Error404NotFound("Bucket mapping not found")
	}

	mapping := make(map[string]string, len(rows))
	regionID := ""
	for _, row := range rows {
		mapping[row.BackendID] = row.BackendBucket
		regionID = row.RegionID
	}

	return &bucketOutput{Body: BucketMappingBody{
		CustomerID:     input.CustomerID,
		RegionID:       regionID,
		LogicalName:    input.LogicalName,
		BackendMapping: mapping,
	}}, nil
}

func (a *API) createObject(ctx context.Context, input *createObjectInput) (*createObjectOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	b := input.Body
	mapping, err := a.Store.GetBucketMapping(ctx, b.CustomerID, b.LogicalName, b.BackendID)
	if err != nil {
		return nil, mapError(err)
	}
	if mapping == nil {
		return nil, huma.Error404NotFound("Bucket mapping not found")
	}

	obj := &metadata.ObjectRecord{
		BucketMappingID: mapping.ID,
		ObjectKey:       b.ObjectKey,
		Size:            b.Size,
		ETag:            b.ETag,
		EncryptedKey:    b.EncryptedKey,
		Residency:       b.Residency,
		ReplicaCount:    b.ReplicaCount,
	}
	if err := a.Store.InsertObject(ctx, obj); err != nil {
		return nil, mapError(err)
	}

	jobsCreated := []int64{}
	for _, target := range b.Targets {
		job, err := a.Store.InsertReplicationJob(ctx, obj.ID, target)
		if err != nil {
			return nil, mapError(err)
		}
		if job != nil {
			jobsCreated = append(jobsCreated, job.ID)
		}
	}

	out := &createObjectOutput{}
	out.Body.ObjectBody = ObjectBody{
		ID:           obj.ID,
		CustomerID:   mapping.CustomerID,
		LogicalName:  mapping.LogicalName,
		BackendID:    mapping.BackendID,
		ObjectKey:    obj.ObjectKey,
		Size:         obj.Size,
		ETag:         obj.ETag,
		EncryptedKey: obj.EncryptedKey,
		Residency:    obj.Residency,
		ReplicaCount: obj.ReplicaCount,
		CreatedAt:    obj.CreatedAt,
	}
	out.Body.JobsCreated = jobsCreated
	return out, nil
}

func (a *API) listObjects(ctx context.Context, input *listObjectsInput) (*listObjectsOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	objects, err := a.Store.ListObjects(ctx, input.CustomerID, input.LogicalName)
	if err != nil {
		return nil, mapError(err)
	}

	out := &listObjectsOutput{}
	out.Body.Objects = make([]ObjectBody, 0, len(objects))
	for _, obj := range objects {
		out.Body.Objects = append(out.Body.Objects, ObjectBody{
			ID:           obj.ID,
			CustomerID:   obj.CustomerID,
			LogicalName:  obj.LogicalName,
			BackendID:    obj.BackendID,
			ObjectKey:    obj.ObjectKey,
			Size:         obj.Size,
			ETag:         obj.ETag,
			EncryptedKey: obj.EncryptedKey,
			Residency:    obj.Residency,
			ReplicaCount: obj.ReplicaCount,
			CreatedAt:    obj.CreatedAt,
		})
	}
	return out, nil
}

func (a *API) createJob(ctx context.Context, input *createJobInput) (*jobOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	job, err := a.Store.InsertReplicationJob(ctx, input.Body.ObjectID, input.Body.TargetBackend)
	if err != nil {
		return nil, mapError(err)
	}
	if job == nil {
		return nil, huma.Error404NotFound("Object not found")
	}

	return &jobOutput{Body: jobBody(job)}, nil
}

func (a *API) listJobs(ctx context.Context, input *listJobsInput) (*listJobsOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	jobs, err := a.Store.ListReplicationJobs(ctx, input.Status)
	if err != nil {
		return nil, mapError(err)
	}

	out := &listJobsOutput{}
	out.Body.Jobs = make([]JobBody, 0, len(jobs))
	for i := range jobs {
		out.Body.Jobs = append(out.Body.Jobs, jobBody(&jobs[i]))
	}
	return out, nil
}

func (a *API) listProviders(ctx context.Context, input *listProvidersInput) (*listProvidersOutput, error) {
	if err := a.checkAdmin(input.AdminKey); err != nil {
		return nil, err
	}

	rows, err := a.Store.ListProviderCapabilities(ctx, input.Country)
	if err != nil {
		return nil, mapError(err)
	}

	out := &listProvidersOutput{}
	out.Body.Providers = make([]ProviderBody, 0, len(rows))
	for _, row := range rows {
		out.Body.Providers = append(out.Body.Providers, ProviderBody{
			ID:           row.ID,
			Country:      row.Country,
			RegionCity:   row.RegionCity,
			ZoneCode:     row.ZoneCode,
			Provider:     row.Provider,
			S3Compatible: row.S3Compatible,
			ObjectLock:   row.ObjectLock,
			Versioning:   row.Versioning,
			ISO27001:     row.ISO27001,
			VeeamReady:   row.VeeamReady,
			Notes:        row.Notes,
		})
	}
	return out, nil
}

func jobBody(job *metadata.ReplicationJob) JobBody {
	return JobBody{
		ID:               job.ID,
		BucketMappingID:  job.BucketMappingID,
		ObjectMetadataID: job.ObjectMetadataID,
		SourceBackendID:  job.SourceBackendID,
		TargetBackend:    job.TargetBackend,
		ObjectKey:        job.ObjectKey,
		Status:           job.Status,
		Attempts:         job.Attempts,
		LastError:        job.LastError,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}
