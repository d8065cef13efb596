// Package backends maintains the pool of S3 clients the proxy uses to talk
// to its upstream object-storage backends.
//
// Each backend is identified by an operator-chosen id and an endpoint URL.
// A single operator-owned credential is used against every backend.
// Credentials never come from tenants; tenants authenticate to the proxy,
// the proxy authenticates to the backends.
package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sovgate/sovgate/internal/config"
	"github.com/sovgate/sovgate/internal/proxyerr"
)

// S3API defines the subset of the AWS S3 client interface that the proxy
// uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client wraps one backend's S3 client with the object operations the data
// plane and the replication worker need.
type Client struct {
	// BackendID is the operator-chosen id of this backend.
	BackendID string
	// Endpoint is the backend's base URL.
	Endpoint string

	api S3API
}

// ObjectStream is the result of a GetObject call. The caller owns Body and
// must close it.
type ObjectStream struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ETag        string
}

// NewClient builds a Client for the given backend using static operator
// credentials. Path-style addressing is forced because S3-compatible
// endpoints generally do not serve virtual-hosted buckets.
func NewClient(ctx context.Context, backendID, endpoint, region, accessKey, secretKey string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for backend %q: %w", backendID, err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	slog.Debug("backend client initialized", "backend", backendID, "endpoint", endpoint)
	return &Client{BackendID: backendID, Endpoint: endpoint, api: api}, nil
}

// NewClientWithAPI builds a Client around an existing S3API, used in tests.
func NewClientWithAPI(backendID string, api S3API) *Client {
	return &Client{BackendID: backendID, api: api}
}

// HeadObject returns the object's ETag, or ErrNotFound if the backend
// reports the key missing.
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (string, error) {
	resp, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", proxyerr.ErrNotFound.WithMessagef("object not found: %s/%s", bucket, key)
		}
		return "", fmt.Errorf("heading object on backend %q: %w", c.BackendID, err)
	}
	return trimETag(resp.ETag), nil
}

// GetObject fetches an object as a stream together with its size,
// content type, and ETag.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (*ObjectStream, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, proxyerr.ErrNotFound.WithMessagef("object not found: %s/%s", bucket, key)
		}
		return nil, fmt.Errorf("getting object from backend %q: %w", c.BackendID, err)
	}

	stream := &ObjectStream{
		Body: resp.Body,
		ETag: trimETag(resp.ETag),
	}
	if resp.ContentLength != nil {
		stream.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		stream.ContentType = *resp.ContentType
	}
	return stream, nil
}

// PutObject uploads body bytes under the given key and returns the
// backend-reported ETag. An empty contentType is omitted from the request.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	resp, err := c.api.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("putting object to backend %q: %w", c.BackendID, err)
	}
	return trimETag(resp.ETag), nil
}

// DeleteObject removes an object. Deleting an absent key succeeds when the
// backend treats it as such, which S3 does.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting object on backend %q: %w", c.BackendID, err)
	}
	return nil
}

// Registry hands out one memoized Client per backend id.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]string
	defaultID string
	region    string
	accessKey string
	secretKey string
	clients   map[string]*Client
}

// NewRegistry builds a Registry from configuration.
func NewRegistry(cfg config.BackendsConfig) *Registry {
	return &Registry{
		endpoints: cfg.Endpoints,
		defaultID: cfg.DefaultID,
		region:    cfg.Region,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		clients:   make(map[string]*Client),
	}
}

// DefaultID returns the backend used when a request omits the selector.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// IDs returns the configured backend ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the client for the given backend id, constructing it on first
// use. An empty id selects the default backend. Unknown ids and missing
// credentials yield a Misconfigured error.
func (r *Registry) Get(ctx context.Context, backendID string) (*Client, error) {
	if backendID == "" {
		backendID = r.defaultID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[backendID]; ok {
		return c, nil
	}

	endpoint, ok := r.endpoints[backendID]
	if !ok {
		return nil, proxyerr.ErrMisconfigured.WithMessagef(
			"no endpoint configured for backend %q", backendID)
	}
	if r.accessKey == "" || r.secretKey == "" {
		return nil, proxyerr.ErrMisconfigured.WithMessage(
			"backend credentials are not configured")
	}

	c, err := NewClient(ctx, backendID, endpoint, r.region, r.accessKey, r.secretKey)
	if err != nil {
		return nil, err
	}
	r.clients[backendID] = c
	return c, nil
}

// Put registers a pre-built client under its backend id, used in tests.
func (r *Registry) Put(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.BackendID] = c
	if r.endpoints == nil {
		r.endpoints = make(map[string]string)
	}
	if _, ok := r.endpoints[c.BackendID]; !ok {
		r.endpoints[c.BackendID] = c.Endpoint
	}
}

// isNotFound reports whether an SDK error means the object or bucket is
// absent.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// StatusCode extracts the backend's HTTP status from an SDK error so the
// data plane can pass it through. Zero means no status was surfaced.
func StatusCode(err error) int {
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

// trimETag strips the quotes S3 wraps around entity tags.
func trimETag(etag *string) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(*etag, `"`)
}
