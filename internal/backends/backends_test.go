package backends

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sovgate/sovgate/internal/config"
	"github.com/sovgate/sovgate/internal/proxyerr"
)

// stubS3 returns canned responses per operation.
type stubS3 struct {
	putErr  error
	getErr  error
	headErr error

	getBody []byte
}

func (s *stubS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"abc123"`)}, nil
}

func (s *stubS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(s.getBody)),
		ContentLength: aws.Int64(int64(len(s.getBody))),
		ContentType:   aws.String("text/plain"),
		ETag:          aws.String(`"abc123"`),
	}, nil
}

func (s *stubS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}

func (s *stubS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if s.headErr != nil {
		return nil, s.headErr
	}
	return &s3.HeadObjectOutput{ETag: aws.String(`"abc123"`)}, nil
}

func TestPutObjectTrimsETag(t *testing.T) {
	c := NewClientWithAPI("primary", &stubS3{})

	etag, err := c.PutObject(context.Background(), "bucket", "key", []byte("data"), "text/plain")
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if etag != "abc123" {
		t.Errorf("etag = %q, want abc123", etag)
	}
}

func TestGetObjectStream(t *testing.T) {
	c := NewClientWithAPI("primary", &stubS3{getBody: []byte("hello")})

	stream, err := c.GetObject(context.Background(), "bucket", "key")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer stream.Body.Close()

	if stream.Size != 5 || stream.ContentType != "text/plain" || stream.ETag != "abc123" {
		t.Errorf("stream = %+v", stream)
	}
	data, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("body = %q", data)
	}
}

func TestGetObjectNotFound(t *testing.T) {
	c := NewClientWithAPI("primary", &stubS3{getErr: &types.NoSuchKey{}})

	_, err := c.GetObject(context.Background(), "bucket", "absent")
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 404 {
		t.Errorf("GetObject absent key: got %v, want 404", err)
	}
}

func TestHeadObjectNotFound(t *testing.T) {
	headErr := &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	c := NewClientWithAPI("primary", &stubS3{headErr: headErr})

	_, err := c.HeadObject(context.Background(), "bucket", "absent")
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 404 {
		t.Errorf("HeadObject absent key: got %v, want 404", err)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey type", &types.NoSuchKey{}, true},
		{"NotFound code", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"NoSuchBucket code", &smithy.GenericAPIError{Code: "NoSuchBucket"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isNotFound(tt.err); got != tt.want {
			t.Errorf("%s: isNotFound = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTrimETag(t *testing.T) {
	quoted := `"abc123"`
	if got := trimETag(&quoted); got != "abc123" {
		t.Errorf("trimETag(%q) = %q", quoted, got)
	}
	bare := "abc123"
	if got := trimETag(&bare); got != "abc123" {
		t.Errorf("trimETag(%q) = %q", bare, got)
	}
	if got := trimETag(nil); got != "" {
		t.Errorf("trimETag(nil) = %q", got)
	}
}

func TestRegistryDefaultAndUnknown(t *testing.T) {
	r := NewRegistry(config.BackendsConfig{DefaultID: "primary"})
	r.Put(NewClientWithAPI("primary", &stubS3{}))

	c, err := r.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	if c.BackendID != "primary" {
		t.Errorf("default backend = %q, want primary", c.BackendID)
	}

	_, err = r.Get(context.Background(), "absent")
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 500 {
		t.Errorf("unknown backend: got %v, want misconfigured", err)
	}
}

func TestRegistryMissingCredentials(t *testing.T) {
	r := NewRegistry(config.BackendsConfig{
		Endpoints: map[string]string{"primary": "http://localhost:9000"},
		DefaultID: "primary",
	})

	_, err := r.Get(context.Background(), "primary")
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 500 {
		t.Errorf("missing credentials: got %v, want misconfigured", err)
	}
}
