package sigv4

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/proxyerr"
)

const (
	testAccessKey = "AKIATEST12345"
	testSecretKey = "testsecret"
	testRegion    = "us-east-1"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	store := metadata.NewMemoryStore("test-passphrase")
	cred := &metadata.TenantCredential{
		CustomerID: "tenant-1",
		AccessKey:  testAccessKey,
		SecretKey:  testSecretKey,
	}
	if err := store.UpsertTenantCredential(context.Background(), cred); err != nil {
		t.Fatalf("seeding credential: %v", err)
	}
	return NewVerifier(store)
}

// signRequest signs an HTTP request with SigV4 header-based auth the way a
// client SDK would: host, x-amz-content-sha256 and x-amz-date are signed.
func signRequest(r *http.Request, accessKey, secretKey, region string, signTime time.Time) {
	amzDate := signTime.UTC().Format(amzDateFormat)
	dateStr := amzDate[:8]

	r.Header.Set("X-Amz-Date", amzDate)
	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		payloadHash := emptySHA256
		if r.Body != nil {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			sum := sha256.Sum256(bodyBytes)
			payloadHash = hex.EncodeToString(sum[:])
		}
		r.Header.Set("X-Amz-Content-Sha256", payloadHash)
	}

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonicalRequest := buildCanonicalRequest(r, signedHeaders)
	scope := fmt.Sprintf("%s/%s/%s/%s", dateStr, region, service, scopeTerminator)
	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)
	signingKey := deriveSigningKey(secretKey, dateStr, region)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	r.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, accessKey, scope, strings.Join(signedHeaders, ";"), signature))
}

func newSignedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	signRequest(r, testAccessKey, testSecretKey, testRegion, time.Now())
	return r
}

func TestVerifyRequestValid(t *testing.T) {
	v := newTestVerifier(t)
	r := newSignedRequest(t, "GET", "http://localhost:8000/s3/docs/report.txt", "")

	tenant, err := v.VerifyRequest(r)
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if tenant.CustomerID != "tenant-1" {
		t.Errorf("bound tenant = %q, want tenant-1", tenant.CustomerID)
	}
}

func TestVerifyRequestWithBody(t *testing.T) {
	v := newTestVerifier(t)
	r := newSignedRequest(t, "PUT", "http://localhost:8000/s3/docs/report.txt", "hello world")

	if _, err := v.VerifyRequest(r); err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}

	// The body must still be readable downstream.
	got, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("reading body after verification: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("body after verification = %q", got)
	}
}

func TestVerifyRequestQueryAndEncodedPath(t *testing.T) {
	v := newTestVerifier(t)
	r := newSignedRequest(t, "GET",
		"http://localhost:8000/s3/docs/folder%20name/file.txt?backend_id=cluster-b", "")

	if _, err := v.VerifyRequest(r); err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
}

func TestVerifyRequestMissingAuthorization(t *testing.T) {
	v := newTestVerifier(t)
	r, _ := http.NewRequest("GET", "http://localhost:8000/s3/docs/x", nil)

	_, err := v.VerifyRequest(r)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 401 {
		t.Errorf("missing Authorization: got %v, want 401", err)
	}
}

func TestVerifyRequestUnknownAccessKey(t *testing.T) {
	v := newTestVerifier(t)
	r, _ := http.NewRequest("GET", "http://localhost:8000/s3/docs/x", nil)
	signRequest(r, "AKIAUNKNOWN", testSecretKey, testRegion, time.Now())

	_, err := v.VerifyRequest(r)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 403 {
		t.Errorf("unknown access key: got %v, want 403", err)
	}
	if perr != nil && perr.Code != proxyerr.ErrUnknownPrincipal.Code {
		t.Errorf("code = %q, want %q", perr.Code, proxyerr.ErrUnknownPrincipal.Code)
	}
}

func TestVerifyRequestWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	r, _ := http.NewRequest("GET", "http://localhost:8000/s3/docs/x", nil)
	signRequest(r, testAccessKey, "wrong-secret", testRegion, time.Now())

	_, err := v.VerifyRequest(r)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Code != proxyerr.ErrSignatureMismatch.Code {
		t.Errorf("wrong secret: got %v, want signature mismatch", err)
	}
}

func TestVerifyRequestTamperedBody(t *testing.T) {
	v := newTestVerifier(t)
	r := newSignedRequest(t, "PUT", "http://localhost:8000/s3/docs/x", "original")
	r.Body = io.NopCloser(strings.NewReader("tampered!"))
	r.Header.Del("X-Amz-Content-Sha256")

	_, err := v.VerifyRequest(r)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Code != proxyerr.ErrSignatureMismatch.Code {
		t.Errorf("tampered body: got %v, want signature mismatch", err)
	}
}

func TestVerifyRequestStaleDate(t *testing.T) {
	v := newTestVerifier(t)
	r, _ := http.NewRequest("GET", "http://localhost:8000/s3/docs/x", nil)
	signRequest(r, testAccessKey, testSecretKey, testRegion, time.Now().Add(-30*time.Minute))

	_, err := v.VerifyRequest(r)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.HTTPStatus != 401 {
		t.Errorf("stale date: got %v, want 401", err)
	}
	if perr != nil && !strings.Contains(perr.Message, "15 minutes") {
		t.Errorf("message = %q, want clock skew message", perr.Message)
	}
}

func TestVerifyRequestCredentialDateMismatch(t *testing.T) {
	v := newTestVerifier(t)
	r, _ := http.NewRequest("GET", "http://localhost:8000/s3/docs/x", nil)
	signRequest(r, testAccessKey, testSecretKey, testRegion, time.Now())

	// Rewrite the credential date without re-signing.
	auth := r.Header.Get("Authorization")
	amzDate := r.Header.Get("X-Amz-Date")
	r.Header.Set("Authorization", strings.Replace(auth, amzDate[:8], "20200101", 1))

	_, err := v.VerifyRequest(r)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Code != proxyerr.ErrSignatureMismatch.Code {
		t.Errorf("credential date mismatch: got %v, want signature mismatch", err)
	}
}

func TestParseAuthorizationHeader(t *testing.T) {
	header := "AWS4-HMAC-SHA256 Credential=AKIATEST/20260825/us-east-1/s3/aws4_request, " +
		"SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=abc123"

	parsed, err := parseAuthorizationHeader(header)
	if err != nil {
		t.Fatalf("parseAuthorizationHeader: %v", err)
	}
	if parsed.AccessKey != "AKIATEST" || parsed.DateStr != "20260825" || parsed.Region != "us-east-1" {
		t.Errorf("parsed = %+v", parsed)
	}
	if len(parsed.SignedHeaders) != 3 || parsed.SignedHeaders[0] != "host" {
		t.Errorf("signed headers = %v", parsed.SignedHeaders)
	}
	if parsed.Signature != "abc123" {
		t.Errorf("signature = %q", parsed.Signature)
	}
}

func TestParseAuthorizationHeaderRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"wrong algorithm", "AWS4-HMAC-SHA512 Credential=a/b/c/s3/aws4_request, SignedHeaders=host, Signature=x"},
		{"missing credential", "AWS4-HMAC-SHA256 SignedHeaders=host, Signature=x"},
		{"missing signature", "AWS4-HMAC-SHA256 Credential=a/b/c/s3/aws4_request, SignedHeaders=host"},
		{"short credential", "AWS4-HMAC-SHA256 Credential=a/b/c, SignedHeaders=host, Signature=x"},
		{"wrong terminator", "AWS4-HMAC-SHA256 Credential=a/b/c/s3/aws4_other, SignedHeaders=host, Signature=x"},
		{"wrong service", "AWS4-HMAC-SHA256 Credential=a/b/c/sqs/aws4_request, SignedHeaders=host, Signature=x"},
	}
	for _, tt := range tests {
		if _, err := parseAuthorizationHeader(tt.header); err == nil {
			t.Errorf("%s: header accepted", tt.name)
		}
	}
}

func TestCanonicalQueryStringSorted(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://localhost/path?b=2&a=1&empty=", nil)

	got := canonicalQueryString(r.URL.Query())
	if got != "a=1&b=2&empty=" {
		t.Errorf("canonical query = %q", got)
	}
}

func TestURIEncode(t *testing.T) {
	tests := []struct {
		in          string
		encodeSlash bool
		want        string
	}{
		{"simple", false, "simple"},
		{"with space", false, "with%20space"},
		{"a/b", false, "a/b"},
		{"a/b", true, "a%2Fb"},
		{"tilde~dot.", false, "tilde~dot."},
	}
	for _, tt := range tests {
		if got := uriEncode(tt.in, tt.encodeSlash); got != tt.want {
			t.Errorf("uriEncode(%q, %v) = %q, want %q", tt.in, tt.encodeSlash, got, tt.want)
		}
	}
}
