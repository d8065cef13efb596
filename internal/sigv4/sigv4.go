// Package sigv4 implements AWS Signature Version 4 request verification
// against tenant credentials held in the metadata store.
package sigv4

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/proxyerr"
)

const (
	// algorithm is the signing algorithm identifier.
	algorithm = "AWS4-HMAC-SHA256"

	// scopeTerminator is the fixed suffix of the credential scope.
	scopeTerminator = "aws4_request"

	// service is the only service name accepted in the credential scope.
	service = "s3"

	// emptySHA256 is the SHA-256 hash of an empty string.
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// clockSkewTolerance is the maximum allowed difference between
	// x-amz-date and the server clock.
	clockSkewTolerance = 15 * time.Minute

	// amzDateFormat is the format for x-amz-date values.
	amzDateFormat = "20060102T150405Z"

	// signingKeyTTL bounds how long a derived signing key is reused.
	signingKeyTTL = 24 * time.Hour

	// maxCachedKeys bounds the signing-key cache size.
	maxCachedKeys = 1000
)

// Verifier verifies SigV4-signed requests. Tenant secrets are looked up in
// the metadata store per request; derived signing keys are cached because
// the HMAC chain is the expensive part and keys are stable per day.
type Verifier struct {
	store metadata.Store

	mu   sync.RWMutex
	keys map[string]signingKeyEntry
}

type signingKeyEntry struct {
	key       []byte
	expiresAt time.Time
}

// NewVerifier creates a Verifier backed by the given metadata store.
func NewVerifier(store metadata.Store) *Verifier {
	return &Verifier{
		store: store,
		keys:  make(map[string]signingKeyEntry),
	}
}

// parsedAuth holds the components of an Authorization header.
type parsedAuth struct {
	AccessKey     string
	DateStr       string // YYYYMMDD
	Region        string
	Service       string
	SignedHeaders []string
	Signature     string
}

// parseAuthorizationHeader parses the SigV4 Authorization header. Format:
// AWS4-HMAC-SHA256 Credential=AK/date/region/service/aws4_request, SignedHeaders=host;..., Signature=hex
func parseAuthorizationHeader(header string) (*parsedAuth, error) {
	if !strings.HasPrefix(header, algorithm+" ") {
		return nil, fmt.Errorf("unsupported algorithm")
	}
	rest := strings.TrimPrefix(header, algorithm+" ")

	parts := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		parts[strings.TrimSpace(part[:idx])] = strings.TrimSpace(part[idx+1:])
	}

	credential := parts["Credential"]
	if credential == "" {
		return nil, fmt.Errorf("missing Credential")
	}
	signedHeaders := parts["SignedHeaders"]
	if signedHeaders == "" {
		return nil, fmt.Errorf("missing SignedHeaders")
	}
	signature := parts["Signature"]
	if signature == "" {
		return nil, fmt.Errorf("missing Signature")
	}

	credParts := strings.SplitN(credential, "/", 5)
	if len(credParts) != 5 {
		return nil, fmt.Errorf("invalid credential format")
	}
	if credParts[4] != scopeTerminator {
		return nil, fmt.Errorf("invalid credential scope terminator: %s", credParts[4])
	}
	if credParts[3] != service {
		return nil, fmt.Errorf("unexpected service in credential scope: %s", credParts[3])
	}

	return &parsedAuth{
		AccessKey:     credParts[0],
		DateStr:       credParts[1],
		Region:        credParts[2],
		Service:       credParts[3],
		SignedHeaders: strings.Split(signedHeaders, ";"),
		Signature:     signature,
	}, nil
}

// VerifyRequest validates the SigV4 signature on the given request and
// returns the bound tenant identity. Verification is total: either the
// whole request verifies against a known tenant or a taxonomy error is
// returned.
func (v *Verifier) VerifyRequest(r *http.Request) (*metadata.TenantCredential, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, proxyerr.ErrUnauthenticated.WithMessage("Missing Authorization header")
	}

	parsed, err := parseAuthorizationHeader(authHeader)
	if err != nil {
		return nil, proxyerr.ErrUnauthenticated.WithMessagef("Invalid Authorization header: %v", err)
	}

	tenant, err := v.store.GetTenantByAccessKey(r.Context(), parsed.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("looking up access key: %w", err)
	}
	if tenant == nil {
		return nil, proxyerr.ErrUnknownPrincipal
	}

	amzDate := r.Header.Get("X-Amz-Date")
	if amzDate == "" {
		amzDate = r.Header.Get("Date")
	}
	if amzDate == "" {
		return nil, proxyerr.ErrUnauthenticated.WithMessage("Missing X-Amz-Date or Date header")
	}

	requestTime, parseErr := time.Parse(amzDateFormat, amzDate)
	if parseErr != nil {
		requestTime, parseErr = time.Parse(time.RFC1123, amzDate)
		if parseErr != nil {
			return nil, proxyerr.ErrUnauthenticated.WithMessage("Invalid date format")
		}
	}

	// Freshness check on the signed timestamp.
	diff := time.Now().UTC().Sub(requestTime)
	if diff < 0 {
		diff = -diff
	}
	if diff > clockSkewTolerance {
		return nil, proxyerr.ErrUnauthenticated.WithMessage(
			"Request time differs from server time by more than 15 minutes")
	}

	if len(amzDate) < 8 || parsed.DateStr != amzDate[:8] {
		return nil, proxyerr.ErrSignatureMismatch.WithMessage(
			"Credential date does not match X-Amz-Date")
	}

	// Clients that do not send x-amz-content-sha256 sign the SHA-256 of the
	// body. Compute it here and restore the body for downstream handlers.
	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		if r.Body != nil {
			bodyBytes, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				return nil, fmt.Errorf("reading request body: %w", readErr)
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			bodyHash := sha256.Sum256(bodyBytes)
			r.Header.Set("X-Amz-Content-Sha256", hex.EncodeToString(bodyHash[:]))
		} else {
			r.Header.Set("X-Amz-Content-Sha256", emptySHA256)
		}
	}

	canonicalRequest := buildCanonicalRequest(r, parsed.SignedHeaders)
	scope := fmt.Sprintf("%s/%s/%s/%s", parsed.DateStr, parsed.Region, parsed.Service, scopeTerminator)
	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)

	signingKey := v.cachedSigningKey(tenant.SecretKey, parsed.DateStr, parsed.Region)
	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(parsed.Signature)) != 1 {
		return nil, proxyerr.ErrSignatureMismatch
	}
	return tenant, nil
}

// cachedSigningKey returns a cached signing key or derives and caches one.
func (v *Verifier) cachedSigningKey(secretKey, dateStr, region string) []byte {
	cacheKey := secretKey + "\x00" + dateStr + "\x00" + region
	now := time.Now()

	v.mu.RLock()
	if entry, ok := v.keys[cacheKey]; ok && now.Before(entry.expiresAt) {
		v.mu.RUnlock()
		return entry.key
	}
	v.mu.RUnlock()

	key := deriveSigningKey(secretKey, dateStr, region)

	v.mu.Lock()
	if len(v.keys) >= maxCachedKeys {
		v.keys = make(map[string]signingKeyEntry)
	}
	v.keys[cacheKey] = signingKeyEntry{key: key, expiresAt: now.Add(signingKeyTTL)}
	v.mu.Unlock()

	return key
}

// buildCanonicalRequest builds the canonical request string. The canonical
// headers use exactly the signed header names in the order the client gave
// them.
func buildCanonicalRequest(r *http.Request, signedHeaders []string) string {
	var sb strings.Builder

	sb.WriteString(r.Method)
	sb.WriteByte('\n')
	sb.WriteString(canonicalURI(r.URL.Path))
	sb.WriteByte('\n')
	sb.WriteString(canonicalQueryString(r.URL.Query()))
	sb.WriteByte('\n')
	sb.WriteString(canonicalHeaders(r, signedHeaders))
	sb.WriteByte('\n')
	sb.WriteString(strings.Join(signedHeaders, ";"))
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("X-Amz-Content-Sha256"))

	return sb.String()
}

// buildStringToSign builds the SigV4 string to sign.
func buildStringToSign(amzDate, scope, canonicalRequest string) string {
	hash := sha256.Sum256([]byte(canonicalRequest))
	return algorithm + "\n" +
		amzDate + "\n" +
		scope + "\n" +
		hex.EncodeToString(hash[:])
}

// deriveSigningKey derives the SigV4 signing key using the HMAC chain.
func deriveSigningKey(secretKey, dateStr, region string) []byte {
	dateKey := hmacSHA256([]byte("AWS4"+secretKey), dateStr)
	regionKey := hmacSHA256(dateKey, region)
	serviceKey := hmacSHA256(regionKey, service)
	return hmacSHA256(serviceKey, scopeTerminator)
}

// canonicalURI returns the URI-encoded absolute path. Forward slashes are
// not encoded; an empty path becomes "/".
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg, false)
	}
	return strings.Join(segments, "/")
}

// canonicalQueryString returns the sorted, URI-encoded query string.
// Parameters with no value use an empty value: "acl=".
func canonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	var pairs []string
	for key, vals := range values {
		encodedKey := uriEncode(key, true)
		if len(vals) == 0 {
			pairs = append(pairs, encodedKey+"=")
		}
		for _, val := range vals {
			pairs = append(pairs, encodedKey+"="+uriEncode(val, true))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// canonicalHeaders builds the canonical headers string: lowercased names,
// trimmed and space-collapsed values, in the signed-header order.
func canonicalHeaders(r *http.Request, signedHeaders []string) string {
	var sb strings.Builder
	for _, name := range signedHeaders {
		name = strings.ToLower(name)
		var values []string
		if name == "host" {
			// The Host header lives in r.Host, not r.Header.
			host := r.Host
			if host == "" {
				host = r.Header.Get("Host")
			}
			values = []string{host}
		} else {
			values = r.Header.Values(http.CanonicalHeaderKey(name))
		}
		joined := strings.TrimSpace(strings.Join(values, ","))
		for strings.Contains(joined, "  ") {
			joined = strings.ReplaceAll(joined, "  ", " ")
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(joined)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// uriEncode encodes a string per S3 URI encoding rules: unreserved
// characters pass through, everything else is percent-encoded with
// uppercase hex. Slashes are kept when encodeSlash is false.
func uriEncode(s string, encodeSlash bool) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || (!encodeSlash && c == '/') {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('%')
			sb.WriteByte(hexDigit(c >> 4))
			sb.WriteByte(hexDigit(c & 0x0f))
		}
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'A' + b - 10
}

// hmacSHA256 computes HMAC-SHA256 of data using the given key.
func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
