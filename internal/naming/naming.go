// Package naming maps logical bucket names to deterministic, backend-specific
// physical bucket names.
//
// The naming function is pure: identical inputs always produce the same
// S3-compliant bucket name, so mappings can be re-derived by routes,
// background workers, or CLI tooling without consulting the metadata store.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix is the fixed bucket-name prefix for all derived physical buckets.
	Prefix = "s3gw"

	// HashLength is the number of hex digits of the SHA-256 digest used in
	// the bucket name.
	HashLength = 16

	// maxBucketNameLen is the S3 bucket-name length limit.
	maxBucketNameLen = 63
)

// HashInput carries the identifiers that determine a physical bucket name.
type HashInput struct {
	CustomerID       string
	RegionID         string
	LogicalName      string
	BackendID        string
	CollisionCounter int
}

// BackendBucketName produces the deterministic, S3-compliant bucket name for
// the given inputs, e.g. "s3gw-deadbeefdeadbeef-frontier".
func BackendBucketName(in HashInput) string {
	hashInput := fmt.Sprintf("%s:%s:%s:%s:%d",
		in.CustomerID, in.RegionID, in.LogicalName, in.BackendID, in.CollisionCounter)
	sum := sha256.Sum256([]byte(hashInput))
	digest := hex.EncodeToString(sum[:])
	hashPart := digest[:HashLength]

	suffix := backendSuffix(in.BackendID)
	name := strings.ToLower(Prefix + "-" + hashPart + "-" + suffix)

	// Keep overall length <= 63 bytes per S3 requirements.
	if len(name) > maxBucketNameLen {
		name = Prefix + "-" + digest[:20] + "-" + suffix[:min(len(suffix), 8)]
	}
	return name
}

// backendSuffix normalizes a backend id into the bucket-name suffix:
// lowercase, underscores to hyphens, truncated to 8 bytes.
func backendSuffix(backendID string) string {
	s := strings.ReplaceAll(strings.ToLower(backendID), "_", "-")
	if len(s) > 8 {
		s = s[:8]
	}
	if s == "" {
		return "backend"
	}
	return s
}

// MapBackends derives one physical bucket name per backend id, all with
// collision counter zero.
func MapBackends(customerID, regionID, logicalName string, backendIDs []string) map[string]string {
	mapping := make(map[string]string, len(backendIDs))
	for _, backendID := range backendIDs {
		mapping[backendID] = BackendBucketName(HashInput{
			CustomerID:  customerID,
			RegionID:    regionID,
			LogicalName: logicalName,
			BackendID:   backendID,
		})
	}
	return mapping
}
