package naming

import (
	"strings"
	"testing"
)

func TestBackendBucketNameDeterministic(t *testing.T) {
	in := HashInput{
		CustomerID:  "cust-123",
		RegionID:    "eu-central",
		LogicalName: "analytics",
		BackendID:   "frontier",
	}

	first := BackendBucketName(in)
	second := BackendBucketName(in)
	if first != second {
		t.Errorf("same inputs produced %q and %q", first, second)
	}
	if !strings.HasPrefix(first, "s3gw-") {
		t.Errorf("name %q does not start with s3gw-", first)
	}
	if !strings.HasSuffix(first, "-frontier") {
		t.Errorf("name %q does not end with backend suffix", first)
	}
}

func TestBackendBucketNameCollisionCounter(t *testing.T) {
	base := HashInput{
		CustomerID:  "cust-123",
		RegionID:    "eu-central",
		LogicalName: "analytics",
		BackendID:   "frontier",
	}
	bumped := base
	bumped.CollisionCounter = 1

	if BackendBucketName(base) == BackendBucketName(bumped) {
		t.Error("collision counter change did not change the bucket name")
	}
}

func TestBackendBucketNameS3Grammar(t *testing.T) {
	inputs := []HashInput{
		{CustomerID: "tenant-1", RegionID: "fi", LogicalName: "docs", BackendID: "primary"},
		{CustomerID: "cust", RegionID: "eu", LogicalName: "data", BackendID: "My_Cloud_Backend"},
		{CustomerID: "c", RegionID: "r", LogicalName: "l", BackendID: ""},
		{CustomerID: "x", RegionID: "y", LogicalName: "z", BackendID: "UPPERCASE"},
	}

	for _, in := range inputs {
		name := BackendBucketName(in)
		if len(name) < 3 || len(name) > 63 {
			t.Errorf("name %q has invalid length %d", name, len(name))
		}
		if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
			t.Errorf("name %q starts or ends with a hyphen", name)
		}
		for _, c := range name {
			valid := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-'
			if !valid {
				t.Errorf("name %q contains invalid character %q", name, c)
			}
		}
	}
}

func TestBackendSuffix(t *testing.T) {
	tests := []struct {
		backendID string
		want      string
	}{
		{"frontier", "frontier"},
		{"My_Backend", "my-backe"},
		{"UPPER", "upper"},
		{"", "backend"},
		{"abcdefghij", "abcdefgh"},
	}
	for _, tt := range tests {
		if got := backendSuffix(tt.backendID); got != tt.want {
			t.Errorf("backendSuffix(%q) = %q, want %q", tt.backendID, got, tt.want)
		}
	}
}

func TestMapBackends(t *testing.T) {
	mapping := MapBackends("tenant-1", "fi", "docs", []string{"primary", "cluster-b"})

	if len(mapping) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(mapping))
	}
	want := BackendBucketName(HashInput{
		CustomerID:  "tenant-1",
		RegionID:    "fi",
		LogicalName: "docs",
		BackendID:   "primary",
	})
	if mapping["primary"] != want {
		t.Errorf("mapping[primary] = %q, want %q", mapping["primary"], want)
	}
	if mapping["primary"] == mapping["cluster-b"] {
		t.Error("different backends produced the same bucket name")
	}
}
