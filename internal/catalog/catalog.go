// Package catalog reads the operator-supplied provider capability CSV used
// to seed the provider_capabilities table at bootstrap.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sovgate/sovgate/internal/metadata"
)

// Column headers recognised in the catalogue file. Matching is
// case-insensitive and ignores surrounding whitespace.
const (
	colCountry      = "country"
	colRegionCity   = "region/city"
	colZoneCode     = "zone_code"
	colProvider     = "provider"
	colS3Compatible = "s3_compatible"
	colObjectLock   = "object_lock"
	colVersioning   = "versioning"
	colISO27001     = "iso_27001_gdpr"
	colVeeamReady   = "veeam_ready"
	colNotes        = "notes"
)

// ReadFile parses the catalogue CSV at path. A missing file returns
// (nil, nil) so deployments without a catalogue start cleanly.
func ReadFile(path string) ([]metadata.ProviderCapability, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening provider catalogue: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses catalogue rows from r. The first record is the header; rows
// without a Provider or Zone_Code value are skipped.
func Read(r io.Reader) ([]metadata.ProviderCapability, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalogue header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []metadata.ProviderCapability
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading catalogue row: %w", err)
		}

		row := metadata.ProviderCapability{
			Country:      field(record, colCountry),
			RegionCity:   field(record, colRegionCity),
			ZoneCode:     field(record, colZoneCode),
			Provider:     field(record, colProvider),
			S3Compatible: field(record, colS3Compatible),
			ObjectLock:   field(record, colObjectLock),
			Versioning:   field(record, colVersioning),
			ISO27001:     field(record, colISO27001),
			VeeamReady:   field(record, colVeeamReady),
			Notes:        field(record, colNotes),
		}
		if row.Provider == "" || row.ZoneCode == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
