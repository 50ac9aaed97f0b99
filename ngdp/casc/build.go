package casc

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"

	"github.com/lukegb/casc/ngdp"
	"github.com/lukegb/casc/ngdp/configtable"
	"github.com/lukegb/casc/ngdp/keyvalue"
)

// BuildInfoRow is one row of the field-tagged CSV `.build.info` (or
// `versions`) file: the CDN-config-relative hashes of the two config
// files everything else in the open pipeline is resolved from.
type BuildInfoRow struct {
	BuildKey EKey   `configtable:"Build Key"`
	CDNKey   EKey   `configtable:"CDN Key"`
	Tags     string `configtable:"Tags"`
	Branch   string `configtable:"Branch"`
	Active   int    `configtable:"Active"`
}

// ParseBuildInfo decodes the typed-column CSV `.build.info` uses.
func ParseBuildInfo(r io.Reader) ([]BuildInfoRow, error) {
	d := configtable.NewDecoder(r)
	var rows []BuildInfoRow
	for {
		var row BuildInfoRow
		if err := d.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, errf(CodeBadFormat, "build.info: %v", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseVersions decodes the `versions` CSV, the multi-region sibling
// of `.build.info`; ngdp.VersionInfo already carries the same
// configtable tags this format's columns use.
func ParseVersions(r io.Reader) ([]ngdp.VersionInfo, error) {
	d := configtable.NewDecoder(r)
	var rows []ngdp.VersionInfo
	for {
		var row ngdp.VersionInfo
		if err := d.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, errf(CodeBadFormat, "versions: %v", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseBuildDB decodes the legacy `.build.db` format: bare
// tab-separated key/value lines rather than configtable's typed
// header row. Only the two hash columns this loader needs and Tags
// are recognized; anything else is ignored.
func ParseBuildDB(r io.Reader) (BuildInfoRow, error) {
	var row BuildInfoRow
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		bits := strings.SplitN(line, "\t", 2)
		if len(bits) != 2 {
			continue
		}
		key, value := strings.TrimSpace(bits[0]), strings.TrimSpace(bits[1])
		switch key {
		case "Build Key", "BuildKey":
			if err := decodeHex(value, row.BuildKey[:]); err != nil {
				return BuildInfoRow{}, errf(CodeBadFormat, "build.db: Build Key: %v", err)
			}
		case "CDN Key", "CDNKey":
			if err := decodeHex(value, row.CDNKey[:]); err != nil {
				return BuildInfoRow{}, errf(CodeBadFormat, "build.db: CDN Key: %v", err)
			}
		case "Tags":
			row.Tags = value
		}
	}
	if err := s.Err(); err != nil {
		return BuildInfoRow{}, errf(CodeBadFormat, "build.db: %v", err)
	}
	return row, nil
}

func decodeHex(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return errf(CodeBadFormat, "expected %d hex bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

// SelectBuildInfoRow picks the active row: the one whose Branch
// matches region, or the row marked Active, or the first row if
// neither is present (the common single-row .build.info case).
func SelectBuildInfoRow(rows []BuildInfoRow, region string) (BuildInfoRow, error) {
	if len(rows) == 0 {
		return BuildInfoRow{}, errf(CodeFileNotFound, "build.info: no rows")
	}
	if region != "" {
		for _, row := range rows {
			if row.Branch == region {
				return row, nil
			}
		}
	}
	for _, row := range rows {
		if row.Active != 0 {
			return row, nil
		}
	}
	return rows[0], nil
}

// SelectVersionRow picks the versions row for region, defaulting to
// the first row if region doesn't match any (or wasn't given).
func SelectVersionRow(rows []ngdp.VersionInfo, region string) (ngdp.VersionInfo, error) {
	if len(rows) == 0 {
		return ngdp.VersionInfo{}, errf(CodeFileNotFound, "versions: no rows")
	}
	if region != "" {
		for _, row := range rows {
			if string(row.Region) == region {
				return row, nil
			}
		}
	}
	return rows[0], nil
}

// LoadBuildConfig decodes the keyvalue-format build config file a
// BuildInfoRow's BuildKey names: the CKeys/EKeys for ROOT, VFS-ROOT,
// ENCODING, DOWNLOAD, INSTALL, PATCH and SIZE this pipeline resolves
// against.
func LoadBuildConfig(r io.Reader) (ngdp.BuildConfig, error) {
	var bc ngdp.BuildConfig
	if err := keyvalue.Decode(r, &bc); err != nil {
		return ngdp.BuildConfig{}, errf(CodeBadFormat, "build config: %v", err)
	}
	return bc, nil
}

// LoadCDNConfig decodes the keyvalue-format CDN config file naming
// the archive set (and its archive-group index) this storage draws
// index shards and file frames from.
//
// A missing CDN config is soft-failed by the caller when the storage
// is local-only; this function itself always treats a read/parse
// failure as an error, leaving the local/online distinction to the
// storage façade.
func LoadCDNConfig(r io.Reader) (ngdp.CDNConfig, error) {
	var cc ngdp.CDNConfig
	if err := keyvalue.Decode(r, &cc); err != nil {
		return ngdp.CDNConfig{}, errf(CodeBadFormat, "cdn config: %v", err)
	}
	return cc, nil
}
