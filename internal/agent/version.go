package agent

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/otable/otable/internal/config"
)

// VersionMaxLen caps the version characteristic value so it fits a single
// unfragmented read.
const VersionMaxLen = 20

// LiveVersion reads the version marker file from the live firmware tree,
// trimmed and truncated to VersionMaxLen. A missing or unreadable marker
// yields an empty value; the characteristic still exists, it just reads
// back nothing.
func LiveVersion(cfg *config.Config) []byte {
	data, err := os.ReadFile(filepath.Join(cfg.LiveDir, config.VersionFileName))
	if err != nil {
		return nil
	}
	data = bytes.TrimSpace(data)
	if len(data) > VersionMaxLen {
		data = data[:VersionMaxLen]
	}
	return data
}
