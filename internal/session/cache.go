package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// DefaultCacheMaxAge is how long cached session material is trusted before
// a fresh bootstrap is forced.
const DefaultCacheMaxAge = 30 * time.Minute

// LoadCache reads a previously saved session for the given provider.
// A missing, unreadable, stale or mismatched cache returns (nil, nil):
// cache problems only force a fresh bootstrap, they never fail a run.
func LoadCache(path, provider string, maxAge time.Duration) (*models.SessionContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	var sess models.SessionContext
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, nil
	}
	if sess.Provider != provider {
		return nil, nil
	}
	if maxAge > 0 && time.Since(sess.IssuedAt) > maxAge {
		return nil, nil
	}
	return &sess, nil
}

// SaveCache persists the session for later reuse. Written via a temp file
// and rename so a concurrent run never reads a half-written cache.
func SaveCache(path string, sess *models.SessionContext) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating session cache dir: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session cache: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session cache: %w", err)
	}
	return os.Rename(tmp, path)
}
