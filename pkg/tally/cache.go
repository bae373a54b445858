package tally

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const cacheFilePerms = 0o600

// cacheEntry is one cached API response. The timestamp records when the
// entry was written; it is informational only and never used for expiry.
// Deleting the cache file is the only eviction path.
type cacheEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// responseCache is a flat-file key/value store of fetched API pages. The
// whole map is flushed to disk in one save; partial flushes are not
// supported. All access goes through the mutex: entries for different PRs
// are read and written from concurrent workers.
type responseCache struct {
	logger  *slog.Logger
	entries map[string]cacheEntry
	path    string
	mu      sync.Mutex
	enabled bool
}

// newResponseCache loads the cache file if it exists. Load failures are
// logged and treated as an empty cache rather than surfaced.
func newResponseCache(path string, enabled bool, logger *slog.Logger) *responseCache {
	c := &responseCache{
		logger:  logger,
		entries: make(map[string]cacheEntry),
		path:    path,
		enabled: enabled,
	}
	if !enabled {
		return c
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read cache file", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("failed to decode cache file, starting fresh", "path", path, "error", err)
		c.entries = make(map[string]cacheEntry)
		return c
	}
	logger.Info("loaded response cache", "path", path, "entries", len(c.entries))
	return c
}

// cacheKey builds a deterministic key for an API call. Pagination-only
// parameters are stripped and the rest canonically ordered, so calls
// differing only in page number or map iteration order collide to the same
// entry.
func cacheKey(scope, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "page" || k == "per_page" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(scope)
	b.WriteByte(':')
	b.WriteString(endpoint)
	b.WriteByte(':')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte('&')
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// get returns the cached payload for key, if present.
func (c *responseCache) get(key string) (json.RawMessage, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// put stores a payload under key, overwriting any previous entry.
func (c *responseCache) put(key string, data json.RawMessage) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{Timestamp: time.Now(), Data: data}
}

// save serializes the whole map to the cache file via a temp file rename.
func (c *responseCache) save() error {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	count := len(c.entries)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, cacheFilePerms); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			c.logger.Debug("failed to remove temp cache file", "path", tmpPath, "error", removeErr)
		}
		return fmt.Errorf("renaming cache file: %w", err)
	}

	c.logger.Info("saved response cache", "path", c.path, "entries", count)
	return nil
}
