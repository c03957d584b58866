package dataflows

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is a file-backed response cache keyed by source, method, and a
// hash of the call parameters. Entries expire by file mtime.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
}

func NewCache(dir string, ttl time.Duration, enabled bool) *Cache {
	return &Cache{dir: dir, ttl: ttl, enabled: enabled}
}

func (c *Cache) key(source, method string, params any) string {
	data, _ := json.Marshal(params)
	hash := md5.Sum(data)
	return fmt.Sprintf("%s_%s_%x.json", source, method, hash)
}

// Get loads a cached value into result. Returns false on miss, expiry,
// or any read problem.
func (c *Cache) Get(source, method string, params, result any) bool {
	if !c.enabled {
		return false
	}

	path := filepath.Join(c.dir, c.key(source, method, params))
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) > c.ttl {
		os.Remove(path)
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, result) == nil
}

// Set writes a value to the cache. Failures are returned but callers
// normally treat caching as best effort.
func (c *Cache) Set(source, method string, params, value any) error {
	if !c.enabled {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, c.key(source, method, params)), data, 0o644)
}
