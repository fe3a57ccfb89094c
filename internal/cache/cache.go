// Package cache implements the L8 Cache Manager: a content-addressed,
// one-file-per-program store keyed by the hex SHA-256 of raw source bytes
// (spec.md §4.6). Grounded on internal/db/db.go's durability discipline —
// PRAGMA-gated opens, retry-on-lock, WAL housekeeping — translated from
// SQLite's durability primitives to plain-file ones: fsync+rename instead
// of WAL, a lock file instead of SQLite's own locking.
package cache

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oxhq/coqu/internal/codec"
	"github.com/oxhq/coqu/internal/errs"
	"github.com/oxhq/coqu/internal/types"
)

// Manager is the Cache Manager (spec.md §4.6).
type Manager struct {
	Dir string
}

// New creates a Manager rooted at dir, creating the directory and removing
// any leftover `.tmp` files from a prior crash (spec.md §4.6: "a partial
// .tmp on startup is removed").
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindCache, "creating cache directory", err)
	}
	m := &Manager{Dir: dir}
	if err := m.cleanStaleTemp(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) path(hash string) string     { return filepath.Join(m.Dir, hash+".ast") }
func (m *Manager) tmpPath(hash string) string  { return filepath.Join(m.Dir, hash+".ast.tmp") }
func (m *Manager) lockPath() string            { return filepath.Join(m.Dir, "lock") }

func (m *Manager) cleanStaleTemp() error {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return errs.Wrap(errs.KindCache, "reading cache directory", err)
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".tmp" {
			_ = os.Remove(filepath.Join(m.Dir, e.Name()))
		}
	}
	return nil
}

// Get returns a populated entry when hash matches a cache file whose magic
// and codec version are recognized; otherwise it reports a miss, never an
// error — callers fall back to rebuilding (spec.md §4.6 `get`). Readers do
// not take the lock file: an in-progress writer's atomic rename means a
// concurrent Get either sees the old complete file or the new complete
// file, never a partial one (spec.md §4.6 concurrency note).
func (m *Manager) Get(hash string) (*types.CacheEntry, bool) {
	f, err := os.Open(m.path(hash))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	entry, err := codec.Decode(f)
	if err != nil {
		return nil, false
	}
	if entry.Meta.SourceHash != hash {
		return nil, false
	}
	return entry, true
}

// Put atomically writes an entry: encode to `<hash>.ast.tmp`, fsync,
// rename over `<hash>.ast`. Writers serialize via the cache lock file.
func (m *Manager) Put(hash string, entry *types.CacheEntry) error {
	unlock, err := m.lock()
	if err != nil {
		return err
	}
	defer unlock()

	tmp := m.tmpPath(hash)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindCache, "opening temp cache file", err)
	}

	if err := codec.Encode(f, entry); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindCache, "encoding cache entry", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindCache, "fsyncing cache entry", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindCache, "closing cache entry", err)
	}
	if err := os.Rename(tmp, m.path(hash)); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindCache, "renaming cache entry into place", err)
	}
	return nil
}

// Delete unlinks a cache entry. Deleting a missing entry is not an error.
func (m *Manager) Delete(hash string) error {
	if err := os.Remove(m.path(hash)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindCache, "deleting cache entry", err)
	}
	return nil
}

// Stats reports file count and total bytes in the cache.
type Stats struct {
	Files int
	Bytes int64
}

func (m *Manager) Stats() (Stats, error) {
	entries, err := m.listEntries()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		st.Files++
		st.Bytes += e.size
	}
	return st, nil
}

type cacheFile struct {
	hash    string
	path    string
	size    int64
	modTime time.Time
}

func (m *Manager) listEntries() ([]cacheFile, error) {
	dirEntries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindCache, "reading cache directory", err)
	}
	var out []cacheFile
	for _, e := range dirEntries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ast" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, cacheFile{
			hash: e.Name()[:len(e.Name())-len(".ast")],
			path: filepath.Join(m.Dir, e.Name()),
			size: info.Size(), modTime: info.ModTime(),
		})
	}
	return out, nil
}

// EnforceQuota evicts least-recently-used entries by mtime until the cache
// is under maxBytes, breaking ties by evicting the larger file first
// (spec.md §4.6 `enforce_quota`). maxBytes == 0 means unlimited: no-op.
func (m *Manager) EnforceQuota(maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	entries, err := m.listEntries()
	if err != nil {
		return err
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= maxBytes {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].size > entries[j].size // ties: larger-first
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.KindCache, "evicting cache entry", err)
		}
		total -= e.size
	}
	return nil
}

// lock acquires the cache directory's exclusive writer lock, retrying
// briefly on contention the way internal/db/db.go retries "database is
// locked" errors, and returns a function to release it.
func (m *Manager) lock() (func(), error) {
	path := m.lockPath()
	var f *os.File
	var err error
	for range 10 {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, errs.Wrap(errs.KindCache, "acquiring cache lock", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		return nil, errs.New(errs.KindCache, "cache lock held after retries")
	}
	return func() {
		f.Close()
		os.Remove(path)
	}, nil
}
