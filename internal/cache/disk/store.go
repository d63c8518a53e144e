// Package disk persists cached day plans on disk so they survive restarts.
// An index file tracks TTL and access order for eviction.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Root       string
	MaxEntries int
	TTL        time.Duration
}

type indexEntry struct {
	File       string    `json:"file"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

type index struct {
	Entries map[string]indexEntry `json:"entries"`
}

// Store keeps one file per cache key under Root/data plus a JSON index.
type Store struct {
	mu sync.Mutex

	dataDir   string
	indexPath string

	maxEntries int
	ttl        time.Duration
	entries    map[string]indexEntry
}

func New(cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}

	s := &Store{
		dataDir:    filepath.Join(root, "data"),
		indexPath:  filepath.Join(root, "index.json"),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		entries:    map[string]indexEntry{},
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	s.cleanupLocked(time.Now())
	if err := s.persistIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("key is required")
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if now.After(ent.ExpiresAt) {
		s.removeEntryLocked(key, ent)
		_ = s.persistIndexLocked()
		return nil, false, nil
	}
	raw, err := os.ReadFile(filepath.Join(s.dataDir, ent.File))
	if err != nil {
		if os.IsNotExist(err) {
			s.removeEntryLocked(key, ent)
			_ = s.persistIndexLocked()
			return nil, false, nil
		}
		return nil, false, err
	}
	ent.AccessedAt = now
	s.entries[key] = ent
	if err := s.persistIndexLocked(); err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key is required")
	}

	now := time.Now()
	file := hashedName(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(filepath.Join(s.dataDir, file), value, 0o644); err != nil {
		return err
	}
	s.entries[key] = indexEntry{
		File:       file,
		ExpiresAt:  now.Add(s.ttl),
		AccessedAt: now,
	}
	s.cleanupLocked(now)
	return s.persistIndexLocked()
}

func (s *Store) Delete(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.entries[key]; ok {
		s.removeEntryLocked(key, ent)
		return s.persistIndexLocked()
	}
	return nil
}

func (s *Store) loadIndex() error {
	raw, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var idx index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return err
	}
	if idx.Entries != nil {
		s.entries = idx.Entries
	}
	return nil
}

func (s *Store) cleanupLocked(now time.Time) {
	for key, ent := range s.entries {
		if now.After(ent.ExpiresAt) {
			s.removeEntryLocked(key, ent)
		}
	}
	for len(s.entries) > s.maxEntries {
		key, ent, ok := s.leastRecentlyUsedLocked()
		if !ok {
			break
		}
		s.removeEntryLocked(key, ent)
	}
}

func (s *Store) leastRecentlyUsedLocked() (string, indexEntry, bool) {
	if len(s.entries) == 0 {
		return "", indexEntry{}, false
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li := s.entries[keys[i]].AccessedAt
		lj := s.entries[keys[j]].AccessedAt
		if li.Equal(lj) {
			return keys[i] < keys[j]
		}
		return li.Before(lj)
	})
	k := keys[0]
	return k, s.entries[k], true
}

func (s *Store) removeEntryLocked(key string, ent indexEntry) {
	delete(s.entries, key)
	_ = os.Remove(filepath.Join(s.dataDir, ent.File))
}

func (s *Store) persistIndexLocked() error {
	raw, err := json.MarshalIndent(index{Entries: s.entries}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath)
}

func hashedName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}
