package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dumpSchemaVersion tags the on-disk format so a future incompatible
// change can be detected and discarded rather than partially loaded.
const dumpSchemaVersion = "fogcache/v1"

// dumpEntry is the explicit, self-describing persistence schema from
// spec.md section 6 / the REDESIGN FLAGS note on pickle-style
// persistence: {key, size, created_at, last_accessed, access_count,
// ttl_seconds, metadata, payload_bytes}.
type dumpEntry struct {
	Key          string         `json:"key"`
	SizeBytes    int            `json:"size_bytes"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	AccessCount  int            `json:"access_count"`
	TTLSeconds   float64        `json:"ttl_seconds"`
	Metadata     map[string]any `json:"metadata"`
	PayloadBytes []byte         `json:"payload_bytes"`
}

type dumpCounters struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	TotalRequests int64 `json:"total_requests"`
}

type cacheDump struct {
	Version   string      `json:"version"`
	StampID   string      `json:"stamp_id"`
	Entries   []dumpEntry `json:"entries"`
	LRUOrder  []string    `json:"lru_order"` // MRU-first
	Counters  dumpCounters `json:"counters"`
}

func (c *Cache) saveToDisk() error {
	c.mu.Lock()
	dump := cacheDump{
		Version: dumpSchemaVersion,
		StampID: uuid.NewString(),
		Counters: dumpCounters{
			Hits:          c.hits,
			Misses:        c.misses,
			Evictions:     c.evictions,
			TotalRequests: c.totalReqs,
		},
	}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*Entry)
		dump.LRUOrder = append(dump.LRUOrder, entry.Key)
		dump.Entries = append(dump.Entries, dumpEntry{
			Key:          entry.Key,
			SizeBytes:    entry.SizeBytes,
			CreatedAt:    entry.CreatedAt,
			LastAccessed: entry.LastAccessed,
			AccessCount:  entry.AccessCount,
			TTLSeconds:   entry.TTL.Seconds(),
			Metadata:     entry.Metadata,
			PayloadBytes: entry.Data,
		})
	}
	c.mu.Unlock()

	raw, err := json.Marshal(dump)
	if err != nil {
		return fmt.Errorf("marshal cache dump: %w", err)
	}
	if err := os.WriteFile(c.persistencePath, raw, 0o644); err != nil {
		return fmt.Errorf("write cache dump: %w", err)
	}
	c.log.Info("cache persisted", zap.Int("entries", len(dump.Entries)))
	return nil
}

// loadFromDisk reads a dump. A file that does not decode or carries a
// different schema version is discarded whole, leaving the cache to
// start empty; within a valid file, individual entries with no key or no
// payload are dropped and the rest are loaded.
func (c *Cache) loadFromDisk() error {
	raw, err := os.ReadFile(c.persistencePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache dump: %w", err)
	}

	var dump cacheDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return fmt.Errorf("decode cache dump: %w", err)
	}
	if dump.Version != dumpSchemaVersion {
		return fmt.Errorf("cache dump schema mismatch: got %q want %q", dump.Version, dumpSchemaVersion)
	}

	byKey := make(map[string]dumpEntry, len(dump.Entries))
	for _, e := range dump.Entries {
		if e.Key == "" || e.PayloadBytes == nil {
			continue // structurally invalid entry, discarded
		}
		byKey[e.Key] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, len(byKey))
	c.lru = list.New()
	c.currentSize = 0
	c.hits = dump.Counters.Hits
	c.misses = dump.Counters.Misses
	c.evictions = dump.Counters.Evictions
	c.totalReqs = dump.Counters.TotalRequests

	// LRUOrder is MRU-first; iterate in order and push to back so the
	// reconstructed list (front = MRU) preserves relative recency. Keys in LRUOrder
	// that reference a discarded invalid entry are skipped; any entry
	// missing from LRUOrder is appended at the back.
	seen := make(map[string]bool, len(byKey))
	for _, key := range dump.LRUOrder {
		e, ok := byKey[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		c.insertLoadedEntryLocked(e)
	}
	for key, e := range byKey {
		if seen[key] {
			continue
		}
		c.insertLoadedEntryLocked(e)
	}

	return nil
}

func (c *Cache) insertLoadedEntryLocked(e dumpEntry) {
	entry := &Entry{
		Key:          e.Key,
		Data:         e.PayloadBytes,
		SizeBytes:    e.SizeBytes,
		CreatedAt:    e.CreatedAt,
		LastAccessed: e.LastAccessed,
		AccessCount:  e.AccessCount,
		TTL:          time.Duration(e.TTLSeconds * float64(time.Second)),
		Metadata:     e.Metadata,
	}
	el := c.lru.PushBack(entry)
	c.entries[e.Key] = el
	c.currentSize += int64(entry.SizeBytes)
}
