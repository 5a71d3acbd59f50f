package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// modelKey builds the reserved "model:{model_id}:{version}" namespace key.
func modelKey(modelID, version string) string {
	return fmt.Sprintf("model:%s:%s", modelID, version)
}

// aggregationKey builds the reserved "aggregation:{round_id}" namespace key.
func aggregationKey(roundID string) string {
	return fmt.Sprintf("aggregation:%s", roundID)
}

// CacheModel stores a model's weights under its versioned key, merging a
// model_id/version/type envelope into the caller-supplied metadata (the
// Python original does the same merge in cache_model).
func (c *Cache) CacheModel(modelID string, weights any, version string, metadata map[string]any) error {
	meta := map[string]any{
		"model_id": modelID,
		"version":  version,
		"type":     "model_weights",
	}
	for k, v := range metadata {
		meta[k] = v
	}
	return c.Put(modelKey(modelID, version), weights, 0, meta)
}

// GetModel retrieves a specific model version, re-applying TTL via Get.
func (c *Cache) GetModel(modelID, version string) ([]byte, bool) {
	return c.Get(modelKey(modelID, version))
}

// GetLatestModel scans entries with prefix "model:{model_id}:", picking
// the entry with the greatest CreatedAt (ties broken by version string,
// lexicographic descending), then re-fetches it through GetModel so TTL
// is re-applied at the moment of read.
func (c *Cache) GetLatestModel(modelID string) ([]byte, string, bool) {
	c.mu.Lock()
	prefix := fmt.Sprintf("model:%s:", modelID)
	keys := c.keysWithPrefixLocked(prefix)

	var bestVersion string
	var bestCreated time.Time
	found := false
	for _, k := range keys {
		el := c.entries[k]
		entry := el.Value.(*Entry)
		version, _ := entry.Metadata["version"].(string)
		if entry.Metadata["type"] != "model_weights" {
			continue
		}
		if !found || entry.CreatedAt.After(bestCreated) ||
			(entry.CreatedAt.Equal(bestCreated) && version > bestVersion) {
			found = true
			bestCreated = entry.CreatedAt
			bestVersion = version
		}
	}
	c.mu.Unlock()

	if !found {
		return nil, "", false
	}
	data, ok := c.GetModel(modelID, bestVersion)
	return data, bestVersion, ok
}

// CacheAggregationResult stores an aggregation round's weights under the
// reserved "aggregation:{round_id}" key.
func (c *Cache) CacheAggregationResult(roundID string, weights any, metadata map[string]any) error {
	meta := map[string]any{
		"round_id": roundID,
		"type":     "aggregation_result",
	}
	for k, v := range metadata {
		meta[k] = v
	}
	return c.Put(aggregationKey(roundID), weights, 0, meta)
}

// Unmarshal is a convenience for callers that want the typed value back
// out of a Get/GetModel payload rather than the raw JSON bytes.
func Unmarshal(payload []byte, out any) error {
	return json.Unmarshal(payload, out)
}
