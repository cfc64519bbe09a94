package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// computeDedupKey uses the event id of a JSON payload, or a short content
// hash when there is none.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
