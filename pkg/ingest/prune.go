package ingest

import (
	"encoding/json"
	"sort"
)

// maxPayloadBytes bounds the metadata handed to the vector store.
const maxPayloadBytes = 6000

// truncatedListLen is what large list fields shrink to under pressure.
const truncatedListLen = 3

// largeListKeys are truncated first when the payload is oversized.
var largeListKeys = []string{"pages", "tables", "images", "charts", "artifacts_sample"}

// essentialKeys are never dropped.
var essentialKeys = map[string]bool{
	"uri":       true,
	"path_hash": true,
	"chunk_id":  true,
	"source":    true,
	"mime":      true,
	"user_id":   true,
}

func payloadSize(m map[string]interface{}) int {
	raw, err := json.Marshal(m)
	if err != nil {
		return maxPayloadBytes + 1
	}
	return len(raw)
}

func valueSize(v interface{}) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(raw)
}

// prunePayload shrinks metadata to the payload budget: first large lists are
// truncated, then non-essential keys are dropped smallest-first until the
// payload fits. Essentials always survive. The input map is not modified.
func prunePayload(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}

	if payloadSize(out) <= maxPayloadBytes {
		return out
	}

	for _, key := range largeListKeys {
		if list, ok := out[key].([]interface{}); ok && len(list) > truncatedListLen {
			out[key] = list[:truncatedListLen]
		}
		if list, ok := out[key].([]map[string]interface{}); ok && len(list) > truncatedListLen {
			out[key] = list[:truncatedListLen]
		}
		if list, ok := out[key].([]int); ok && len(list) > truncatedListLen {
			out[key] = list[:truncatedListLen]
		}
	}

	if payloadSize(out) <= maxPayloadBytes {
		return out
	}

	type sized struct {
		key  string
		size int
	}
	var droppable []sized
	for k, v := range out {
		if essentialKeys[k] {
			continue
		}
		droppable = append(droppable, sized{k, valueSize(v)})
	}
	sort.Slice(droppable, func(i, j int) bool { return droppable[i].size < droppable[j].size })

	for _, d := range droppable {
		if payloadSize(out) <= maxPayloadBytes {
			break
		}
		delete(out, d.key)
	}
	return out
}
