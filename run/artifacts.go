package run

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Truncation marker keys. The schema is stable so downstream consumers can
// detect a truncated entry: {"_truncated":true,"_originalSize":N,"_type":"..."}.
const (
	markerTruncated    = "_truncated"
	markerOriginalSize = "_originalSize"
	markerType         = "_type"
)

// ArtifactCaps bounds the serialized artifact document.
type ArtifactCaps struct {
	// MaxItemBytes is the per-entry cap. Entries whose serialized form
	// exceeds it are replaced with a truncation marker.
	MaxItemBytes int

	// MaxDocBytes is the hard cap on the whole artifact document.
	MaxDocBytes int
}

// DefaultArtifactCaps returns the standard caps: 100 KiB per entry,
// 1 MiB per document.
func DefaultArtifactCaps() ArtifactCaps {
	return ArtifactCaps{
		MaxItemBytes: 100 * 1024,
		MaxDocBytes:  1024 * 1024,
	}
}

// truncationMarker builds the placeholder document for an oversized entry.
// Key presence is preserved for resume logic; only the value is degraded.
func truncationMarker(originalSize int, value any) json.RawMessage {
	m := map[string]any{
		markerTruncated:    true,
		markerOriginalSize: originalSize,
		markerType:         fmt.Sprintf("%T", value),
	}
	data, _ := json.Marshal(m)
	return data
}

// Truncated reports whether a serialized artifact entry is a truncation
// marker, and its original size when it is.
func Truncated(entry json.RawMessage) (originalSize int, ok bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(entry, &m); err != nil {
		return 0, false
	}
	flag, present := m[markerTruncated]
	if !present {
		return 0, false
	}
	var truncated bool
	if err := json.Unmarshal(flag, &truncated); err != nil || !truncated {
		return 0, false
	}
	var size int
	if raw, present := m[markerOriginalSize]; present {
		_ = json.Unmarshal(raw, &size)
	}
	return size, true
}

// serializeArtifacts converts artifacts to a size-capped document. If the
// whole document fits under MaxDocBytes, every entry is kept verbatim.
// Otherwise entries over MaxItemBytes are degraded to truncation markers;
// if the document still exceeds the hard cap, the largest remaining
// entries are degraded too, so the result never exceeds MaxDocBytes.
// Entries that fail to serialize surface an error rather than vanishing.
func serializeArtifacts(artifacts map[string]any, caps ArtifactCaps) (map[string]json.RawMessage, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}

	doc := make(map[string]json.RawMessage, len(artifacts))
	total := 0
	for key, value := range artifacts {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("serialize artifact %q: %w", key, err)
		}
		doc[key] = data
		total += len(data)
	}

	if total <= caps.MaxDocBytes {
		return doc, nil
	}

	for key, data := range doc {
		if len(data) > caps.MaxItemBytes {
			total -= len(data)
			doc[key] = truncationMarker(len(data), artifacts[key])
			total += len(doc[key])
		}
	}
	if total <= caps.MaxDocBytes {
		return doc, nil
	}

	// Still over the hard cap: degrade the largest entries next, in
	// deterministic order.
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(doc[keys[i]]) != len(doc[keys[j]]) {
			return len(doc[keys[i]]) > len(doc[keys[j]])
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		if total <= caps.MaxDocBytes {
			break
		}
		if _, alreadyMarker := Truncated(doc[key]); alreadyMarker {
			continue
		}
		total -= len(doc[key])
		doc[key] = truncationMarker(len(doc[key]), artifacts[key])
		total += len(doc[key])
	}

	return doc, nil
}
