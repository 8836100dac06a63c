package run

import (
	"encoding/json"
	"strings"
	"testing"
)

func testCaps() ArtifactCaps {
	return ArtifactCaps{MaxItemBytes: 64, MaxDocBytes: 256}
}

func TestSerializeArtifacts_SmallDocumentKeptVerbatim(t *testing.T) {
	t.Parallel()

	artifacts := map[string]any{
		"branch": "main",
		"files":  []string{"a.go", "b.go"},
	}
	doc, err := serializeArtifacts(artifacts, testCaps())
	if err != nil {
		t.Fatalf("serializeArtifacts: %v", err)
	}

	var branch string
	if err := json.Unmarshal(doc["branch"], &branch); err != nil || branch != "main" {
		t.Fatalf("branch entry corrupted: %s", doc["branch"])
	}
	if _, ok := Truncated(doc["files"]); ok {
		t.Fatal("small entry should not be truncated")
	}
}

func TestSerializeArtifacts_OversizedEntryBecomesMarker(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 500)
	serialized, _ := json.Marshal(big)

	artifacts := map[string]any{
		"diff":   big,
		"branch": "main",
	}
	doc, err := serializeArtifacts(artifacts, testCaps())
	if err != nil {
		t.Fatalf("serializeArtifacts: %v", err)
	}

	// Key presence is preserved.
	entry, ok := doc["diff"]
	if !ok {
		t.Fatal("oversized key dropped instead of marked")
	}

	size, truncated := Truncated(entry)
	if !truncated {
		t.Fatalf("expected truncation marker, got %s", entry)
	}
	if size != len(serialized) {
		t.Errorf("_originalSize = %d, want %d", size, len(serialized))
	}

	// The small sibling survives intact.
	if _, ok := Truncated(doc["branch"]); ok {
		t.Error("small sibling should not be truncated")
	}
}

func TestSerializeArtifacts_DocumentNeverExceedsHardCap(t *testing.T) {
	t.Parallel()

	caps := ArtifactCaps{MaxItemBytes: 1024, MaxDocBytes: 512}

	// Every entry is under the item cap, but together they blow the doc
	// cap; the largest must be degraded until the document fits.
	artifacts := map[string]any{
		"a": strings.Repeat("a", 300),
		"b": strings.Repeat("b", 300),
		"c": strings.Repeat("c", 300),
		"d": "tiny",
	}
	doc, err := serializeArtifacts(artifacts, caps)
	if err != nil {
		t.Fatalf("serializeArtifacts: %v", err)
	}

	total := 0
	for _, entry := range doc {
		total += len(entry)
	}
	if total > caps.MaxDocBytes {
		t.Fatalf("document is %d bytes, cap is %d", total, caps.MaxDocBytes)
	}
	if len(doc) != len(artifacts) {
		t.Fatalf("entries dropped: got %d keys, want %d", len(doc), len(artifacts))
	}
	if _, ok := Truncated(doc["d"]); ok {
		t.Error("smallest entry degraded before larger ones")
	}
}

func TestSerializeArtifacts_Deterministic(t *testing.T) {
	t.Parallel()

	caps := ArtifactCaps{MaxItemBytes: 1024, MaxDocBytes: 400}
	artifacts := map[string]any{
		"a": strings.Repeat("a", 300),
		"b": strings.Repeat("b", 300),
	}

	first, err := serializeArtifacts(artifacts, caps)
	if err != nil {
		t.Fatalf("serializeArtifacts: %v", err)
	}
	for range 10 {
		again, err := serializeArtifacts(artifacts, caps)
		if err != nil {
			t.Fatalf("serializeArtifacts: %v", err)
		}
		for key := range first {
			_, firstTruncated := Truncated(first[key])
			_, againTruncated := Truncated(again[key])
			if firstTruncated != againTruncated {
				t.Fatalf("truncation of %q not deterministic", key)
			}
		}
	}
}

func TestSerializeArtifacts_Unserializable(t *testing.T) {
	t.Parallel()

	artifacts := map[string]any{
		"bad": make(chan int),
	}
	if _, err := serializeArtifacts(artifacts, testCaps()); err == nil {
		t.Fatal("expected error for unserializable artifact")
	}
}

func TestSerializeArtifacts_Empty(t *testing.T) {
	t.Parallel()

	doc, err := serializeArtifacts(nil, testCaps())
	if err != nil {
		t.Fatalf("serializeArtifacts: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %v", doc)
	}
}

func TestTruncated_NonMarkerValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{"plain string", `"hello"`},
		{"object without flag", `{"key":"value"}`},
		{"flag set false", `{"_truncated":false}`},
		{"array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, ok := Truncated(json.RawMessage(tt.entry)); ok {
				t.Errorf("Truncated(%s) = true, want false", tt.entry)
			}
		})
	}
}
