package hash

import (
	"os"
	"path/filepath"
	"testing"
)

// TestHash tests digest determinism and content sensitivity
func TestHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.gguf")
	if err := os.WriteFile(path, []byte("layer weights"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	h := New()
	first, err := h.Hash(path)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if len(first) != 16 {
		t.Errorf("expected 16 hex characters, got %q", first)
	}

	second, err := h.Hash(path)
	if err != nil {
		t.Fatalf("second hash failed: %v", err)
	}
	if first != second {
		t.Error("hashing the same content must be deterministic")
	}

	if err := os.WriteFile(path, []byte("different weights"), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	changed, err := h.Hash(path)
	if err != nil {
		t.Fatalf("hash after change failed: %v", err)
	}
	if changed == first {
		t.Error("changed content must produce a different digest")
	}
}

// TestHash_MissingFile tests the open error path
func TestHash_MissingFile(t *testing.T) {
	if _, err := New().Hash("/no/such/file"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
