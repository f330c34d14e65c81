package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanBaseSplitsIntoBlocks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abcdefgh"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := ScanBase(dir, 3)
	if err != nil {
		t.Fatalf("ScanBase: %v", err)
	}

	got, ok := results["a.txt"]
	if !ok {
		t.Fatal("expected a.txt in scan results")
	}
	if len(got.Blocks) != 3 {
		t.Fatalf("expected 3 blocks for an 8-byte file with block size 3, got %d", len(got.Blocks))
	}
	if string(got.Blocks[0]) != "abc" || string(got.Blocks[1]) != "def" || string(got.Blocks[2]) != "gh" {
		t.Errorf("unexpected block contents: %q", got.Blocks)
	}
	if len(got.Hashes) != 3 {
		t.Fatalf("expected 3 hashes, got %d", len(got.Hashes))
	}
}

func TestScanBaseSkipsIndexAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	results, err := ScanBase(dir, 4)
	if err != nil {
		t.Fatalf("ScanBase: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no scanned files, got %v", results)
	}
}
