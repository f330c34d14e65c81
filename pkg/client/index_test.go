package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadIndexCreatesEmptyFileWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	index, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected an empty index, got %v", index)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.txt")); err != nil {
		t.Fatalf("expected index.txt to be created: %v", err)
	}
}

func TestWriteIndexThenReadIndexRoundTrips(t *testing.T) {
	dir := t.TempDir()
	states := map[string]FileState{
		"a.txt": {Version: 2, BlockHashList: []string{"h1", "h2"}},
		"b.txt": {Version: 1},
	}

	if err := WriteIndex(dir, states); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}

	got, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}

	a, ok := got["a.txt"]
	if !ok || a.Version != 2 || len(a.BlockHashList) != 2 {
		t.Errorf("a.txt: got %+v", a)
	}
	b, ok := got["b.txt"]
	if !ok || b.Version != 1 || len(b.BlockHashList) != 0 {
		t.Errorf("b.txt: got %+v, want version 1 with no blocks", b)
	}
}

func TestReadIndexTreatsLiteralZeroAsDeleted(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.txt"), []byte("gone.txt 3 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	index, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	state, ok := index["gone.txt"]
	if !ok || state.Version != 3 || len(state.BlockHashList) != 0 {
		t.Errorf("got %+v, want version 3 with no blocks", state)
	}
}
