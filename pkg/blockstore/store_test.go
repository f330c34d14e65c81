package blockstore

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	hash, err := s.PutBlock([]byte("hello"))
	if err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if hash != Hash([]byte("hello")) {
		t.Fatalf("hash mismatch: %s", hash)
	}

	data, ok := s.GetBlock(hash)
	if !ok || string(data) != "hello" {
		t.Fatalf("GetBlock returned %q, %v", data, ok)
	}
}

func TestPutBlockRejectsEmpty(t *testing.T) {
	s := New()
	if _, err := s.PutBlock(nil); err != ErrEmptyBlock {
		t.Fatalf("expected ErrEmptyBlock, got %v", err)
	}
}

func TestHasBlocksPreservesOrderAndFiltersMissing(t *testing.T) {
	s := New()
	h1, _ := s.PutBlock([]byte("a"))
	h3, _ := s.PutBlock([]byte("c"))

	got := s.HasBlocks([]string{h1, "missing", h3})
	if len(got) != 2 || got[0] != h1 || got[1] != h3 {
		t.Fatalf("unexpected result: %v", got)
	}
}
