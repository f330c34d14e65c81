package fileinfo

import (
	"testing"
)

func TestApplyFirstVersionMustBeOne(t *testing.T) {
	s := New()

	if s.Apply(FileUpdate{Filename: "a.txt", Version: 2, BlockHashList: []string{"h1"}}) {
		t.Fatal("expected version 2 to be rejected for a never-seen file")
	}
	if !s.Apply(FileUpdate{Filename: "a.txt", Version: 1, BlockHashList: []string{"h1"}}) {
		t.Fatal("expected version 1 to be accepted for a never-seen file")
	}

	info, ok := s.Get("a.txt")
	if !ok || info.Version != 1 {
		t.Fatalf("got %+v, %v", info, ok)
	}
}

func TestApplyRejectsNonSequentialVersion(t *testing.T) {
	s := New()
	s.Apply(FileUpdate{Filename: "a.txt", Version: 1, BlockHashList: []string{"h1"}})

	if s.Apply(FileUpdate{Filename: "a.txt", Version: 3, BlockHashList: []string{"h2"}}) {
		t.Fatal("expected version 3 to be rejected after version 1")
	}
	if s.Apply(FileUpdate{Filename: "a.txt", Version: 1, BlockHashList: []string{"h2"}}) {
		t.Fatal("expected a replayed version 1 to be rejected")
	}

	info, _ := s.Get("a.txt")
	if info.Version != 1 || len(info.BlockHashList) != 1 || info.BlockHashList[0] != "h1" {
		t.Fatalf("store was mutated by a rejected update: %+v", info)
	}
}

func TestTombstoneIsEmptyBlockList(t *testing.T) {
	s := New()
	s.Apply(FileUpdate{Filename: "a.txt", Version: 1, BlockHashList: []string{"h1"}})

	if !s.Apply(FileUpdate{Filename: "a.txt", Version: 2, BlockHashList: nil}) {
		t.Fatal("expected delete (empty block list) to be accepted as version 2")
	}

	info, ok := s.Get("a.txt")
	if !ok {
		t.Fatal("tombstones remain present in the map, just with an empty block list")
	}
	if len(info.BlockHashList) != 0 {
		t.Fatalf("expected empty block list, got %v", info.BlockHashList)
	}
}

func TestGetAllReturnsACopy(t *testing.T) {
	s := New()
	s.Apply(FileUpdate{Filename: "a.txt", Version: 1, BlockHashList: []string{"h1"}})

	all := s.GetAll()
	all["a.txt"] = FileInfo{Version: 99}

	info, _ := s.Get("a.txt")
	if info.Version != 1 {
		t.Fatalf("GetAll leaked the live map: %+v", info)
	}
}
