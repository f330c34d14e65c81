package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesHostLines(t *testing.T) {
	path := writeConfig(t, "max 3\nhost localhost:8080\nhost localhost:8081\nhost localhost:8082\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"localhost:8080", "localhost:8081", "localhost:8082"}
	if len(cfg.Addresses) != len(want) {
		t.Fatalf("got %v, want %v", cfg.Addresses, want)
	}
	for i := range want {
		if cfg.Addresses[i] != want[i] {
			t.Errorf("addr %d: got %q, want %q", i, cfg.Addresses[i], want[i])
		}
	}
}

func TestLoadRejectsCountMismatch(t *testing.T) {
	path := writeConfig(t, "max 2\nhost localhost:8080\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a host-line count mismatch")
	}
}

func TestLoadRejectsMissingMaxHeader(t *testing.T) {
	path := writeConfig(t, "host localhost:8080\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when the max header is missing")
	}
}
