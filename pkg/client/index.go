// Package client implements the SurfStore CLI sync client: scanning a
// local base directory, comparing it against a local index and the
// replicated server state, and reconciling the three.
package client

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileState is the (version, blockHashList) pair tracked for one file,
// whether it comes from the local index, a base-directory scan, or the
// server's FileInfoMap. An empty BlockHashList means deleted.
type FileState struct {
	Version       uint64
	BlockHashList []string
}

// ReadIndex reads baseDir/index.txt, creating an empty one if absent. Each
// line is "name version hash1 hash2 ..."; the literal token "0" in the
// hash-list position denotes no blocks (a deleted file).
func ReadIndex(baseDir string) (map[string]FileState, error) {
	path := filepath.Join(baseDir, "index.txt")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		f.Close()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	index := make(map[string]FileState)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed index line: %q", line)
		}
		name := fields[0]
		version, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed version in index line: %q", line)
		}

		var hashes []string
		rest := fields[2:]
		if !(len(rest) == 1 && rest[0] == "0") {
			hashes = rest
		}
		index[name] = FileState{Version: version, BlockHashList: hashes}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return index, nil
}

// WriteIndex overwrites baseDir/index.txt with the given file states,
// sorted by filename for a stable, human-readable diff.
func WriteIndex(baseDir string, states map[string]FileState) error {
	path := filepath.Join(baseDir, "index.txt")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	defer f.Close()

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	w := bufio.NewWriter(f)
	for _, name := range names {
		state := states[name]
		hashes := "0"
		if len(state.BlockHashList) > 0 {
			hashes = strings.Join(state.BlockHashList, " ")
		}
		if _, err := fmt.Fprintf(w, "%s %d %s\n", name, state.Version, hashes); err != nil {
			return err
		}
	}
	return w.Flush()
}
