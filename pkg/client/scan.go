package client

import (
	"os"
	"path/filepath"

	"github.com/surfstore/surfstore/pkg/blockstore"
)

// ScanResult is one base-directory file's block split: the ordered list of
// block byte slices and their hashes (hashes double as FileState.BlockHashList).
type ScanResult struct {
	Blocks [][]byte
	Hashes []string
}

// ScanBase walks baseDir non-recursively, splitting every non-empty
// regular file other than index.txt into blockSize-byte blocks and
// hashing each one.
func ScanBase(baseDir string, blockSize int) (map[string]ScanResult, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}

	results := make(map[string]ScanResult)
	for _, entry := range entries {
		name := entry.Name()
		if name == "index.txt" || entry.IsDir() {
			continue
		}

		path := filepath.Join(baseDir, name)
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		if info.Size() == 0 {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var blocks [][]byte
		var hashes []string
		for offset := 0; offset < len(data); offset += blockSize {
			end := offset + blockSize
			if end > len(data) {
				end = len(data)
			}
			block := data[offset:end]
			blocks = append(blocks, block)
			hashes = append(hashes, blockstore.Hash(block))
		}

		results[name] = ScanResult{Blocks: blocks, Hashes: hashes}
	}
	return results, nil
}
