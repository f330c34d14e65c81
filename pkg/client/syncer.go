package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/rpc"
)

// Syncer reconciles a local base directory against one SurfStore replica:
// download anything the server has moved ahead on, then upload anything
// changed locally, then leave everything else alone.
type Syncer struct {
	BaseDir   string
	BlockSize int
	Dialer    rpc.Dialer
	Target    string
}

// NewSyncer builds a Syncer dialing target through dialer.
func NewSyncer(baseDir string, blockSize int, dialer rpc.Dialer, target string) *Syncer {
	return &Syncer{BaseDir: baseDir, BlockSize: blockSize, Dialer: dialer, Target: target}
}

// Run performs one full sync pass and rewrites index.txt to reflect the
// resulting state.
func (s *Syncer) Run(ctx context.Context) error {
	requestID := uuid.New().String()

	index, err := ReadIndex(s.BaseDir)
	if err != nil {
		return fmt.Errorf("sync %s: read index: %w", requestID, err)
	}
	scanned, err := ScanBase(s.BaseDir, s.BlockSize)
	if err != nil {
		return fmt.Errorf("sync %s: scan base dir: %w", requestID, err)
	}

	client, err := s.dial()
	if err != nil {
		return fmt.Errorf("sync %s: %w", requestID, err)
	}

	remote, err := client.GetFileInfoMap(ctx)
	if err != nil {
		return fmt.Errorf("sync %s: get file info map: %w", requestID, err)
	}

	names := make(map[string]bool)
	for name := range index {
		names[name] = true
	}
	for name := range scanned {
		names[name] = true
	}
	for name := range remote {
		names[name] = true
	}

	next := make(map[string]FileState, len(names))
	for name := range names {
		state, err := s.syncOne(ctx, client, name, index[name], scanned[name], remote[name])
		if err != nil {
			return fmt.Errorf("sync %s: %s: %w", requestID, name, err)
		}
		if state.Version > 0 || len(state.BlockHashList) > 0 {
			next[name] = state
		} else if _, known := remote[name]; known {
			next[name] = state
		} else if _, known := index[name]; known {
			next[name] = state
		}
	}

	return WriteIndex(s.BaseDir, next)
}

func (s *Syncer) dial() (rpc.ReplicaClient, error) {
	client, err := s.Dialer.Dial(s.Target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.Target, err)
	}
	return client, nil
}

// syncOne reconciles a single filename and returns the FileState that
// should be recorded in index.txt afterward.
func (s *Syncer) syncOne(ctx context.Context, client rpc.ReplicaClient, name string, indexState FileState, scanned ScanResult, remoteInfo consensus.FileInfo) (FileState, error) {
	if remoteInfo.Version > indexState.Version {
		return s.download(ctx, client, name, remoteInfo)
	}

	locallyDeleted := scanned.Hashes == nil && len(indexState.BlockHashList) > 0
	locallyModified := !equalHashLists(scanned.Hashes, indexState.BlockHashList)

	if locallyDeleted || locallyModified {
		state, err := s.upload(ctx, client, name, indexState, scanned)
		if err == errVersionConflict {
			updated, err := client.GetFileInfoMap(ctx)
			if err != nil {
				return FileState{}, err
			}
			return s.download(ctx, client, name, updated[name])
		}
		return state, err
	}

	return indexState, nil
}

// download fetches remoteInfo's blocks and writes (or removes) the local
// file, returning the FileState to record in the index.
func (s *Syncer) download(ctx context.Context, client rpc.ReplicaClient, name string, remoteInfo consensus.FileInfo) (FileState, error) {
	path := filepath.Join(s.BaseDir, name)

	if len(remoteInfo.BlockHashList) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return FileState{}, fmt.Errorf("remove %s: %w", name, err)
		}
		return FileState{Version: remoteInfo.Version}, nil
	}

	data := make([]byte, 0)
	for _, hash := range remoteInfo.BlockHashList {
		block, ok, err := client.GetBlock(ctx, hash)
		if err != nil {
			return FileState{}, fmt.Errorf("get block %s: %w", hash, err)
		}
		if !ok {
			return FileState{}, fmt.Errorf("block %s missing on server", hash)
		}
		data = append(data, block...)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return FileState{}, fmt.Errorf("write %s: %w", name, err)
	}
	return FileState{Version: remoteInfo.Version, BlockHashList: remoteInfo.BlockHashList}, nil
}

var errVersionConflict = errors.New("version conflict")

// upload pushes any blocks the server lacks and proposes the next version.
// A rejected UpdateFile (another writer raced us) surfaces as
// errVersionConflict so the caller can fall back to a download.
func (s *Syncer) upload(ctx context.Context, client rpc.ReplicaClient, name string, indexState FileState, scanned ScanResult) (FileState, error) {
	for i, hash := range scanned.Hashes {
		present, err := client.HasBlocks(ctx, []string{hash})
		if err != nil {
			return FileState{}, fmt.Errorf("has blocks: %w", err)
		}
		if len(present) > 0 {
			continue
		}
		if _, err := client.PutBlock(ctx, scanned.Blocks[i]); err != nil {
			return FileState{}, fmt.Errorf("put block %s: %w", hash, err)
		}
	}

	nextVersion := indexState.Version + 1
	ok, err := client.UpdateFile(ctx, name, nextVersion, scanned.Hashes)
	if err != nil {
		return FileState{}, err
	}
	if !ok {
		return FileState{}, errVersionConflict
	}
	return FileState{Version: nextVersion, BlockHashList: scanned.Hashes}, nil
}

func equalHashLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
