// Package node composes the three components of a running SurfStore
// replica - the consensus core, the replicated FileInfoStore it drives,
// and the local, non-replicated BlockStore - into the single RPC surface
// external callers (peers and clients) address.
package node

import (
	"context"

	"github.com/surfstore/surfstore/pkg/blockstore"
	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/fileinfo"
)

// Node is one running SurfStore replica.
type Node struct {
	ID      string
	Replica *consensus.Replica
	Files   *fileinfo.Store
	Blocks  *blockstore.Store
}

// New builds a Node in the Follower role, ready for Start.
func New(cfg consensus.Config, transport consensus.Transport) *Node {
	files := fileinfo.New()
	return &Node{
		ID:      cfg.ID,
		Replica: consensus.New(cfg, transport, files),
		Files:   files,
		Blocks:  blockstore.New(),
	}
}

// Start launches the replica's background loops.
func (n *Node) Start() { n.Replica.Start() }

// Stop terminates the replica's background loops.
func (n *Node) Stop() { n.Replica.Stop() }

// --- inter-replica consensus RPCs ---

// RequestVote dispatches to the consensus core.
func (n *Node) RequestVote(args *consensus.RequestVoteArgs) *consensus.RequestVoteReply {
	return n.Replica.HandleRequestVote(args)
}

// AppendEntries dispatches to the consensus core.
func (n *Node) AppendEntries(args *consensus.AppendEntriesArgs) *consensus.AppendEntriesReply {
	return n.Replica.HandleAppendEntries(args)
}

// --- client-facing metadata RPCs ---

// UpdateFile proposes a new (version, blockHashList) for filename.
func (n *Node) UpdateFile(ctx context.Context, filename string, version uint64, blockHashList []string) (bool, error) {
	return n.Replica.UpdateFile(ctx, consensus.FileUpdate{
		Filename:      filename,
		Version:       version,
		BlockHashList: blockHashList,
	})
}

// GetFileInfoMap returns the full replicated file-info map.
func (n *Node) GetFileInfoMap(ctx context.Context) (map[string]consensus.FileInfo, error) {
	return n.Replica.GetFileInfoMap(ctx)
}

// IsLeader reports whether this replica believes itself to be leader.
func (n *Node) IsLeader() bool { return n.Replica.IsLeader() }

// IsCrashed reports whether this replica is in the Down role.
func (n *Node) IsCrashed() bool { return n.Replica.IsCrashed() }

// Crash forces this replica into the Down role.
func (n *Node) Crash() { n.Replica.Crash() }

// Restore returns this replica from Down to Follower.
func (n *Node) Restore() { n.Replica.Restore() }

// TesterGetVersion is a test-only introspection RPC.
func (n *Node) TesterGetVersion(filename string) (uint64, bool) {
	return n.Replica.TesterGetVersion(filename)
}

// --- block store RPCs (local only, never replicated) ---

// PutBlock stores a block locally and returns its content hash.
func (n *Node) PutBlock(data []byte) (string, error) { return n.Blocks.PutBlock(data) }

// GetBlock returns a block's bytes by content hash.
func (n *Node) GetBlock(hash string) ([]byte, bool) { return n.Blocks.GetBlock(hash) }

// HasBlocks returns the subset of hashes present locally.
func (n *Node) HasBlocks(hashes []string) []string { return n.Blocks.HasBlocks(hashes) }
