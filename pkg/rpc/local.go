package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/node"
)

// LocalTransport is an in-memory transport for tests: Register/Disconnect/
// Connect/Partition/Heal simulate network conditions between in-process
// replicas without sockets.
type LocalTransport struct {
	mu       sync.RWMutex
	nodes    map[string]*node.Node
	disabled map[string]map[string]bool
	latency  time.Duration
}

// NewLocalTransport creates an empty LocalTransport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		nodes:    make(map[string]*node.Node),
		disabled: make(map[string]map[string]bool),
	}
}

// Register adds a replica to the transport under id.
func (t *LocalTransport) Register(id string, n *node.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id] = n
	t.disabled[id] = make(map[string]bool)
}

// SetLatency adds artificial latency to every RPC, for timing tests.
func (t *LocalTransport) SetLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latency = d
}

// Disconnect simulates a one-directional network failure from -> to.
func (t *LocalTransport) Disconnect(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled[from] == nil {
		t.disabled[from] = make(map[string]bool)
	}
	t.disabled[from][to] = true
}

// Connect restores a one-directional connection.
func (t *LocalTransport) Connect(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled[from] != nil {
		delete(t.disabled[from], to)
	}
}

// Partition isolates a replica from every other registered replica.
func (t *LocalTransport) Partition(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for other := range t.nodes {
		if other == id {
			continue
		}
		if t.disabled[id] == nil {
			t.disabled[id] = make(map[string]bool)
		}
		if t.disabled[other] == nil {
			t.disabled[other] = make(map[string]bool)
		}
		t.disabled[id][other] = true
		t.disabled[other][id] = true
	}
}

// Heal restores every connection to and from id.
func (t *LocalTransport) Heal(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled[id] = make(map[string]bool)
	for other := range t.nodes {
		if t.disabled[other] != nil {
			delete(t.disabled[other], id)
		}
	}
}

// HealAll clears every simulated partition.
func (t *LocalTransport) HealAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled = make(map[string]map[string]bool)
}

func (t *LocalTransport) isConnected(from, to string) bool {
	if t.disabled[from] == nil {
		return true
	}
	return !t.disabled[from][to]
}

// RequestVote implements consensus.Transport.
func (t *LocalTransport) RequestVote(target string, args *consensus.RequestVoteArgs) (*consensus.RequestVoteReply, error) {
	t.mu.RLock()
	n, ok := t.nodes[target]
	connected := t.isConnected(args.CandidateID, target)
	latency := t.latency
	t.mu.RUnlock()

	if !ok || !connected {
		return nil, consensus.ErrPeerUnreachable
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	return n.RequestVote(args), nil
}

// AppendEntries implements consensus.Transport.
func (t *LocalTransport) AppendEntries(target string, args *consensus.AppendEntriesArgs) (*consensus.AppendEntriesReply, error) {
	t.mu.RLock()
	n, ok := t.nodes[target]
	connected := t.isConnected(args.LeaderID, target)
	latency := t.latency
	t.mu.RUnlock()

	if !ok || !connected {
		return nil, consensus.ErrPeerUnreachable
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	return n.AppendEntries(args), nil
}

// Dial implements Dialer by returning a ReplicaClient that calls the
// in-process Node directly, with no marshaling and no network.
func (t *LocalTransport) Dial(target string) (ReplicaClient, error) {
	t.mu.RLock()
	n, ok := t.nodes[target]
	t.mu.RUnlock()
	if !ok {
		return nil, consensus.ErrPeerUnreachable
	}
	return &localReplicaClient{node: n}, nil
}

type localReplicaClient struct {
	node *node.Node
}

func (c *localReplicaClient) UpdateFile(ctx context.Context, filename string, version uint64, blockHashList []string) (bool, error) {
	return c.node.UpdateFile(ctx, filename, version, blockHashList)
}

func (c *localReplicaClient) GetFileInfoMap(ctx context.Context) (map[string]consensus.FileInfo, error) {
	return c.node.GetFileInfoMap(ctx)
}

func (c *localReplicaClient) IsLeader(ctx context.Context) (bool, error) {
	return c.node.IsLeader(), nil
}

func (c *localReplicaClient) IsCrashed(ctx context.Context) (bool, error) {
	return c.node.IsCrashed(), nil
}

func (c *localReplicaClient) Crash(ctx context.Context) error {
	c.node.Crash()
	return nil
}

func (c *localReplicaClient) Restore(ctx context.Context) error {
	c.node.Restore()
	return nil
}

func (c *localReplicaClient) PutBlock(ctx context.Context, data []byte) (string, error) {
	return c.node.PutBlock(data)
}

func (c *localReplicaClient) GetBlock(ctx context.Context, hash string) ([]byte, bool, error) {
	data, ok := c.node.GetBlock(hash)
	return data, ok, nil
}

func (c *localReplicaClient) HasBlocks(ctx context.Context, hashes []string) ([]string, error) {
	return c.node.HasBlocks(hashes), nil
}
