// Package testutil provides an in-process N-replica SurfStore cluster for
// consensus and sync tests, wired through node.Node and rpc.LocalTransport.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/node"
	"github.com/surfstore/surfstore/pkg/rpc"
)

// Cluster is a set of in-process SurfStore replicas wired through a shared
// LocalTransport.
type Cluster struct {
	Nodes     []*node.Node
	Transport *rpc.LocalTransport
}

// NewCluster builds and registers size replicas, each with every other
// replica as a peer, but does not start them.
func NewCluster(size int) *Cluster {
	transport := rpc.NewLocalTransport()

	ids := make([]string, size)
	for i := range ids {
		ids[i] = fmt.Sprintf("replica-%d", i)
	}

	cluster := &Cluster{
		Nodes:     make([]*node.Node, size),
		Transport: transport,
	}

	for i := 0; i < size; i++ {
		peers := make([]string, 0, size-1)
		for j := 0; j < size; j++ {
			if i != j {
				peers = append(peers, ids[j])
			}
		}

		cfg := consensus.DefaultConfig(ids[i], peers)
		// Election timeouts are set to the same 150-300ms window as the
		// production defaults; the heartbeat interval is shorter than the
		// production 50ms.
		cfg.ElectionTimeoutMin = 150 * time.Millisecond
		cfg.ElectionTimeoutMax = 300 * time.Millisecond
		cfg.HeartbeatInterval = 30 * time.Millisecond

		n := node.New(cfg, transport)
		cluster.Nodes[i] = n
		transport.Register(ids[i], n)
	}

	return cluster
}

// Start launches every replica's background loops.
func (c *Cluster) Start() {
	for _, n := range c.Nodes {
		n.Start()
	}
}

// Stop terminates every replica's background loops.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		n.Stop()
	}
}

// GetLeader returns the first replica that currently believes itself
// leader, or nil if none does.
func (c *Cluster) GetLeader() *node.Node {
	for _, n := range c.Nodes {
		if n.IsLeader() {
			return n
		}
	}
	return nil
}

// WaitForLeader polls until some replica becomes leader or timeout elapses.
func (c *Cluster) WaitForLeader(timeout time.Duration) (*node.Node, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leader := c.GetLeader(); leader != nil {
			return leader, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("no leader elected within %s", timeout)
}

// WaitForStableLeader waits for a leader that holds the role across
// requiredStable consecutive polls.
func (c *Cluster) WaitForStableLeader(timeout time.Duration) (*node.Node, error) {
	const requiredStable = 10
	deadline := time.Now().Add(timeout)

	var leader *node.Node
	stable := 0
	for time.Now().Before(deadline) {
		current := c.GetLeader()
		switch {
		case current == nil:
			leader, stable = nil, 0
		case current == leader:
			stable++
			if stable >= requiredStable {
				return leader, nil
			}
		default:
			leader, stable = current, 1
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("no stable leader elected within %s", timeout)
}

// WaitForNewLeader waits for a leader other than excludeID.
func (c *Cluster) WaitForNewLeader(excludeID string, timeout time.Duration) (*node.Node, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range c.Nodes {
			if n.ID != excludeID && n.IsLeader() {
				return n, nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("no new leader elected within %s", timeout)
}

// PartitionLeader isolates the current leader from the rest of the cluster
// and returns the replica that was partitioned.
func (c *Cluster) PartitionLeader() *node.Node {
	leader := c.GetLeader()
	if leader != nil {
		c.Transport.Partition(leader.ID)
	}
	return leader
}

// HealPartition clears every simulated network partition.
func (c *Cluster) HealPartition() {
	c.Transport.HealAll()
}

// SubmitUpdate retries UpdateFile against whichever replica currently
// claims leadership until it succeeds or timeout elapses.
func (c *Cluster) SubmitUpdate(filename string, version uint64, blockHashList []string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		leader := c.GetLeader()
		if leader == nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		remaining := time.Until(deadline)
		if remaining < 50*time.Millisecond {
			remaining = 50 * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(context.Background(), remaining)
		ok, err := leader.UpdateFile(ctx, filename, version, blockHashList)
		cancel()

		if err == nil {
			return ok, nil
		}
		if err == consensus.ErrNotLeader || err == context.DeadlineExceeded {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		return false, err
	}

	return false, fmt.Errorf("timeout submitting update for %s", filename)
}
