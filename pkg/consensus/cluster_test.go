package consensus_test

import (
	"context"
	"testing"
	"time"

	"github.com/surfstore/surfstore/pkg/consensus"
	"github.com/surfstore/surfstore/pkg/testutil"
)

func TestElectionFromScratch(t *testing.T) {
	cluster := testutil.NewCluster(3)
	defer cluster.Stop()
	cluster.Start()

	leader, err := cluster.WaitForLeader(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForLeader: %v", err)
	}

	leaderCount := 0
	for _, n := range cluster.Nodes {
		if n.IsLeader() {
			leaderCount++
		}
	}
	if leaderCount != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaderCount)
	}
	if !leader.IsLeader() {
		t.Fatalf("WaitForLeader returned a non-leader node")
	}
}

func TestNoQuorumNoLeader(t *testing.T) {
	cluster := testutil.NewCluster(5)
	defer cluster.Stop()

	cluster.Nodes[0].Start()
	time.Sleep(2 * time.Second)
	if cluster.GetLeader() != nil {
		t.Fatal("a lone replica must never become leader")
	}

	cluster.Nodes[1].Start()
	time.Sleep(500 * time.Millisecond)
	if cluster.GetLeader() != nil {
		t.Fatal("two of five replicas is still not a quorum")
	}

	cluster.Nodes[2].Start()
	if _, err := cluster.WaitForLeader(2 * time.Second); err != nil {
		t.Fatalf("a third replica should form quorum and elect a leader: %v", err)
	}
}

func TestWriteReplication(t *testing.T) {
	cluster := testutil.NewCluster(5)
	defer cluster.Stop()
	cluster.Start()

	leader, err := cluster.WaitForStableLeader(3 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStableLeader: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := leader.UpdateFile(ctx, "a.bin", 1, []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	if !ok {
		t.Fatal("UpdateFile returned false for a first version on a reachable leader")
	}

	time.Sleep(50 * time.Millisecond)

	for _, n := range cluster.Nodes {
		version, ok := n.TesterGetVersion("a.bin")
		if !ok || version != 1 {
			t.Errorf("replica %s: got (version=%d, ok=%v), want (1, true)", n.ID, version, ok)
		}
	}

	info, err := leader.GetFileInfoMap(ctx)
	if err != nil {
		t.Fatalf("GetFileInfoMap: %v", err)
	}
	got, ok := info["a.bin"]
	if !ok || got.Version != 1 || len(got.BlockHashList) != 2 {
		t.Fatalf("GetFileInfoMap: got %+v, want version 1 with 2 blocks", got)
	}
}

func TestWriteOnNonLeaderFails(t *testing.T) {
	cluster := testutil.NewCluster(5)
	defer cluster.Stop()
	cluster.Start()

	leader, err := cluster.WaitForStableLeader(3 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStableLeader: %v", err)
	}

	for _, n := range cluster.Nodes {
		if n == leader {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		_, err := n.UpdateFile(ctx, "a.bin", 1, []string{"h1"})
		cancel()
		if err != consensus.ErrNotLeader {
			t.Errorf("replica %s: got err %v, want ErrNotLeader", n.ID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := leader.GetFileInfoMap(ctx)
	if err != nil {
		t.Fatalf("GetFileInfoMap: %v", err)
	}
	if _, exists := info["a.bin"]; exists {
		t.Fatal("rejected writes on followers must not mutate leader state")
	}
}

func TestBlockedWriteUnderMinority(t *testing.T) {
	cluster := testutil.NewCluster(5)
	defer cluster.Stop()

	for i := 0; i < 3; i++ {
		cluster.Nodes[i].Start()
	}
	leader, err := cluster.WaitForStableLeader(3 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStableLeader: %v", err)
	}

	var followerID string
	for _, n := range cluster.Nodes[:3] {
		if n != leader {
			followerID = n.ID
			break
		}
	}
	cluster.Transport.Partition(followerID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		leader.UpdateFile(ctx, "a", 1, []string{"h"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("UpdateFile must not return while only a minority is reachable")
	case <-time.After(2 * time.Second):
	}

	leader.Crash()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("UpdateFile must terminate once the leader crashes")
	}
}

func TestCrashRestoreCatchUp(t *testing.T) {
	cluster := testutil.NewCluster(5)
	defer cluster.Stop()
	cluster.Start()

	leader, err := cluster.WaitForStableLeader(3 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStableLeader: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	if ok, err := leader.UpdateFile(ctx, "a", 1, []string{"h1"}); err != nil || !ok {
		cancel()
		t.Fatalf("v1 update should succeed: ok=%v err=%v", ok, err)
	}
	cancel()

	crashed := cluster.Nodes[0]
	for _, n := range cluster.Nodes {
		if n != leader {
			crashed = n
			break
		}
	}
	crashed.Crash()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	if ok, err := leader.UpdateFile(ctx, "a", 2, []string{"h1", "h2"}); err != nil || !ok {
		cancel()
		t.Fatalf("v2 update should succeed despite one crashed follower: ok=%v err=%v", ok, err)
	}
	cancel()
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	if ok, err := leader.UpdateFile(ctx, "b", 1, []string{"h3"}); err != nil || !ok {
		cancel()
		t.Fatalf("new-file update should succeed despite one crashed follower: ok=%v err=%v", ok, err)
	}
	cancel()

	crashed.Restore()
	time.Sleep(50 * time.Millisecond)

	if v, ok := crashed.TesterGetVersion("a"); !ok || v != 2 {
		t.Errorf("restored replica: got (version=%d, ok=%v) for \"a\", want (2, true)", v, ok)
	}
	if v, ok := crashed.TesterGetVersion("b"); !ok || v != 1 {
		t.Errorf("restored replica: got (version=%d, ok=%v) for \"b\", want (1, true)", v, ok)
	}
}

func TestVersionValidation(t *testing.T) {
	cluster := testutil.NewCluster(3)
	defer cluster.Stop()
	cluster.Start()

	leader, err := cluster.WaitForStableLeader(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitForStableLeader: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := leader.UpdateFile(ctx, "a", 1, []string{"h1"})
	if err != nil || !ok {
		t.Fatalf("first version should succeed: ok=%v err=%v", ok, err)
	}

	ok, err = leader.UpdateFile(ctx, "a", 3, []string{"h2"})
	if err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}
	if ok {
		t.Fatal("a version skip from 1 to 3 must be rejected")
	}

	info, err := leader.GetFileInfoMap(ctx)
	if err != nil {
		t.Fatalf("GetFileInfoMap: %v", err)
	}
	if info["a"].Version != 1 {
		t.Fatalf("rejected update must not change the stored version, got %d", info["a"].Version)
	}

	ok, err = leader.UpdateFile(ctx, "a", 2, []string{"h2"})
	if err != nil || !ok {
		t.Fatalf("sequential version should succeed: ok=%v err=%v", ok, err)
	}
}
