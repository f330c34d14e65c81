// Package rpc provides the two transports SurfStore replicas and clients
// use to reach each other: an in-memory LocalTransport for tests and a
// real network GRPCTransport for production deployments.
package rpc

import (
	"context"

	"github.com/surfstore/surfstore/pkg/consensus"
)

// ReplicaClient is everything a CLI client (or a test harness) can call on
// one specific replica: file metadata operations, replica lifecycle
// control, and the local block store.
type ReplicaClient interface {
	UpdateFile(ctx context.Context, filename string, version uint64, blockHashList []string) (bool, error)
	GetFileInfoMap(ctx context.Context) (map[string]consensus.FileInfo, error)
	IsLeader(ctx context.Context) (bool, error)
	IsCrashed(ctx context.Context) (bool, error)
	Crash(ctx context.Context) error
	Restore(ctx context.Context) error
	PutBlock(ctx context.Context, data []byte) (string, error)
	GetBlock(ctx context.Context, hash string) ([]byte, bool, error)
	HasBlocks(ctx context.Context, hashes []string) ([]string, error)
}

// Dialer resolves a replica address (a map key in LocalTransport, a
// host:port in GRPCTransport) to a ReplicaClient.
type Dialer interface {
	Dial(target string) (ReplicaClient, error)
}
