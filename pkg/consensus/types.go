// Package consensus implements SurfStore's replicated metadata service: a
// leader-based consensus core that replicates file-version history across
// a fixed set of replicas.
package consensus

import (
	"time"

	"github.com/surfstore/surfstore/pkg/fileinfo"
)

// Role is the state a replica's role loop is currently running.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
	Down
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	case Down:
		return "Down"
	default:
		return "Unknown"
	}
}

// FileUpdate is the command type replicated through the log: an
// advancement of one file's version and block list. The type is defined in
// pkg/fileinfo (the state machine that applies it) and aliased here so log
// and RPC code can refer to it as consensus.FileUpdate.
type FileUpdate = fileinfo.FileUpdate

// LogEntry is a single replicated log entry. Index 0 holds a sentinel
// no-op entry so that PrevLogIndex/PrevLogTerm arithmetic never needs a
// special case at the start of the log.
type LogEntry struct {
	Index   uint64
	Term    uint64
	NoOp    bool
	Update  FileUpdate
}

// Config holds the per-replica tunables.
type Config struct {
	ID                 string
	Peers              []string
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

// DefaultConfig returns reasonable production timeouts for a replica.
func DefaultConfig(id string, peers []string) Config {
	return Config{
		ID:                 id,
		Peers:              peers,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
	}
}

// RequestVoteArgs are the arguments of the RequestVote RPC.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply carries a Busy flag instead of overloading Term/Granted
// to signal that the replica couldn't acquire its lock in time to answer.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
	Busy        bool
}

// AppendEntriesArgs are the arguments of the AppendEntries RPC. A heartbeat
// is an AppendEntries call with a nil Entries slice.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesReply carries the same Busy flag as RequestVoteReply.
type AppendEntriesReply struct {
	Term          uint64
	Success       bool
	Busy          bool
	ConflictIndex uint64
	ConflictTerm  uint64
}

// FileInfo is the externally visible (version, blockHashList) pair for one
// filename, aliased from pkg/fileinfo for the same reason as FileUpdate.
type FileInfo = fileinfo.FileInfo

// CommitResult is delivered to a goroutine blocked in UpdateFile once its
// log entry is either committed or the replica loses leadership first.
type CommitResult struct {
	Index uint64
	Term  uint64
	Ok    bool
	Err   error
}

type pendingCommand struct {
	index    uint64
	term     uint64
	resultCh chan CommitResult
}

// Transport is how a replica reaches its peers. LocalTransport (pkg/rpc)
// implements it in-process for tests; GRPCTransport implements it over a
// real network connection.
type Transport interface {
	RequestVote(target string, args *RequestVoteArgs) (*RequestVoteReply, error)
	AppendEntries(target string, args *AppendEntriesArgs) (*AppendEntriesReply, error)
}
