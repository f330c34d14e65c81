package consensus

import "errors"

var (
	// ErrNotLeader is returned by client-facing operations when the
	// contacted replica does not believe it is the leader.
	ErrNotLeader = errors.New("not the leader")
	// ErrBusy names the "could not acquire the consensus lock without
	// blocking" condition. The RequestVote/AppendEntries handlers report it
	// through the Busy field of their reply, not by returning this error.
	ErrBusy = errors.New("busy")
	// ErrCrashed names the Down role. No RPC returns it: a Down replica
	// answers consensus RPCs with a Busy reply and client-facing writes and
	// reads with ErrNotLeader.
	ErrCrashed = errors.New("replica is crashed")
	// ErrPeerUnreachable is returned by the transport layer and treated as
	// a silently ignored vote/append failure, never surfaced to clients.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrVersionConflict names a proposed version that does not equal the
	// current version plus one. fileinfo.Store.Apply reports it as a false
	// return and UpdateFile as (false, nil); neither returns this error.
	ErrVersionConflict = errors.New("version conflict")
	// ErrTimeout names a commit-wait that outlives its deadline. UpdateFile
	// does not return it: when its context ends first it returns ctx.Err().
	ErrTimeout = errors.New("operation timed out")
)
