package consensus

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/surfstore/surfstore/pkg/fileinfo"
)

// Replica is one SurfStore metadata replica: a Raft-style consensus core
// with four roles (Follower/Candidate/Leader/Down) replicating FileUpdate
// commands - (filename, version, blockHashList) triples - into a
// fileinfo.Store.
type Replica struct {
	mu sync.RWMutex // ConsensusLock

	id     string
	config Config
	peers  []string

	currentTerm uint64
	votedFor    string
	log         []LogEntry

	role        Role
	commitIndex uint64
	lastApplied uint64

	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	leaderID string

	stopCh          chan struct{}
	electionResetCh chan struct{}
	electionDeadline time.Time
	electionMu       sync.Mutex

	pendingCommands map[uint64]*pendingCommand

	transport Transport
	files     *fileinfo.Store

	started bool
}

// New creates a replica in the Follower role. It does not start the
// background role loop; call Start for that.
func New(cfg Config, transport Transport, files *fileinfo.Store) *Replica {
	r := &Replica{
		id:              cfg.ID,
		config:          cfg,
		peers:           cfg.Peers,
		log:             []LogEntry{{Index: 0, Term: 0, NoOp: true}},
		role:            Follower,
		nextIndex:       make(map[string]uint64),
		matchIndex:      make(map[string]uint64),
		stopCh:          make(chan struct{}),
		electionResetCh: make(chan struct{}, 1),
		pendingCommands: make(map[uint64]*pendingCommand),
		transport:       transport,
		files:           files,
	}
	r.electionDeadline = time.Now().Add(cfg.ElectionTimeoutMax)
	return r
}

// Start launches the role loop and the apply loop.
func (r *Replica) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.runRoleLoop()
	go r.applyLoop()
}

// Stop terminates the replica's background loops permanently.
func (r *Replica) Stop() {
	close(r.stopCh)
}

func (r *Replica) runRoleLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		r.mu.RLock()
		role := r.role
		r.mu.RUnlock()

		switch role {
		case Follower:
			r.runFollower()
		case Candidate:
			r.runCandidate()
		case Leader:
			r.runLeader()
		case Down:
			r.runDown()
		}
	}
}

func (r *Replica) runDown() {
	// A Down replica runs no election/heartbeat task; it just waits to be
	// restored or stopped, per section 4.6 ("neither sends nor schedules
	// outgoing RPCs").
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.RLock()
			stillDown := r.role == Down
			r.mu.RUnlock()
			if !stillDown {
				return
			}
		}
	}
}

func (r *Replica) runFollower() {
	r.resetElectionDeadline()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		r.electionMu.Lock()
		deadline := r.electionDeadline
		r.electionMu.Unlock()

		timeout := time.Until(deadline)
		if timeout <= 0 {
			r.mu.Lock()
			if r.role == Follower {
				r.becomeCandidate()
			}
			stillFollower := r.role == Follower
			r.mu.Unlock()
			if !stillFollower {
				return
			}
			continue
		}

		select {
		case <-r.stopCh:
			return
		case <-r.electionResetCh:
			r.resetElectionDeadline()
		case <-time.After(timeout):
			r.mu.Lock()
			if r.role == Follower {
				r.becomeCandidate()
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *Replica) runCandidate() {
	r.mu.Lock()
	if r.role != Candidate {
		r.mu.Unlock()
		return
	}
	r.currentTerm++
	r.votedFor = r.id
	currentTerm := r.currentTerm
	lastLogIndex := r.lastLogIndex()
	lastLogTerm := r.lastLogTerm()
	peers := append([]string(nil), r.peers...)
	r.mu.Unlock()

	log.Printf("replica %s: starting election for term %d", r.id, currentTerm)

	votes := 1 // vote for self
	votesNeeded := (len(peers)+1)/2 + 1

	votesCh := make(chan bool, len(peers))
	for _, peer := range peers {
		go func(peer string) {
			args := &RequestVoteArgs{
				Term:         currentTerm,
				CandidateID:  r.id,
				LastLogIndex: lastLogIndex,
				LastLogTerm:  lastLogTerm,
			}
			reply, err := r.transport.RequestVote(peer, args)
			if err != nil || reply == nil || reply.Busy {
				votesCh <- false
				return
			}

			r.mu.Lock()
			if reply.Term > r.currentTerm {
				r.becomeFollower(reply.Term)
			}
			r.mu.Unlock()

			votesCh <- reply.VoteGranted
		}(peer)
	}

	timeout := r.randomElectionTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i := 0; i < len(peers); i++ {
		select {
		case <-r.stopCh:
			return
		case granted := <-votesCh:
			if granted {
				votes++
			}
			r.mu.Lock()
			if r.role == Candidate && r.currentTerm == currentTerm && votes >= votesNeeded {
				r.becomeLeader()
				r.mu.Unlock()
				return
			}
			role := r.role
			r.mu.Unlock()
			if role != Candidate {
				return
			}
		case <-timer.C:
			r.mu.Lock()
			if r.role == Candidate {
				log.Printf("replica %s: election timeout in term %d, retrying", r.id, currentTerm)
			}
			r.mu.Unlock()
			return
		case <-r.electionResetCh:
			return
		}
	}

	// Ran out of peers to hear from before quorum or timeout; wait the rest
	// of the timeout window before retrying.
	select {
	case <-r.stopCh:
	case <-timer.C:
	case <-r.electionResetCh:
	}
}

func (r *Replica) runLeader() {
	r.sendHeartbeats()

	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.RLock()
			isLeader := r.role == Leader
			r.mu.RUnlock()
			if !isLeader {
				return
			}
			r.sendHeartbeats()
			r.advanceCommitIndex()
		}
	}
}

func (r *Replica) resetElectionDeadline() {
	r.electionMu.Lock()
	defer r.electionMu.Unlock()
	r.electionDeadline = time.Now().Add(r.randomElectionTimeout())
}

func (r *Replica) sendHeartbeats() {
	r.mu.RLock()
	if r.role != Leader {
		r.mu.RUnlock()
		return
	}
	term := r.currentTerm
	r.mu.RUnlock()

	for _, peer := range r.peers {
		go r.sendAppendEntries(peer, term)
	}
}

func (r *Replica) sendAppendEntries(peer string, term uint64) {
	r.mu.RLock()
	if r.role != Leader || r.currentTerm != term {
		r.mu.RUnlock()
		return
	}

	nextIdx := r.nextIndex[peer]
	if nextIdx == 0 {
		nextIdx = r.lastLogIndex() + 1
	}

	prevLogIndex := nextIdx - 1
	prevLogTerm := uint64(0)
	if arrIdx := r.arrIndex(prevLogIndex); arrIdx >= 0 && arrIdx < len(r.log) {
		prevLogTerm = r.log[arrIdx].Term
	}

	var entries []LogEntry
	if startIdx := r.arrIndex(nextIdx); startIdx >= 0 && startIdx < len(r.log) {
		entries = append(entries, r.log[startIdx:]...)
	}

	args := &AppendEntriesArgs{
		Term:         term,
		LeaderID:     r.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: r.commitIndex,
	}
	r.mu.RUnlock()

	reply, err := r.transport.AppendEntries(peer, args)
	if err != nil || reply == nil || reply.Busy {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reply.Term > r.currentTerm {
		r.becomeFollower(reply.Term)
		return
	}
	if r.role != Leader || r.currentTerm != term {
		return
	}

	if reply.Success {
		newNext := nextIdx + uint64(len(entries))
		if newNext > r.nextIndex[peer] {
			r.nextIndex[peer] = newNext
		}
		newMatch := newNext - 1
		if newMatch > r.matchIndex[peer] {
			r.matchIndex[peer] = newMatch
		}
		r.tryAdvanceCommitIndex()
		return
	}

	switch {
	case reply.ConflictTerm > 0:
		last := uint64(0)
		for i := len(r.log) - 1; i >= 0; i-- {
			if r.log[i].Term == reply.ConflictTerm {
				last = r.log[i].Index
				break
			}
		}
		if last > 0 {
			r.nextIndex[peer] = last + 1
		} else {
			r.nextIndex[peer] = reply.ConflictIndex
		}
	case reply.ConflictIndex > 0:
		r.nextIndex[peer] = reply.ConflictIndex
	case r.nextIndex[peer] > 1:
		r.nextIndex[peer]--
	}
}

func (r *Replica) arrIndex(logIndex uint64) int {
	if len(r.log) == 0 {
		return -1
	}
	base := r.log[0].Index
	if logIndex < base {
		return -1
	}
	return int(logIndex - base)
}

func (r *Replica) tryAdvanceCommitIndex() {
	if r.role != Leader {
		return
	}

	match := make([]uint64, 0, len(r.peers)+1)
	match = append(match, r.lastLogIndex())
	for _, peer := range r.peers {
		match = append(match, r.matchIndex[peer])
	}
	sort.Slice(match, func(i, j int) bool { return match[i] > match[j] })

	majority := len(match) / 2
	if majority >= len(match) {
		return
	}
	candidate := match[majority]

	if candidate > r.commitIndex {
		if arrIdx := r.arrIndex(candidate); arrIdx >= 0 && arrIdx < len(r.log) && r.log[arrIdx].Term == r.currentTerm {
			r.commitIndex = candidate
		}
	}
}

func (r *Replica) advanceCommitIndex() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryAdvanceCommitIndex()
}

// HandleRequestVote is the RequestVote RPC receiver. It takes a
// non-blocking acquisition of ConsensusLock per section 5: if the lock is
// contended, the replica is Down, or it has not been started, it replies
// busy without mutating any state.
func (r *Replica) HandleRequestVote(args *RequestVoteArgs) *RequestVoteReply {
	if !r.mu.TryLock() {
		return &RequestVoteReply{Busy: true}
	}
	defer r.mu.Unlock()

	if r.role == Down || !r.started {
		return &RequestVoteReply{Busy: true}
	}

	reply := &RequestVoteReply{Term: r.currentTerm}

	if args.Term < r.currentTerm {
		return reply
	}
	if args.Term > r.currentTerm {
		r.becomeFollower(args.Term)
	}
	reply.Term = r.currentTerm

	if (r.votedFor == "" || r.votedFor == args.CandidateID) && r.isLogUpToDate(args.LastLogIndex, args.LastLogTerm) {
		r.votedFor = args.CandidateID
		reply.VoteGranted = true
		r.resetElectionTimer()
		log.Printf("replica %s: granted vote to %s for term %d", r.id, args.CandidateID, args.Term)
	}

	return reply
}

// HandleAppendEntries is the AppendEntries RPC receiver, with the same
// non-blocking/Down handling as HandleRequestVote.
func (r *Replica) HandleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	if !r.mu.TryLock() {
		return &AppendEntriesReply{Busy: true}
	}
	defer r.mu.Unlock()

	if r.role == Down || !r.started {
		return &AppendEntriesReply{Busy: true}
	}

	reply := &AppendEntriesReply{Term: r.currentTerm}

	if args.Term < r.currentTerm {
		return reply
	}
	if args.Term > r.currentTerm || r.role == Candidate {
		r.becomeFollower(args.Term)
	}

	r.leaderID = args.LeaderID
	r.resetElectionTimer()
	reply.Term = r.currentTerm

	if args.PrevLogIndex > 0 {
		arrIdx := r.arrIndex(args.PrevLogIndex)
		if arrIdx < 0 || arrIdx >= len(r.log) {
			reply.ConflictIndex = r.lastLogIndex() + 1
			return reply
		}
		if r.log[arrIdx].Term != args.PrevLogTerm {
			conflictTerm := r.log[arrIdx].Term
			reply.ConflictTerm = conflictTerm
			reply.ConflictIndex = r.log[0].Index
			for i := arrIdx; i >= 0; i-- {
				if r.log[i].Term != conflictTerm {
					reply.ConflictIndex = r.log[i+1].Index
					break
				}
			}
			return reply
		}
	}

	for i, entry := range args.Entries {
		idx := args.PrevLogIndex + 1 + uint64(i)
		arrIdx := r.arrIndex(idx)
		if arrIdx >= 0 && arrIdx < len(r.log) {
			if r.log[arrIdx].Term != entry.Term {
				r.log = append(r.log[:arrIdx], entry)
			}
		} else {
			r.log = append(r.log, entry)
		}
	}

	if args.LeaderCommit > r.commitIndex {
		lastNew := args.PrevLogIndex + uint64(len(args.Entries))
		if args.LeaderCommit < lastNew {
			r.commitIndex = args.LeaderCommit
		} else {
			r.commitIndex = lastNew
		}
	}

	reply.Success = true
	return reply
}

// UpdateFile is the client-facing write operation. It appends a log entry
// and blocks until the entry commits (and is applied) while this replica
// remains leader for the term it proposed in, or the context is cancelled.
func (r *Replica) UpdateFile(ctx context.Context, update FileUpdate) (bool, error) {
	r.mu.Lock()
	if r.role == Down {
		r.mu.Unlock()
		return false, ErrNotLeader
	}
	if r.role != Leader {
		r.mu.Unlock()
		return false, ErrNotLeader
	}

	entry := LogEntry{
		Index:  r.lastLogIndex() + 1,
		Term:   r.currentTerm,
		Update: update,
	}
	r.log = append(r.log, entry)

	resultCh := make(chan CommitResult, 1)
	r.pendingCommands[entry.Index] = &pendingCommand{index: entry.Index, term: entry.Term, resultCh: resultCh}
	r.mu.Unlock()

	select {
	case result := <-resultCh:
		if result.Err != nil {
			return false, result.Err
		}
		return result.Ok, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pendingCommands, entry.Index)
		r.mu.Unlock()
		return false, ctx.Err()
	}
}

// GetFileInfoMap is the client-facing read operation. It refuses to answer
// unless this replica can first confirm, via a heartbeat round, that it is
// still backed by a majority of the cluster.
func (r *Replica) GetFileInfoMap(ctx context.Context) (map[string]FileInfo, error) {
	r.mu.RLock()
	if r.role != Leader {
		r.mu.RUnlock()
		return nil, ErrNotLeader
	}
	term := r.currentTerm
	r.mu.RUnlock()

	if !r.confirmLeadership(ctx, term) {
		return nil, ErrNotLeader
	}

	return r.files.GetAll(), nil
}

func (r *Replica) confirmLeadership(ctx context.Context, term uint64) bool {
	r.mu.RLock()
	peers := append([]string(nil), r.peers...)
	needed := (len(peers)+1)/2 + 1
	prevLogIndex := r.lastLogIndex()
	prevLogTerm := r.lastLogTerm()
	commitIndex := r.commitIndex
	r.mu.RUnlock()

	acks := 1 // self
	ackCh := make(chan bool, len(peers))
	for _, peer := range peers {
		go func(peer string) {
			args := &AppendEntriesArgs{
				Term:         term,
				LeaderID:     r.id,
				PrevLogIndex: prevLogIndex,
				PrevLogTerm:  prevLogTerm,
				LeaderCommit: commitIndex,
			}
			reply, err := r.transport.AppendEntries(peer, args)
			// A peer counts as reachable if it answered on the current term
			// at all - Success==false from a log-inconsistency mismatch still
			// proves it's alive and participating. Only Busy, a stale term,
			// or a transport error/timeout excludes it.
			ackCh <- err == nil && reply != nil && !reply.Busy && reply.Term == term
		}(peer)
	}

	for i := 0; i < len(peers); i++ {
		select {
		case <-ctx.Done():
			return false
		case ok := <-ackCh:
			if ok {
				acks++
			}
			if acks >= needed {
				return true
			}
		}
	}
	return acks >= needed
}

// IsLeader reports whether this replica currently believes it is leader.
func (r *Replica) IsLeader() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role == Leader
}

// IsCrashed reports whether this replica is in the Down role.
func (r *Replica) IsCrashed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role == Down
}

// Crash transitions the replica to the Down role. Neither Crash nor Restore
// resets term, log, or votedFor; Restore returns the replica to Follower,
// where it catches up through the leader's AppendEntries.
func (r *Replica) Crash() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.role == Down {
		return
	}
	r.role = Down
	for idx, pending := range r.pendingCommands {
		select {
		case pending.resultCh <- CommitResult{Index: idx, Err: ErrNotLeader}:
		default:
		}
	}
	r.pendingCommands = make(map[uint64]*pendingCommand)
	log.Printf("replica %s: crashed", r.id)
}

// Restore transitions the replica back to Follower.
func (r *Replica) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.role != Down {
		return
	}
	r.role = Follower
	r.resetElectionDeadline()
	log.Printf("replica %s: restored", r.id)
}

// TesterGetVersion exposes a filename's current replicated version for
// test assertions.
func (r *Replica) TesterGetVersion(filename string) (uint64, bool) {
	info, ok := r.files.Get(filename)
	return info.Version, ok
}

// GetState returns (term, isLeader) for test/debug introspection.
func (r *Replica) GetState() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentTerm, r.role == Leader
}

// GetCommitIndex returns the replica's current commit index.
func (r *Replica) GetCommitIndex() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commitIndex
}

// ID returns the replica's identifier.
func (r *Replica) ID() string { return r.id }

func (r *Replica) applyLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		r.mu.Lock()
		commitIndex := r.commitIndex
		lastApplied := r.lastApplied
		r.mu.Unlock()

		for lastApplied < commitIndex {
			lastApplied++

			r.mu.RLock()
			arrIdx := r.arrIndex(lastApplied)
			if arrIdx < 0 || arrIdx >= len(r.log) {
				r.mu.RUnlock()
				break
			}
			entry := r.log[arrIdx]
			r.mu.RUnlock()

			var ok bool
			if !entry.NoOp {
				ok = r.files.Apply(entry.Update)
			}

			r.mu.Lock()
			r.lastApplied = lastApplied
			if pending, found := r.pendingCommands[lastApplied]; found {
				if pending.term != entry.Term {
					ok = false
				}
				select {
				case pending.resultCh <- CommitResult{Index: lastApplied, Term: entry.Term, Ok: ok}:
				default:
				}
				delete(r.pendingCommands, lastApplied)
			}
			r.mu.Unlock()
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func (r *Replica) becomeFollower(term uint64) {
	log.Printf("replica %s: becoming follower for term %d", r.id, term)
	r.role = Follower
	r.currentTerm = term
	r.votedFor = ""
	r.leaderID = ""

	for idx, pending := range r.pendingCommands {
		select {
		case pending.resultCh <- CommitResult{Index: idx, Err: ErrNotLeader}:
		default:
		}
	}
	r.pendingCommands = make(map[uint64]*pendingCommand)
}

func (r *Replica) becomeCandidate() {
	log.Printf("replica %s: becoming candidate", r.id)
	r.role = Candidate
}

func (r *Replica) becomeLeader() {
	log.Printf("replica %s: becoming leader for term %d", r.id, r.currentTerm)
	r.role = Leader
	r.leaderID = r.id

	last := r.lastLogIndex()
	for _, peer := range r.peers {
		r.nextIndex[peer] = last + 1
		r.matchIndex[peer] = 0
	}

	r.log = append(r.log, LogEntry{Index: last + 1, Term: r.currentTerm, NoOp: true})
}

func (r *Replica) lastLogIndex() uint64 {
	if len(r.log) == 0 {
		return 0
	}
	return r.log[len(r.log)-1].Index
}

func (r *Replica) lastLogTerm() uint64 {
	if len(r.log) == 0 {
		return 0
	}
	return r.log[len(r.log)-1].Term
}

func (r *Replica) isLogUpToDate(lastLogIndex, lastLogTerm uint64) bool {
	myTerm := r.lastLogTerm()
	myIndex := r.lastLogIndex()
	if lastLogTerm != myTerm {
		return lastLogTerm > myTerm
	}
	return lastLogIndex >= myIndex
}

func (r *Replica) randomElectionTimeout() time.Duration {
	min := int64(r.config.ElectionTimeoutMin)
	max := int64(r.config.ElectionTimeoutMax)
	if max <= min {
		return time.Duration(min)
	}
	return time.Duration(min + rand.Int63n(max-min))
}

func (r *Replica) resetElectionTimer() {
	select {
	case r.electionResetCh <- struct{}{}:
	default:
	}
	r.resetElectionDeadline()
}

func (r *Replica) String() string {
	return fmt.Sprintf("replica(%s)", r.id)
}
