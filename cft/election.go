package cft

import (
	"context"
	"time"

	"github.com/quorumkv/replicakv/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runElectionTimer checks every 10ms whether this replica's election
// timeout has elapsed; leaders never trigger it (spec.md §4.3.1).
func (e *Engine) runElectionTimer(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.role == Leader {
				e.mu.Unlock()
				continue
			}
			elapsed := time.Since(e.lastHeartbeat)
			shouldElect := elapsed >= e.electionExpiry
			e.mu.Unlock()
			if shouldElect {
				e.startElection(ctx)
			}
		}
	}
}

// resetElectionTimer re-arms the timeout with a fresh random draw. Callers
// must hold mu.
func (e *Engine) resetElectionTimer() {
	e.lastHeartbeat = time.Now()
	e.electionExpiry = e.randomTimeout()
}

// startElection transitions Follower/Candidate to Candidate, persists a
// vote for self, and fans RequestVote out to every peer in parallel
// (spec.md §4.3.2).
func (e *Engine) startElection(ctx context.Context) {
	e.mu.Lock()
	e.role = Candidate
	e.currentTerm++
	self := e.selfID
	e.votedFor = &self
	e.resetElectionTimer()
	term := e.currentTerm
	args := RequestVoteArgs{
		Term:         term,
		CandidateID:  e.selfID,
		LastLogIndex: e.lastLogIndex(),
		LastLogTerm:  e.lastLogTerm(),
	}
	if err := e.persist(); err != nil {
		e.log.Error("failed to persist vote for self", zap.Error(err))
	}
	peers := append([]int(nil), peerIDs(e.peers)...)
	e.mu.Unlock()

	e.log.Info("starting election", zap.Uint64("term", term))

	type voteResult struct {
		granted bool
		term    uint64
		ok      bool
	}
	replies := make([]voteResult, len(peers))

	callCtx, cancel := context.WithTimeout(ctx, e.params.RPCTimeout)
	defer cancel()

	var eg errgroup.Group
	for i, peerID := range peers {
		i, peerID := i, peerID
		sender, ok := e.senders[peerID]
		if !ok {
			continue
		}
		eg.Go(func() error {
			var reply RequestVoteReply
			ok := sender.Send(callCtx, "CFT.RequestVote", &args, &reply)
			replies[i] = voteResult{granted: reply.VoteGranted, term: reply.Term, ok: ok}
			return nil
		})
	}
	_ = eg.Wait()

	votes := 1 // self
	highestTerm := term
	for _, r := range replies {
		if !r.ok {
			continue
		}
		if r.term > highestTerm {
			highestTerm = r.term
		}
		if r.granted {
			votes++
		}
	}
	if highestTerm > term {
		e.stepDown(highestTerm)
		return
	}
	if votes >= e.majority {
		e.becomeLeader(ctx, term)
		return
	}
	e.log.Info("election did not reach quorum", zap.Uint64("term", term), zap.Int("votes", votes))
}

func peerIDs(peers []config.ReplicaDescriptor) []int {
	ids := make([]int, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	return ids
}

// becomeLeader transitions a Candidate that won its own term to Leader
// and starts the heartbeat loop.
func (e *Engine) becomeLeader(ctx context.Context, term uint64) {
	e.mu.Lock()
	if e.currentTerm != term || e.role != Candidate {
		e.mu.Unlock()
		return
	}
	e.role = Leader
	e.lastLeaderID = e.selfID
	logLen := e.lastLogIndex()
	for _, p := range e.peers {
		e.nextIndex[p.ID] = logLen + 1
		e.matchIndex[p.ID] = 0
	}
	e.mu.Unlock()

	e.log.Info("won election", zap.Uint64("term", term))
	if e.metric != nil {
		e.metric.ElectionsWon.Inc()
		e.metric.Role.Set(2)
	}

	e.wg.Add(1)
	go e.runHeartbeats(ctx)
}

// stepDown reverts to Follower on discovering a higher term.
func (e *Engine) stepDown(term uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if term <= e.currentTerm {
		return
	}
	e.log.Info("stepping down", zap.Uint64("seen_term", term), zap.Uint64("current_term", e.currentTerm))
	e.currentTerm = term
	e.votedFor = nil
	e.role = Follower
	e.resetElectionTimer()
	if err := e.persist(); err != nil {
		e.log.Error("failed to persist step-down", zap.Error(err))
	}
	if e.metric != nil {
		e.metric.Role.Set(0)
		e.metric.Term.Set(float64(term))
	}
}

// HandleRequestVote implements the RequestVote RPC (spec.md §4.3.2).
func (e *Engine) HandleRequestVote(args *RequestVoteArgs) RequestVoteReply {
	e.mu.Lock()
	defer e.mu.Unlock()

	if args.Term < e.currentTerm {
		return RequestVoteReply{Term: e.currentTerm, VoteGranted: false}
	}

	if args.Term > e.currentTerm {
		e.currentTerm = args.Term
		e.votedFor = nil
		e.role = Follower
		if err := e.persist(); err != nil {
			e.log.Error("failed to persist term update", zap.Error(err))
		}
	}

	lastTerm, lastIndex := e.lastLogTerm(), e.lastLogIndex()
	logOK := args.LastLogTerm > lastTerm || (args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	granted := false
	if (e.votedFor == nil || *e.votedFor == args.CandidateID) && logOK {
		granted = true
		candidateID := args.CandidateID
		e.votedFor = &candidateID
		e.resetElectionTimer()
		if err := e.persist(); err != nil {
			e.log.Error("failed to persist granted vote", zap.Error(err))
		}
		if e.metric != nil {
			e.metric.VotesGranted.Inc()
		}
		e.log.Info("granted vote", zap.Int("candidate_id", args.CandidateID), zap.Uint64("term", args.Term))
	}

	return RequestVoteReply{Term: e.currentTerm, VoteGranted: granted}
}

// HandlePing implements the trivial liveness RPC.
func (e *Engine) HandlePing(args *PingArgs) PingReply {
	return PingReply{ReceiverID: e.selfID, Message: "pong"}
}
