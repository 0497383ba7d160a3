package cft

import (
	"context"
	"time"

	"github.com/quorumkv/replicakv/wal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runHeartbeats drives the leader's AppendEntries loop every
// HeartbeatInterval until it steps down.
func (e *Engine) runHeartbeats(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.params.HeartbeatInterval)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		if e.role != Leader {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.sendHeartbeatRound(ctx)
		e.updateCommitIndex()

		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sendHeartbeatRound sends one AppendEntries RPC to every peer, in
// parallel, using a snapshot of the leader's log and next_index table.
func (e *Engine) sendHeartbeatRound(ctx context.Context) {
	e.mu.Lock()
	if e.role != Leader {
		e.mu.Unlock()
		return
	}
	term := e.currentTerm
	commitIndex := e.commitIndex
	logSnapshot := append([]wal.Entry(nil), e.entries...)
	nextIndexSnapshot := make(map[int]uint64, len(e.nextIndex))
	for id, idx := range e.nextIndex {
		nextIndexSnapshot[id] = idx
	}
	peers := append([]int(nil), peerIDs(e.peers)...)
	e.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, e.params.RPCTimeout)
	defer cancel()

	type result struct {
		peerID int
		ok     bool
		reply  AppendEntriesReply
		sentTo uint64 // len(logSnapshot) at send time
	}
	results := make([]result, len(peers))

	var eg errgroup.Group
	for i, peerID := range peers {
		i, peerID := i, peerID
		results[i] = result{peerID: peerID}
		sender, ok := e.senders[peerID]
		if !ok {
			continue
		}
		nextIdx := nextIndexSnapshot[peerID]
		if nextIdx == 0 {
			nextIdx = 1
		}

		prevLogIndex := nextIdx - 1
		var prevLogTerm uint64
		if prevLogIndex > 0 && prevLogIndex <= uint64(len(logSnapshot)) {
			prevLogTerm = logSnapshot[prevLogIndex-1].Term
		}
		var entries []wal.Entry
		if nextIdx-1 < uint64(len(logSnapshot)) {
			entries = append(entries, logSnapshot[nextIdx-1:]...)
		}

		args := AppendEntriesArgs{
			Term:         term,
			LeaderID:     e.selfID,
			PrevLogIndex: prevLogIndex,
			PrevLogTerm:  prevLogTerm,
			Entries:      entries,
			LeaderCommit: commitIndex,
		}

		eg.Go(func() error {
			var reply AppendEntriesReply
			ok := sender.Send(callCtx, "CFT.AppendEntries", &args, &reply)
			results[i] = result{peerID: peerID, ok: ok, reply: reply, sentTo: uint64(len(logSnapshot))}
			return nil
		})
		if e.metric != nil {
			e.metric.Heartbeats.Inc()
		}
	}
	_ = eg.Wait()

	highestTerm := term
	for _, r := range results {
		if r.ok && r.reply.Term > highestTerm {
			highestTerm = r.reply.Term
		}
	}
	if highestTerm > term {
		e.stepDown(highestTerm)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != Leader || e.currentTerm != term {
		return
	}
	for _, r := range results {
		if !r.ok {
			continue
		}
		if r.reply.Success {
			e.nextIndex[r.peerID] = r.sentTo + 1
			e.matchIndex[r.peerID] = r.sentTo
		} else if e.nextIndex[r.peerID] > 1 {
			e.nextIndex[r.peerID]--
		}
	}
}

// updateCommitIndex advances commit_index to the largest N such that a
// majority of match_index values are >= N and log[N].term is the current
// term (spec.md §4.3.4).
func (e *Engine) updateCommitIndex() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != Leader {
		return
	}
	for n := uint64(len(e.entries)); n > e.commitIndex; n-- {
		if e.entries[n-1].Term != e.currentTerm {
			continue
		}
		count := 1
		for _, p := range e.peers {
			if e.matchIndex[p.ID] >= n {
				count++
			}
		}
		if count >= e.majority {
			e.commitIndex = n
			if e.metric != nil {
				e.metric.CommitIndex.Set(float64(n))
			}
			e.log.Info("advanced commit index", zap.Uint64("commit_index", n))
			return
		}
	}
}

// HandleAppendEntries implements the AppendEntries RPC (spec.md §4.3.3).
func (e *Engine) HandleAppendEntries(args *AppendEntriesArgs) AppendEntriesReply {
	e.mu.Lock()
	defer e.mu.Unlock()

	if args.Term < e.currentTerm {
		return AppendEntriesReply{Term: e.currentTerm, Success: false}
	}

	if args.Term > e.currentTerm {
		e.currentTerm = args.Term
		e.votedFor = nil
		if err := e.persist(); err != nil {
			e.log.Error("failed to persist term update", zap.Error(err))
		}
	}

	if e.role != Follower {
		e.log.Info("stepping down to follower on AppendEntries", zap.Int("leader_id", args.LeaderID))
		e.role = Follower
	}
	e.lastLeaderID = args.LeaderID
	e.resetElectionTimer()

	if args.PrevLogIndex > 0 {
		if uint64(len(e.entries)) < args.PrevLogIndex {
			return AppendEntriesReply{Term: e.currentTerm, Success: false}
		}
		if e.entries[args.PrevLogIndex-1].Term != args.PrevLogTerm {
			e.entries = e.entries[:args.PrevLogIndex-1]
			if err := e.persist(); err != nil {
				e.log.Error("failed to persist truncated log", zap.Error(err))
			}
			return AppendEntriesReply{Term: e.currentTerm, Success: false}
		}
	}

	modified := false
	for i, entry := range args.Entries {
		index := args.PrevLogIndex + uint64(i) + 1
		if index <= uint64(len(e.entries)) {
			if e.entries[index-1].Term != entry.Term {
				e.entries = e.entries[:index-1]
				e.entries = append(e.entries, entry)
				modified = true
			}
		} else {
			e.entries = append(e.entries, entry)
			modified = true
		}
	}
	if modified {
		if err := e.persist(); err != nil {
			e.log.Error("failed to persist replicated entries", zap.Error(err))
		}
		if e.metric != nil {
			e.metric.LogLength.Set(float64(len(e.entries)))
		}
	}

	if args.LeaderCommit > e.commitIndex {
		logLen := uint64(len(e.entries))
		if args.LeaderCommit < logLen {
			e.commitIndex = args.LeaderCommit
		} else {
			e.commitIndex = logLen
		}
		if e.metric != nil {
			e.metric.CommitIndex.Set(float64(e.commitIndex))
		}
	}

	return AppendEntriesReply{Term: e.currentTerm, Success: true}
}

// runApplyLoop advances last_applied toward commit_index, one entry at a
// time, every 10ms (spec.md §4.3.5).
func (e *Engine) runApplyLoop(ctx context.Context) {
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
			e.applyCommitted()
		}
	}
}

// applyCommitted applies every entry between last_applied and
// commit_index, in strict order, one at a time.
func (e *Engine) applyCommitted() {
	for {
		e.mu.Lock()
		if e.lastApplied >= e.commitIndex || e.lastApplied >= uint64(len(e.entries)) {
			e.mu.Unlock()
			return
		}
		e.lastApplied++
		idx := e.lastApplied
		command := e.entries[idx-1].Command
		e.mu.Unlock()

		success, result := e.sm.Apply(command)
		e.log.Info("applied log entry", zap.Uint64("index", idx), zap.String("command", command), zap.Bool("success", success), zap.String("result", result))

		e.mu.Lock()
		if e.metric != nil {
			e.metric.LastApplied.Set(float64(idx))
		}
		e.mu.Unlock()
	}
}
