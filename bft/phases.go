package bft

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumkv/replicakv/poll"
	"go.uber.org/zap"
)

// HandleRequest implements the client-facing Request RPC (spec.md §4.4.2).
// Only the current primary accepts it; the current revision does not
// forward a misdirected request, it replies with the expected primary so
// the client can redirect itself.
func (e *Engine) HandleRequest(ctx context.Context, req *Request) ClientReply {
	e.mu.Lock()
	e.lastActivity = time.Now()
	if e.PrimaryID(e.view) != e.selfID {
		primary := e.PrimaryID(e.view)
		view := e.view
		e.mu.Unlock()
		return ClientReply{View: view, ReplicaID: e.selfID, Success: false, Result: fmt.Sprintf("redirect to node %d", primary)}
	}

	e.lastSeq++
	seq := e.lastSeq
	view := e.view
	digest := e.digest(req.Operation)
	e.pendingRequests[digest] = *req

	pp := PrePrepareArgs{View: view, Sequence: seq, Digest: digest, Request: *req, PrimaryID: e.selfID}
	key := poll.Key{View: view, Sequence: seq}
	e.prePrepares[key] = pp
	e.seqDigest[key] = digest
	e.prepareVotes.Vote(key, e.selfID, digest, e.quorum)
	e.mu.Unlock()

	if e.metric != nil {
		e.metric.LastSequence.Set(float64(seq))
		e.metric.PrePreparesSent.Inc()
	}

	e.broadcastPrePrepare(ctx, pp)
	e.broadcastPrepare(ctx, PrepareArgs{View: view, Sequence: seq, Digest: digest, ReplicaID: e.selfID})

	return e.awaitExecution(ctx, view, seq)
}

// awaitExecution polls for ⟨view, seq⟩'s execution up to ExecutionDeadline,
// the Go-native equivalent of the source's 80×100ms wait loop.
func (e *Engine) awaitExecution(ctx context.Context, view, seq uint64) ClientReply {
	deadline := time.Now().Add(e.params.ExecutionDeadline)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		e.mu.Lock()
		executed := e.executedUpTo[view] >= seq
		e.mu.Unlock()
		if executed {
			return ClientReply{View: view, ReplicaID: e.selfID, Success: true, Result: fmt.Sprintf("committed seq %d", seq)}
		}
		select {
		case <-ctx.Done():
			return ClientReply{View: view, ReplicaID: e.selfID, Success: false, Result: "cancelled"}
		case <-ticker.C:
		}
	}
	return ClientReply{View: view, ReplicaID: e.selfID, Success: false, Result: "timeout"}
}

// HandlePrePrepare validates a PrePrepare from the expected primary and
// broadcasts a matching Prepare (spec.md §4.4.2).
func (e *Engine) HandlePrePrepare(ctx context.Context, args *PrePrepareArgs) PrePrepareReply {
	e.mu.Lock()
	e.lastActivity = time.Now()

	if args.View != e.view || args.PrimaryID != e.PrimaryID(args.View) {
		e.mu.Unlock()
		return PrePrepareReply{Accepted: false}
	}

	expected := e.digest(args.Request.Operation)
	if args.Digest != expected {
		e.log.Warn("digest mismatch on pre-prepare", zap.Uint64("sequence", args.Sequence))
		e.mu.Unlock()
		return PrePrepareReply{Accepted: false}
	}

	key := poll.Key{View: args.View, Sequence: args.Sequence}
	e.prePrepares[key] = *args
	e.seqDigest[key] = args.Digest
	e.pendingRequests[args.Digest] = args.Request
	e.prepareVotes.Vote(key, e.selfID, args.Digest, e.quorum)
	view, seq, digest := args.View, args.Sequence, args.Digest
	e.mu.Unlock()

	e.broadcastPrepare(ctx, PrepareArgs{View: view, Sequence: seq, Digest: digest, ReplicaID: e.selfID})
	return PrePrepareReply{Accepted: true}
}

// HandlePrepare tallies Prepare votes for ⟨view, seq, digest⟩ and, on
// reaching quorum, casts this replica's own Commit vote and broadcasts it.
func (e *Engine) HandlePrepare(ctx context.Context, args *PrepareArgs) PrepareReply {
	e.mu.Lock()
	e.lastActivity = time.Now()
	if args.View != e.view {
		e.mu.Unlock()
		return PrepareReply{Accepted: false}
	}

	key := poll.Key{View: args.View, Sequence: args.Sequence}
	reached := e.prepareVotes.Vote(key, args.ReplicaID, args.Digest, e.quorum)
	if e.metric != nil {
		e.metric.PreparesReceived.Inc()
	}

	shouldCommit := false
	if reached && !e.commitVotes.HasVoted(key, e.selfID) {
		e.commitVotes.Vote(key, e.selfID, args.Digest, e.quorum)
		shouldCommit = true
	}
	view, seq, digest := args.View, args.Sequence, args.Digest
	e.mu.Unlock()

	if shouldCommit {
		e.broadcastCommit(ctx, CommitArgs{View: view, Sequence: seq, Digest: digest, ReplicaID: e.selfID})
	}
	return PrepareReply{Accepted: true}
}

// HandleCommit tallies Commit votes for ⟨view, seq, digest⟩ and, on
// reaching quorum, executes the request against the state machine, in
// strictly increasing sequence order within the view (spec.md §4.4.2,
// §5).
func (e *Engine) HandleCommit(ctx context.Context, args *CommitArgs) CommitReply {
	e.mu.Lock()
	e.lastActivity = time.Now()
	if args.View != e.view {
		e.mu.Unlock()
		return CommitReply{Accepted: false}
	}

	key := poll.Key{View: args.View, Sequence: args.Sequence}
	e.commitVotes.Vote(key, args.ReplicaID, args.Digest, e.quorum)
	if e.metric != nil {
		e.metric.CommitsReceived.Inc()
	}
	e.mu.Unlock()

	e.drainExecutable(args.View)
	return CommitReply{Accepted: true}
}

// drainExecutable executes every contiguous ⟨view, seq⟩ that has reached
// Commit quorum, starting from the next unexecuted sequence in view. It
// never executes n+1 before n.
func (e *Engine) drainExecutable(view uint64) {
	for {
		e.mu.Lock()
		next := e.executedUpTo[view] + 1
		key := poll.Key{View: view, Sequence: next}
		digest, known := e.seqDigest[key]
		if !known {
			e.mu.Unlock()
			return
		}
		if e.commitVotes.Count(key, digest) < e.quorum {
			e.mu.Unlock()
			return
		}
		request, havePending := e.pendingRequests[digest]
		e.executedUpTo[view] = next
		// Apply while still holding mu so concurrent drains cannot apply
		// sequence n+1 before sequence n's Apply has run.
		var result string
		if havePending {
			_, result = e.sm.Apply(request.Operation)
		}
		e.mu.Unlock()

		if e.metric != nil {
			e.metric.RequestsExecuted.Inc()
		}
		if !havePending {
			continue
		}
		e.log.Info("executed request", zap.Uint64("view", view), zap.Uint64("sequence", next), zap.String("operation", request.Operation), zap.String("result", result))
	}
}
