package bft

import (
	"context"
	"time"

	"github.com/quorumkv/replicakv/poll"
	"go.uber.org/zap"
)

// runViewChangeTimer checks once a second whether a non-primary replica
// has seen no protocol traffic for ViewChangeTimeout, and if so initiates
// a view change (spec.md §4.4.3). Any inbound Request, PrePrepare, Prepare
// or Commit resets the activity clock, whichever replica sent it and
// whether or not it is accepted; traffic is not restricted to the primary.
func (e *Engine) runViewChangeTimer(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			idle := time.Since(e.lastActivity) > e.params.ViewChangeTimeout
			isBackup := e.PrimaryID(e.view) != e.selfID
			normal := e.state == Normal
			e.mu.Unlock()
			if normal && isBackup && idle {
				e.initiateViewChange(ctx)
			}
		}
	}
}

// initiateViewChange moves this replica into the view-change state and
// broadcasts its vote for view+1.
func (e *Engine) initiateViewChange(ctx context.Context) {
	e.mu.Lock()
	e.state = ViewChanging
	newView := e.view + 1
	lastSeq := e.lastSeq
	e.viewChangeVotes.Vote(poll.Key{View: newView}, e.selfID, "vote", e.quorum)
	e.mu.Unlock()

	e.log.Warn("primary timeout, initiating view change", zap.Uint64("new_view", newView))
	e.broadcastViewChange(ctx, ViewChangeArgs{NewView: newView, LastSeq: lastSeq, ReplicaID: e.selfID})
}

// HandleViewChange tallies ViewChange votes for NewView. Once the local
// vote count reaches quorum, and this replica is the primary of NewView,
// it assembles and broadcasts the NewView message that actually completes
// the transition (spec.md §9): a replica that is not the new primary
// waits for that NewView rather than switching on vote-count alone, so
// in-flight sequences are never silently dropped at the view boundary.
func (e *Engine) HandleViewChange(ctx context.Context, args *ViewChangeArgs) ViewChangeReply {
	e.mu.Lock()
	if args.NewView <= e.view {
		e.mu.Unlock()
		return ViewChangeReply{Accepted: false}
	}

	key := poll.Key{View: args.NewView}
	reached := e.viewChangeVotes.Vote(key, args.ReplicaID, "vote", e.quorum)
	iAmNewPrimary := e.PrimaryID(args.NewView) == e.selfID
	alreadyMoved := e.view >= args.NewView

	var proof []int
	var reproposals []Reproposal
	if reached && iAmNewPrimary && !alreadyMoved {
		proof = e.collectedViewChangeVoters(args.NewView)
		reproposals = e.unfinishedReproposals(args.NewView)
	}
	newView := args.NewView
	e.mu.Unlock()

	if reached && iAmNewPrimary && !alreadyMoved {
		e.broadcastNewView(ctx, NewViewArgs{NewView: newView, Proof: proof, Reproposals: reproposals})
		e.adoptNewView(newView, reproposals)
	}

	return ViewChangeReply{Accepted: true}
}

// HandleNewView validates the quorum proof a new primary presents and
// adopts newView, re-admitting any reproposed in-flight sequences so they
// can reach Prepare/Commit quorum under the new view without the client
// having to resubmit.
func (e *Engine) HandleNewView(ctx context.Context, args *NewViewArgs) NewViewReply {
	e.mu.Lock()
	if args.NewView <= e.view {
		e.mu.Unlock()
		return NewViewReply{Accepted: false}
	}
	if len(args.Proof) < e.quorum {
		e.mu.Unlock()
		return NewViewReply{Accepted: false}
	}
	e.mu.Unlock()

	e.adoptNewView(args.NewView, args.Reproposals)
	return NewViewReply{Accepted: true}
}

// adoptNewView switches to newView, re-registers every reproposed
// pre-prepare as accepted under the new view, and resumes normal
// operation.
func (e *Engine) adoptNewView(newView uint64, reproposals []Reproposal) {
	e.mu.Lock()
	if newView <= e.view {
		e.mu.Unlock()
		return
	}
	e.view = newView
	e.state = Normal
	e.lastActivity = time.Now()
	for _, rp := range reproposals {
		key := poll.Key{View: newView, Sequence: rp.Sequence}
		e.prePrepares[key] = PrePrepareArgs{View: newView, Sequence: rp.Sequence, Digest: rp.Digest, Request: rp.Request, PrimaryID: e.PrimaryID(newView)}
		e.seqDigest[key] = rp.Digest
		e.pendingRequests[rp.Digest] = rp.Request
		if rp.Sequence > e.lastSeq {
			e.lastSeq = rp.Sequence
		}
		e.prepareVotes.Vote(key, e.selfID, rp.Digest, e.quorum)
	}
	e.mu.Unlock()

	if e.metric != nil {
		e.metric.View.Set(float64(newView))
		e.metric.ViewChanges.Inc()
	}
	e.log.Info("view change complete", zap.Uint64("view", newView), zap.Int("reproposals", len(reproposals)))

	for _, rp := range reproposals {
		e.broadcastPrepare(context.Background(), PrepareArgs{View: newView, Sequence: rp.Sequence, Digest: rp.Digest, ReplicaID: e.selfID})
	}
}

// collectedViewChangeVoters returns the actual replica ids whose ViewChange
// votes were tallied for newView, read straight out of e.viewChangeVotes,
// so the NewView proof reflects who really voted rather than a placeholder.
func (e *Engine) collectedViewChangeVoters(newView uint64) []int {
	return e.viewChangeVotes.Voters(poll.Key{View: newView})
}

// unfinishedReproposals returns every pre-prepare this replica holds for
// the current view that has not yet been executed, to carry forward into
// newView.
func (e *Engine) unfinishedReproposals(newView uint64) []Reproposal {
	var out []Reproposal
	executed := e.executedUpTo[e.view]
	for key, pp := range e.prePrepares {
		if key.View != e.view || key.Sequence <= executed {
			continue
		}
		out = append(out, Reproposal{Sequence: key.Sequence, Digest: pp.Digest, Request: pp.Request})
	}
	return out
}
