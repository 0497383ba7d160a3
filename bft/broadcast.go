package bft

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// broadcastPrePrepare fans a PrePrepare out to every peer in parallel.
// Replies carry only an accepted flag the primary doesn't act on; every
// transport failure is silently treated as "no reply" per spec.md §9.
func (e *Engine) broadcastPrePrepare(ctx context.Context, args PrePrepareArgs) {
	callCtx, cancel := context.WithTimeout(ctx, e.params.BroadcastTimeout)
	defer cancel()
	var eg errgroup.Group
	for _, p := range e.peers {
		sender, ok := e.senders[p.ID]
		if !ok {
			continue
		}
		eg.Go(func() error {
			var reply PrePrepareReply
			sender.Send(callCtx, "BFT.PrePrepare", &args, &reply)
			return nil
		})
	}
	_ = eg.Wait()
}

func (e *Engine) broadcastPrepare(ctx context.Context, args PrepareArgs) {
	callCtx, cancel := context.WithTimeout(ctx, e.params.BroadcastTimeout)
	defer cancel()
	var eg errgroup.Group
	for _, p := range e.peers {
		sender, ok := e.senders[p.ID]
		if !ok {
			continue
		}
		eg.Go(func() error {
			var reply PrepareReply
			sender.Send(callCtx, "BFT.Prepare", &args, &reply)
			return nil
		})
	}
	_ = eg.Wait()
}

func (e *Engine) broadcastCommit(ctx context.Context, args CommitArgs) {
	callCtx, cancel := context.WithTimeout(ctx, e.params.BroadcastTimeout)
	defer cancel()
	var eg errgroup.Group
	for _, p := range e.peers {
		sender, ok := e.senders[p.ID]
		if !ok {
			continue
		}
		eg.Go(func() error {
			var reply CommitReply
			sender.Send(callCtx, "BFT.Commit", &args, &reply)
			return nil
		})
	}
	_ = eg.Wait()
}

func (e *Engine) broadcastViewChange(ctx context.Context, args ViewChangeArgs) {
	callCtx, cancel := context.WithTimeout(ctx, e.params.BroadcastTimeout)
	defer cancel()
	var eg errgroup.Group
	for _, p := range e.peers {
		sender, ok := e.senders[p.ID]
		if !ok {
			continue
		}
		eg.Go(func() error {
			var reply ViewChangeReply
			sender.Send(callCtx, "BFT.ViewChange", &args, &reply)
			return nil
		})
	}
	_ = eg.Wait()
}

func (e *Engine) broadcastNewView(ctx context.Context, args NewViewArgs) {
	callCtx, cancel := context.WithTimeout(ctx, e.params.BroadcastTimeout)
	defer cancel()
	var eg errgroup.Group
	for _, p := range e.peers {
		sender, ok := e.senders[p.ID]
		if !ok {
			continue
		}
		eg.Go(func() error {
			var reply NewViewReply
			sender.Send(callCtx, "BFT.NewView", &args, &reply)
			return nil
		})
	}
	_ = eg.Wait()
}
