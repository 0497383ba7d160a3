// Package metrics wraps the prometheus collectors a replica exposes over
// /metrics, grouped the way the teacher's Metrics{Registry} wrapper groups
// its own collector set, but shaped around spec.md's CFT/BFT observables
// instead of sampling-consensus ones.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// CFT holds the collectors meaningful to a Raft-style replica: its current
// term, role, log length, commit index, and the vote/heartbeat traffic it
// has driven (spec.md §4.3).
type CFT struct {
	Term          prometheus.Gauge
	Role          prometheus.Gauge // 0=follower 1=candidate 2=leader
	LogLength     prometheus.Gauge
	CommitIndex   prometheus.Gauge
	LastApplied   prometheus.Gauge
	VotesGranted  prometheus.Counter
	Heartbeats    prometheus.Counter
	ElectionsWon  prometheus.Counter
	ElectionsLost prometheus.Counter
}

// NewCFT builds and registers the CFT collector set under reg.
func NewCFT(reg prometheus.Registerer) (*CFT, error) {
	m := &CFT{
		Term:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "cft_term", Help: "current term"}),
		Role:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "cft_role", Help: "0=follower 1=candidate 2=leader"}),
		LogLength:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "cft_log_length", Help: "entries in the replicated log"}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{Name: "cft_commit_index", Help: "highest committed log index"}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{Name: "cft_last_applied", Help: "highest applied log index"}),
		VotesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cft_votes_granted_total", Help: "votes granted to other candidates",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cft_heartbeats_sent_total", Help: "AppendEntries heartbeats sent as leader",
		}),
		ElectionsWon: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cft_elections_won_total", Help: "elections won",
		}),
		ElectionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cft_elections_lost_total", Help: "elections started but not won",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.Term, m.Role, m.LogLength, m.CommitIndex, m.LastApplied,
		m.VotesGranted, m.Heartbeats, m.ElectionsWon, m.ElectionsLost,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// BFT holds the collectors meaningful to a PBFT-style replica: its view,
// highest sequence number assigned, three-phase vote traffic, and
// view-change activity (spec.md §4.4).
type BFT struct {
	View             prometheus.Gauge
	LastSequence     prometheus.Gauge
	PrePreparesSent  prometheus.Counter
	PreparesReceived prometheus.Counter
	CommitsReceived  prometheus.Counter
	RequestsExecuted prometheus.Counter
	ViewChanges      prometheus.Counter
}

// NewBFT builds and registers the BFT collector set under reg.
func NewBFT(reg prometheus.Registerer) (*BFT, error) {
	m := &BFT{
		View:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "bft_view", Help: "current view number"}),
		LastSequence: prometheus.NewGauge(prometheus.GaugeOpts{Name: "bft_last_sequence", Help: "highest sequence number assigned"}),
		PrePreparesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bft_pre_prepares_sent_total", Help: "PrePrepare messages sent as primary",
		}),
		PreparesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bft_prepares_received_total", Help: "Prepare messages received",
		}),
		CommitsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bft_commits_received_total", Help: "Commit messages received",
		}),
		RequestsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bft_requests_executed_total", Help: "client requests executed",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bft_view_changes_total", Help: "view changes completed",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.View, m.LastSequence, m.PrePreparesSent, m.PreparesReceived,
		m.CommitsReceived, m.RequestsExecuted, m.ViewChanges,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
