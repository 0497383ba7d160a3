package cft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/quorumkv/replicakv/config"
	"github.com/quorumkv/replicakv/metrics"
	"github.com/quorumkv/replicakv/statemachine"
	"github.com/quorumkv/replicakv/transport"
	"github.com/quorumkv/replicakv/wal"
	"go.uber.org/zap"
)

// Engine is one replica's Raft-style consensus state machine. A single
// mutex guards the consensus state below; handlers release it before any
// outbound RPC, while WAL saves run with it held so they stay ordered with
// the state they encode (spec.md §5).
type Engine struct {
	mu sync.Mutex

	selfID   int
	peers    []config.ReplicaDescriptor
	majority int
	senders  map[int]transport.PeerSender

	params *config.Parameters
	wal    *wal.WAL
	sm     *statemachine.StateMachine
	log    *zap.Logger
	metric *metrics.CFT

	// Durable state
	currentTerm uint64
	votedFor    *int
	entries     []wal.Entry

	// Volatile state
	role         Role
	commitIndex  uint64
	lastApplied  uint64
	lastLeaderID int // best-known leader, -1 if unknown; used for SubmitCommand's redirect hint

	lastHeartbeat  time.Time
	electionExpiry time.Duration

	nextIndex  map[int]uint64
	matchIndex map[int]uint64

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	rng *rand.Rand
}

// New constructs an Engine for selfID within cluster, loading any
// previously persisted durable state from w.
func New(selfID int, cluster config.ClusterConfig, params *config.Parameters, w *wal.WAL, sm *statemachine.StateMachine, senders map[int]transport.PeerSender, logger *zap.Logger, m *metrics.CFT) *Engine {
	term, votedFor, entries := w.Load()

	e := &Engine{
		selfID:       selfID,
		peers:        cluster.Peers(selfID),
		majority:     cluster.CFTMajority(),
		senders:      senders,
		params:       params,
		wal:          w,
		sm:           sm,
		log:          logger,
		metric:       m,
		currentTerm:  term,
		votedFor:     votedFor,
		entries:      entries,
		role:         Follower,
		lastLeaderID: -1,
		nextIndex:    make(map[int]uint64),
		matchIndex:   make(map[int]uint64),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano() + int64(selfID))),
	}
	e.lastHeartbeat = time.Now()
	e.electionExpiry = e.randomTimeout()
	return e
}

func (e *Engine) randomTimeout() time.Duration {
	min, max := e.params.ElectionTimeoutMin, e.params.ElectionTimeoutMax
	spread := max - min
	if spread <= 0 {
		return min
	}
	return min + time.Duration(e.rng.Int63n(int64(spread)))
}

func (e *Engine) lastLogIndex() uint64 {
	return uint64(len(e.entries))
}

func (e *Engine) lastLogTerm() uint64 {
	if len(e.entries) == 0 {
		return 0
	}
	return e.entries[len(e.entries)-1].Term
}

// persist saves durable state to the WAL. Callers must hold mu.
func (e *Engine) persist() error {
	return e.wal.Save(e.currentTerm, e.votedFor, e.entries)
}

// Start launches the election timer and apply-loop background tasks. It
// first calls applyCommitted; commit_index is not persisted, so a freshly
// constructed engine applies nothing here, and entries recovered from the
// WAL are applied once a leader's commit index reaches them.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stopCh = make(chan struct{})
	logLen := len(e.entries)
	term := e.currentTerm
	e.mu.Unlock()

	e.applyCommitted()

	e.wg.Add(2)
	go e.runElectionTimer(ctx)
	go e.runApplyLoop(ctx)

	e.log.Info("cft engine started", zap.Uint64("term", term), zap.Int("log_len", logLen))
}

// Stop signals every background loop to exit and waits for them.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// GetState reports the replica's current consensus state (spec.md §6).
func (e *Engine) GetState() GetStateReply {
	e.mu.Lock()
	defer e.mu.Unlock()
	return GetStateReply{
		State:       e.role.String(),
		Term:        e.currentTerm,
		NodeID:      e.selfID,
		LogLength:   uint64(len(e.entries)),
		CommitIndex: e.commitIndex,
	}
}

// GetData reads a key from the local state machine.
func (e *Engine) GetData(key string) GetDataReply {
	v, ok := e.sm.Get(key)
	if !ok {
		return GetDataReply{Success: false, Message: "not found"}
	}
	return GetDataReply{Success: true, Value: v, Message: "OK"}
}

// SetPartition reconfigures filter's block-lists.
func (e *Engine) SetPartition(filter *transport.Filter, blockedIPs []string, blockedNodeIDs []int) SetPartitionReply {
	filter.Set(blockedNodeIDs, blockedIPs)
	return SetPartitionReply{Success: true, Message: "partition updated"}
}

// GetPartitionStatus reports filter's current block-lists.
func (e *Engine) GetPartitionStatus(filter *transport.Filter) GetPartitionStatusReply {
	ids, ips := filter.Status()
	return GetPartitionStatusReply{BlockedNodeIDs: ids, BlockedIPs: ips}
}

// SubmitCommand appends cmd to the log if this replica is Leader (spec.md
// §4.3.6). It returns synchronously once the entry is durable; commitment
// is observed later via GetState/GetData.
func (e *Engine) SubmitCommand(cmd string) SubmitCommandReply {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.role != Leader {
		return SubmitCommandReply{Success: false, Message: "not the leader", LeaderID: e.lastLeaderID}
	}

	e.entries = append(e.entries, wal.Entry{Term: e.currentTerm, Command: cmd})
	if err := e.persist(); err != nil {
		e.log.Error("failed to persist submitted command", zap.Error(err))
		e.entries = e.entries[:len(e.entries)-1]
		return SubmitCommandReply{Success: false, Message: fmt.Sprintf("persistence failure: %v", err), LeaderID: e.selfID}
	}

	index := len(e.entries)
	if e.metric != nil {
		e.metric.LogLength.Set(float64(index))
	}
	return SubmitCommandReply{Success: true, Message: fmt.Sprintf("command appended at index %d", index), LeaderID: e.selfID}
}
