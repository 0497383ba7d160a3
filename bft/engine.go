package bft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/quorumkv/replicakv/config"
	"github.com/quorumkv/replicakv/metrics"
	"github.com/quorumkv/replicakv/poll"
	"github.com/quorumkv/replicakv/statemachine"
	"github.com/quorumkv/replicakv/transport"
	"go.uber.org/zap"
)

const maliciousDigest = "malicious"

// Engine is one replica's PBFT-style consensus state. A single mutex
// guards every field below; handlers release it before any outbound RPC
// (spec.md §5).
type Engine struct {
	mu sync.Mutex

	selfID  int
	n       int // cluster size, 3f+1
	f       int
	quorum  int // 2f+1
	peers   []config.ReplicaDescriptor
	senders map[int]transport.PeerSender

	sm     *statemachine.StateMachine
	log    *zap.Logger
	metric *metrics.BFT
	params *config.Parameters

	view      uint64
	lastSeq   uint64
	state     State
	malicious bool

	prePrepares     map[poll.Key]PrePrepareArgs
	pendingRequests map[string]Request // digest -> request
	prepareVotes    *poll.Set
	commitVotes     *poll.Set
	executedUpTo    map[uint64]uint64 // view -> highest contiguously executed seq
	seqDigest       map[poll.Key]string

	viewChangeVotes *poll.Set
	lastActivity    time.Time

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a BFT Engine for selfID in a cluster tolerating f
// Byzantine replicas. N is the size of the cluster file; nothing checks
// that it equals 3f+1.
func New(selfID int, cluster config.ClusterConfig, params *config.Parameters, sm *statemachine.StateMachine, senders map[int]transport.PeerSender, logger *zap.Logger, m *metrics.BFT) *Engine {
	f := params.F
	return &Engine{
		selfID:          selfID,
		n:               cluster.N(),
		f:               f,
		quorum:          config.BFTQuorum(f),
		peers:           cluster.Peers(selfID),
		senders:         senders,
		sm:              sm,
		log:             logger,
		metric:          m,
		params:          params,
		state:           Normal,
		malicious:       params.Malicious,
		prePrepares:     make(map[poll.Key]PrePrepareArgs),
		pendingRequests: make(map[string]Request),
		prepareVotes:    poll.NewSet(),
		commitVotes:     poll.NewSet(),
		executedUpTo:    make(map[uint64]uint64),
		seqDigest:       make(map[poll.Key]string),
		viewChangeVotes: poll.NewSet(),
		lastActivity:    time.Now(),
	}
}

// PrimaryID returns the expected primary for view v: replica (v mod N)+1,
// 1-indexed (spec.md §4.4.1).
func (e *Engine) PrimaryID(view uint64) int {
	return int(view%uint64(e.n)) + 1
}

func (e *Engine) digest(operation string) string {
	if e.malicious {
		return maliciousDigest
	}
	sum := sha256.Sum256([]byte(operation))
	return hex.EncodeToString(sum[:])
}

// SetMalicious flips this replica's digest function to always return a
// bogus value, the test affordance of spec.md §4.4.4.
func (e *Engine) SetMalicious(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.malicious = v
	e.log.Warn("malicious mode toggled", zap.Bool("malicious", v))
}

// Start launches the view-change timeout loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runViewChangeTimer(ctx)

	e.log.Info("bft engine started", zap.Uint64("view", e.view), zap.Int("primary_id", e.PrimaryID(e.view)))
}

// Stop signals the background loop to exit and waits for it.
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

// GetStatus reports the replica's current BFT state (spec.md §6).
func (e *Engine) GetStatus() GetStatusReply {
	e.mu.Lock()
	defer e.mu.Unlock()
	primary := e.PrimaryID(e.view)
	return GetStatusReply{
		View:         e.view,
		LastSequence: e.lastSeq,
		PrimaryID:    primary,
		ReplicaID:    e.selfID,
		IsPrimary:    primary == e.selfID,
		State:        e.state.String(),
	}
}
