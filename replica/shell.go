// Package replica wires the transport layer to exactly one consensus
// engine (spec.md §2): it never runs CFT and BFT together, it only
// chooses which one to construct from config.Parameters.Engine.
package replica

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quorumkv/replicakv/bft"
	"github.com/quorumkv/replicakv/cft"
	"github.com/quorumkv/replicakv/config"
	"github.com/quorumkv/replicakv/log"
	"github.com/quorumkv/replicakv/metrics"
	"github.com/quorumkv/replicakv/statemachine"
	"github.com/quorumkv/replicakv/transport"
	"github.com/quorumkv/replicakv/wal"
	"go.uber.org/zap"
)

// ErrUnknownEngine is returned when config.Parameters.Engine names neither
// CFT nor BFT.
var ErrUnknownEngine = errors.New("replica: unknown engine kind")

// Shell is the process-level wiring for one replica: the transport server
// and client, the partition filter, the chosen consensus engine, and the
// prometheus registry that engine's collectors are registered into.
type Shell struct {
	selfID int
	self   config.ReplicaDescriptor
	params *config.Parameters
	logger *zap.Logger

	filter        *transport.Filter
	server        *transport.Server
	metricsServer *http.Server
	registry      *prometheus.Registry

	cftEngine *cft.Engine
	bftEngine *bft.Engine
}

// New builds a Shell for selfID against cluster, constructing whichever
// engine params.Engine names. dataDir and the WAL are only relevant to
// CFT; BFT holds no durable log (spec.md §4.4 carries no WAL requirement).
func New(selfID int, cluster config.ClusterConfig, params *config.Parameters, logger *zap.Logger) (*Shell, error) {
	self, err := cluster.Self(selfID)
	if err != nil {
		return nil, err
	}

	filter := transport.NewFilter()
	registry := prometheus.NewRegistry()
	httpClient := &http.Client{Timeout: params.RPCTimeout}
	rpcClient := transport.NewClient(httpClient)

	senders := make(map[int]transport.PeerSender)
	for _, peer := range cluster.Peers(selfID) {
		senders[peer.ID] = transport.NewPeerSender(rpcClient, peer, filter, params.RPCTimeout)
	}

	s := &Shell{
		selfID:   selfID,
		self:     self,
		params:   params,
		logger:   log.ForReplica(logger, selfID, string(params.Engine)),
		filter:   filter,
		registry: registry,
	}

	server := transport.NewServer(filter, s.logger)

	switch params.Engine {
	case config.CFT:
		w, err := wal.New(selfID, params.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening wal: %w", err)
		}
		m, err := metrics.NewCFT(registry)
		if err != nil {
			return nil, fmt.Errorf("registering cft metrics: %w", err)
		}
		sm := statemachine.New()
		s.cftEngine = cft.New(selfID, cluster, params, w, sm, senders, s.logger, m)
		if err := server.RegisterService(cft.NewService(s.cftEngine, filter), "CFT"); err != nil {
			return nil, fmt.Errorf("registering cft rpc service: %w", err)
		}
	case config.BFT:
		m, err := metrics.NewBFT(registry)
		if err != nil {
			return nil, fmt.Errorf("registering bft metrics: %w", err)
		}
		sm := statemachine.New()
		s.bftEngine = bft.New(selfID, cluster, params, sm, senders, s.logger, m)
		if err := server.RegisterService(bft.NewService(s.bftEngine), "BFT"); err != nil {
			return nil, fmt.Errorf("registering bft rpc service: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, params.Engine)
	}

	s.server = server

	peerIDs := make([]int, 0, len(cluster.Replicas)-1)
	for _, p := range cluster.Peers(selfID) {
		peerIDs = append(peerIDs, p.ID)
	}
	s.logger.Info("replica configured",
		zap.Int("node_id", selfID),
		zap.String("engine", string(params.Engine)),
		zap.Ints("peers", peerIDs),
	)

	return s, nil
}

// Start launches the consensus engine's background loops and begins
// serving RPC and metrics traffic. It blocks until the RPC server is shut
// down (see Stop) or fails; cancelling ctx stops the engine's loops but not
// the server.
func (s *Shell) Start(ctx context.Context) error {
	if s.cftEngine != nil {
		s.cftEngine.Start(ctx)
	}
	if s.bftEngine != nil {
		s.bftEngine.Start(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr(s.self), Handler: mux}
	s.metricsServer = metricsServer
	go func() {
		_ = metricsServer.ListenAndServe()
	}()

	return s.server.Serve(s.self.Address())
}

// Stop drains the RPC and metrics listeners and halts the engine's
// background loops. Safe to call once, typically from the signal handler
// that cancelled Start's context.
func (s *Shell) Stop(ctx context.Context) error {
	if s.cftEngine != nil {
		s.cftEngine.Stop()
	}
	if s.bftEngine != nil {
		s.bftEngine.Stop()
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	return s.server.Shutdown(ctx)
}

// NewClientID returns a fresh correlation id for a BFT client request,
// threaded through Request.ClientID and structured log fields.
func NewClientID() string {
	return uuid.NewString()
}

// metricsAddr exposes /metrics 1000 ports above the replica's RPC port.
func metricsAddr(self config.ReplicaDescriptor) string {
	return fmt.Sprintf("%s:%d", self.IP, self.Port+1000)
}
