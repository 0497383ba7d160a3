package transport

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	"go.uber.org/zap"
)

// Server is the JSON-RPC/HTTP endpoint a replica listens on. It wraps a
// gorilla/rpc server with the partition filter: any request whose source
// IP is currently blocked is rejected before it reaches a registered
// service's receiver.
type Server struct {
	rpcServer *rpc.Server
	filter    *Filter
	logger    *zap.Logger
	http      *http.Server
}

// NewServer returns a Server registered with the JSON codec, ready for
// RegisterService calls.
func NewServer(filter *Filter, logger *zap.Logger) *Server {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json.NewCodec(), "application/json")
	return &Server{rpcServer: rpcServer, filter: filter, logger: logger}
}

// RegisterService exposes receiver's exported methods under name, the way
// a CFT or BFT engine's RPC surface is wired to the HTTP endpoint.
func (s *Server) RegisterService(receiver any, name string) error {
	return s.rpcServer.RegisterService(receiver, name)
}

// Serve starts accepting connections on addr. It blocks until the server
// is shut down or fails.
func (s *Server) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/rpc", s.partitionGate(s.rpcServer))
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight handlers and stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) partitionGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !s.filter.AllowsSourceIP(ip) {
			if s.logger != nil {
				s.logger.Debug("rejecting inbound rpc from blocked peer", zap.String("ip", ip))
			}
			http.Error(w, "unavailable: partitioned", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
