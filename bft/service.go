package bft

import "net/http"

// Service adapts an Engine to gorilla/rpc's JSON-RPC calling convention,
// mirroring cft.Service.
type Service struct {
	engine *Engine
}

// NewService wraps engine for RPC registration.
func NewService(engine *Engine) *Service {
	return &Service{engine: engine}
}

func (s *Service) Request(r *http.Request, args *Request, reply *ClientReply) error {
	*reply = s.engine.HandleRequest(r.Context(), args)
	return nil
}

func (s *Service) PrePrepare(r *http.Request, args *PrePrepareArgs, reply *PrePrepareReply) error {
	*reply = s.engine.HandlePrePrepare(r.Context(), args)
	return nil
}

func (s *Service) Prepare(r *http.Request, args *PrepareArgs, reply *PrepareReply) error {
	*reply = s.engine.HandlePrepare(r.Context(), args)
	return nil
}

func (s *Service) Commit(r *http.Request, args *CommitArgs, reply *CommitReply) error {
	*reply = s.engine.HandleCommit(r.Context(), args)
	return nil
}

func (s *Service) ViewChange(r *http.Request, args *ViewChangeArgs, reply *ViewChangeReply) error {
	*reply = s.engine.HandleViewChange(r.Context(), args)
	return nil
}

func (s *Service) NewView(r *http.Request, args *NewViewArgs, reply *NewViewReply) error {
	*reply = s.engine.HandleNewView(r.Context(), args)
	return nil
}

func (s *Service) GetStatus(r *http.Request, args *GetStatusArgs, reply *GetStatusReply) error {
	*reply = s.engine.GetStatus()
	return nil
}

// SetMaliciousArgs/Reply expose the malicious-mode toggle as an admin RPC
// for test harnesses (spec.md §4.4.4).
type SetMaliciousArgs struct {
	Malicious bool `json:"malicious"`
}

type SetMaliciousReply struct {
	Malicious bool `json:"malicious"`
}

func (s *Service) SetMalicious(r *http.Request, args *SetMaliciousArgs, reply *SetMaliciousReply) error {
	s.engine.SetMalicious(args.Malicious)
	reply.Malicious = args.Malicious
	return nil
}
