package cft

import (
	"net/http"

	"github.com/quorumkv/replicakv/transport"
)

// Service adapts an Engine to the gorilla/rpc receiver shape
// (func(*http.Request, *Args, *Reply) error) so it can be registered on a
// transport.Server under the "CFT" name.
type Service struct {
	engine *Engine
	filter *transport.Filter
}

// NewService returns the RPC receiver for engine, wired to filter for the
// admin partition calls.
func NewService(engine *Engine, filter *transport.Filter) *Service {
	return &Service{engine: engine, filter: filter}
}

func (s *Service) RequestVote(r *http.Request, args *RequestVoteArgs, reply *RequestVoteReply) error {
	*reply = s.engine.HandleRequestVote(args)
	return nil
}

func (s *Service) AppendEntries(r *http.Request, args *AppendEntriesArgs, reply *AppendEntriesReply) error {
	*reply = s.engine.HandleAppendEntries(args)
	return nil
}

func (s *Service) Ping(r *http.Request, args *PingArgs, reply *PingReply) error {
	*reply = s.engine.HandlePing(args)
	return nil
}

func (s *Service) SubmitCommand(r *http.Request, args *SubmitCommandArgs, reply *SubmitCommandReply) error {
	*reply = s.engine.SubmitCommand(args.Command)
	return nil
}

func (s *Service) GetState(r *http.Request, args *GetStateArgs, reply *GetStateReply) error {
	*reply = s.engine.GetState()
	return nil
}

func (s *Service) GetData(r *http.Request, args *GetDataArgs, reply *GetDataReply) error {
	*reply = s.engine.GetData(args.Key)
	return nil
}

func (s *Service) SetPartition(r *http.Request, args *SetPartitionArgs, reply *SetPartitionReply) error {
	*reply = s.engine.SetPartition(s.filter, args.BlockedIPs, args.BlockedNodeIDs)
	return nil
}

func (s *Service) GetPartitionStatus(r *http.Request, args *GetPartitionStatusArgs, reply *GetPartitionStatusReply) error {
	*reply = s.engine.GetPartitionStatus(s.filter)
	return nil
}
