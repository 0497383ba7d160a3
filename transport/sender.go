package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quorumkv/replicakv/config"
)

// PeerSender is the capability interface spec.md §9 prescribes so engines
// never hold a back-reference to the replica shell or the transport
// wrapper: an engine receives a PeerSender bound to one peer and only
// ever calls Send on it.
type PeerSender interface {
	// Send performs method against the bound peer, decoding its single
	// JSON-RPC result into reply. ok is false for any of a blocked
	// partition, a dial error or a deadline: spec.md treats every
	// transport failure as "no reply", never a distinguishable error.
	Send(ctx context.Context, method string, args, reply any) (ok bool)
}

// Client is a JSON-RPC/HTTP client compatible with the gorilla/rpc JSON
// codec's wire format: a POST body of {"method","params":[args],"id"} and
// a response body of {"result","error","id"}.
type Client struct {
	httpClient *http.Client
	nextID     uint64
}

// NewClient returns a Client using httpClient, or a sane default transport
// if nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params [1]any `json:"params"`
	ID     uint64 `json:"id"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  any             `json:"error"`
	ID     uint64          `json:"id"`
}

// Call issues one JSON-RPC request against addr and decodes the result
// into reply. A non-nil error means the call did not complete; callers in
// this module treat that uniformly as "no reply" per spec.md §7.
func (c *Client) Call(ctx context.Context, addr, method string, args, reply any) error {
	id := atomic.AddUint64(&c.nextID, 1)
	body, err := json.Marshal(jsonRPCRequest{Method: method, Params: [1]any{args}, ID: id})
	if err != nil {
		return fmt.Errorf("encoding rpc request: %w", err)
	}

	url := fmt.Sprintf("http://%s/rpc", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error: %v", rpcResp.Error)
	}
	if reply != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, reply); err != nil {
			return fmt.Errorf("decoding rpc result: %w", err)
		}
	}
	return nil
}

// peerSender binds a Client, a destination peer descriptor, a partition
// Filter and a per-call deadline into the PeerSender an engine is handed
// for one specific peer.
type peerSender struct {
	client  *Client
	peer    config.ReplicaDescriptor
	filter  *Filter
	timeout time.Duration
}

// NewPeerSender returns the PeerSender an engine uses to reach peer,
// subject to filter's current block-lists and a per-call timeout.
func NewPeerSender(client *Client, peer config.ReplicaDescriptor, filter *Filter, timeout time.Duration) PeerSender {
	return &peerSender{client: client, peer: peer, filter: filter, timeout: timeout}
}

func (s *peerSender) Send(ctx context.Context, method string, args, reply any) bool {
	ip, _, err := net.SplitHostPort(s.peer.Address())
	if err != nil {
		ip = s.peer.IP
	}
	if !s.filter.AllowsPeer(s.peer.ID, ip) {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Call(callCtx, s.peer.Address(), method, args, reply); err != nil {
		return false
	}
	return true
}
