// Package transport carries replica-to-replica and client-to-replica RPCs
// over JSON-RPC/HTTP, and implements the partition filter spec.md §4.5
// describes as a test-only control surface in front of it.
package transport

import "sync"

// Filter holds a replica's two block-lists: node ids and raw IPs. A
// replica consults it before every outbound call (blocking by peer id or
// peer ip) and in front of every inbound handler (blocking by source ip,
// the only identity an HTTP server can cheaply observe before a request
// is decoded).
type Filter struct {
	mu             sync.RWMutex
	blockedNodeIDs map[int]struct{}
	blockedIPs     map[string]struct{}
}

// NewFilter returns an empty (fully open) Filter.
func NewFilter() *Filter {
	return &Filter{
		blockedNodeIDs: make(map[int]struct{}),
		blockedIPs:     make(map[string]struct{}),
	}
}

// Set replaces the current block-lists wholesale, as the SetPartition
// admin RPC does.
func (f *Filter) Set(blockedNodeIDs []int, blockedIPs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockedNodeIDs = make(map[int]struct{}, len(blockedNodeIDs))
	for _, id := range blockedNodeIDs {
		f.blockedNodeIDs[id] = struct{}{}
	}
	f.blockedIPs = make(map[string]struct{}, len(blockedIPs))
	for _, ip := range blockedIPs {
		f.blockedIPs[ip] = struct{}{}
	}
}

// AllowsPeer reports whether an outbound call to nodeID at ip may proceed.
func (f *Filter) AllowsPeer(nodeID int, ip string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, blocked := f.blockedNodeIDs[nodeID]; blocked {
		return false
	}
	_, blocked := f.blockedIPs[ip]
	return !blocked
}

// AllowsSourceIP reports whether an inbound request from ip may reach the
// engine.
func (f *Filter) AllowsSourceIP(ip string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, blocked := f.blockedIPs[ip]
	return !blocked
}

// Status returns the current block-lists, for the GetPartitionStatus admin
// call.
func (f *Filter) Status() (blockedNodeIDs []int, blockedIPs []string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id := range f.blockedNodeIDs {
		blockedNodeIDs = append(blockedNodeIDs, id)
	}
	for ip := range f.blockedIPs {
		blockedIPs = append(blockedIPs, ip)
	}
	return blockedNodeIDs, blockedIPs
}
