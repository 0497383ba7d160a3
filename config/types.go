// Package config loads cluster membership and engine tuning parameters for a
// replica. Cluster membership is a fixed, identical-on-every-replica list of
// ⟨id, ip, port⟩ records; engine parameters are the timing knobs of §4.3/§4.4
// of the specification (election timeout bounds, heartbeat interval, BFT
// view-change timeout, f).
package config

import "fmt"

// EngineKind selects which consensus engine a replica runs. A replica never
// runs both at once.
type EngineKind string

const (
	CFT EngineKind = "cft"
	BFT EngineKind = "bft"
)

// ReplicaDescriptor is one ⟨id, ip, port⟩ record from the cluster file.
type ReplicaDescriptor struct {
	ID   int    `json:"id" mapstructure:"id"`
	IP   string `json:"ip" mapstructure:"ip"`
	Port int    `json:"port" mapstructure:"port"`
}

func (d ReplicaDescriptor) Address() string {
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}

// ClusterConfig is the full, identical-on-every-replica membership list.
type ClusterConfig struct {
	Replicas []ReplicaDescriptor `json:"replicas" mapstructure:"replicas"`
}

// Self returns the descriptor for the given replica id.
func (c ClusterConfig) Self(id int) (ReplicaDescriptor, error) {
	for _, r := range c.Replicas {
		if r.ID == id {
			return r, nil
		}
	}
	return ReplicaDescriptor{}, fmt.Errorf("replica %d not present in cluster config", id)
}

// Peers returns every descriptor other than id, in file order.
func (c ClusterConfig) Peers(id int) []ReplicaDescriptor {
	peers := make([]ReplicaDescriptor, 0, len(c.Replicas)-1)
	for _, r := range c.Replicas {
		if r.ID != id {
			peers = append(peers, r)
		}
	}
	return peers
}

// N is the cluster size.
func (c ClusterConfig) N() int {
	return len(c.Replicas)
}

// CFTMajority is the strict majority ⌊N/2⌋+1 required to elect a leader or
// advance commit_index.
func (c ClusterConfig) CFTMajority() int {
	return c.N()/2 + 1
}

// BFTQuorum is 2f+1 for a cluster sized 3f+1.
func BFTQuorum(f int) int {
	return 2*f + 1
}
