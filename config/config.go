package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads the cluster membership file and overlays CLI-flag parameters on
// top of file/preset defaults. v is expected to already have any --flag
// values bound (see cmd/replica), so a flag set on the command line always
// wins over the file, matching the cobra+viper pairing used for the
// teacher's own CLI tooling.
func Load(v *viper.Viper, clusterPath string) (ClusterConfig, *Parameters, error) {
	v.SetConfigFile(clusterPath)
	if err := v.ReadInConfig(); err != nil {
		return ClusterConfig{}, nil, fmt.Errorf("reading cluster config %q: %w", clusterPath, err)
	}

	var cluster ClusterConfig
	if err := v.UnmarshalKey("replicas", &cluster.Replicas); err != nil {
		return ClusterConfig{}, nil, fmt.Errorf("decoding cluster replicas: %w", err)
	}
	if len(cluster.Replicas) == 0 {
		return ClusterConfig{}, nil, fmt.Errorf("cluster config %q: no replicas", clusterPath)
	}

	builder := NewBuilder()
	if preset := v.GetString("preset"); preset != "" {
		builder = builder.FromPreset(Preset(preset))
	}

	builder = builder.
		WithEngine(EngineKind(v.GetString("engine"))).
		WithDataDir(v.GetString("dataDir")).
		WithFaultTolerance(v.GetInt("f")).
		WithMalicious(v.GetBool("malicious"))

	if v.IsSet("electionTimeoutMin") || v.IsSet("electionTimeoutMax") {
		builder = builder.WithElectionTimeout(v.GetDuration("electionTimeoutMin"), v.GetDuration("electionTimeoutMax"))
	}
	if v.IsSet("heartbeatInterval") {
		builder = builder.WithHeartbeatInterval(v.GetDuration("heartbeatInterval"))
	}
	if v.IsSet("viewChangeTimeout") {
		builder = builder.WithViewChangeTimeout(v.GetDuration("viewChangeTimeout"))
	}

	params, err := builder.Build()
	if err != nil {
		return ClusterConfig{}, nil, fmt.Errorf("building parameters: %w", err)
	}
	return cluster, params, nil
}
