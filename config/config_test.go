package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCluster = `{
  "replicas": [
    {"id": 1, "ip": "127.0.0.1", "port": 9001},
    {"id": 2, "ip": "127.0.0.1", "port": 9002},
    {"id": 3, "ip": "127.0.0.1", "port": 9003}
  ]
}`

func writeClusterFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCluster), 0o644))
	return path
}

func TestLoad_DefaultsWhenNoFlagsSet(t *testing.T) {
	path := writeClusterFile(t)
	v := viper.New()
	v.Set("dataDir", t.TempDir())
	v.Set("engine", "cft")

	cluster, params, err := Load(v, path)
	require.NoError(t, err)
	require.Len(t, cluster.Replicas, 3)
	assert.Equal(t, 2, cluster.CFTMajority())
	assert.Equal(t, CFT, params.Engine)
	assert.Equal(t, 300*time.Millisecond, params.ElectionTimeoutMin)
}

func TestLoad_PresetAndOverride(t *testing.T) {
	path := writeClusterFile(t)
	v := viper.New()
	v.Set("dataDir", t.TempDir())
	v.Set("engine", "bft")
	v.Set("preset", "local")
	v.Set("f", 1)
	v.Set("heartbeatInterval", 10*time.Millisecond)

	cluster, params, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, 3, cluster.N())
	assert.Equal(t, BFT, params.Engine)
	assert.Equal(t, 10*time.Millisecond, params.HeartbeatInterval)
	assert.Equal(t, 1, params.F)
}

func TestLoad_MissingFile(t *testing.T) {
	v := viper.New()
	v.Set("dataDir", t.TempDir())
	_, _, err := Load(v, "/nonexistent/cluster.json")
	require.Error(t, err)
}

func TestLoad_EmptyReplicas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"replicas": []}`), 0o644))

	v := viper.New()
	v.Set("dataDir", t.TempDir())
	_, _, err := Load(v, path)
	require.Error(t, err)
}
