package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quorumkv/replicakv/config"
	"github.com/quorumkv/replicakv/log"
	"github.com/quorumkv/replicakv/replica"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Run one replica of a CFT or BFT key-value cluster",
		Long: `replica starts a single node in a replicated key-value cluster. It
reads cluster membership from --config and serves either a Raft-style CFT
engine or a PBFT-style BFT engine, selected by --engine, never both at
once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "cluster.json", "path to the cluster membership file")
	flags.Int("id", 0, "this replica's node id")
	flags.String("engine", "cft", "consensus engine: cft or bft")
	flags.String("data-dir", "./data", "directory for the write-ahead log (cft only)")
	flags.Int("f", 1, "byzantine/crash fault tolerance bound")
	flags.Bool("malicious", false, "start this replica in malicious mode (bft test affordance)")
	flags.String("preset", "", "named timing preset: production or local")
	flags.Bool("dev", false, "use human-readable development logging instead of JSON")

	for _, name := range []string{"config", "id", "engine", "data-dir", "f", "malicious", "preset", "dev"} {
		_ = v.BindPFlag(bindKey(name), flags.Lookup(name))
	}

	return cmd
}

// bindKey maps a --flag-name to the viper key config.Load expects.
func bindKey(flag string) string {
	switch flag {
	case "data-dir":
		return "dataDir"
	default:
		return flag
	}
}

func runReplica(cmd *cobra.Command, v *viper.Viper) error {
	dev := v.GetBool("dev")
	logger, err := log.New(log.Config{Dev: dev, Level: zapcore.InfoLevel})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	clusterPath := v.GetString("config")
	cluster, params, err := config.Load(v, clusterPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	selfID := v.GetInt("id")
	if selfID == 0 {
		return fmt.Errorf("--id is required")
	}

	shell, err := replica.New(selfID, cluster, params, logger)
	if err != nil {
		return fmt.Errorf("constructing replica: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting replica", zap.Int("node_id", selfID), zap.String("engine", string(params.Engine)))

	errCh := make(chan error, 1)
	go func() { errCh <- shell.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shell.Stop(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("replica serve failed: %w", err)
		}
		return nil
	}
}
