package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/operator"
)

// setupLogger constructs the colored operator-component logger every
// stage of startup logs through, grounded on the reference node's
// setup_logger helper.
func setupLogger() *oplog.Logger {
	return oplog.New(zapcore.AddSync(os.Stdout), true)
}

// parseFlags defines and parses the command-line flags, returning the
// config file path (required) and a data-dir override.
func parseFlags() (configPath, dataDirOverride *string, help *bool) {
	configPath = flag.String("config", "", "Path to config YAML file (required)")
	dataDirOverride = flag.String("data", "", "Data directory override (defaults to config's data_dir)")
	help = flag.Bool("help", false, "Show help")
	flag.Parse()
	return
}

// buildOperatorConfig merges the parsed file config and flag overrides
// into an operator.Config, grounded on the reference node's
// load_args_into_config override pattern.
func buildOperatorConfig(fc *fileConfig, dataDirOverride string) (operator.Config, error) {
	seed, err := hex.DecodeString(fc.MasterSeed)
	if err != nil {
		return operator.Config{}, fmt.Errorf("decode master_seed_hex: %w", err)
	}

	chains, err := fc.chainEntries()
	if err != nil {
		return operator.Config{}, err
	}

	dataDir := fc.DataDir
	if dataDirOverride != "" {
		dataDir = dataDirOverride
	}

	return operator.Config{
		DataDir:     dataDir,
		MasterSeed:  seed,
		IPFSGateway: fc.IPFSGateway,
		Chains:      chains,
		Managers:    fc.managers(),
	}, nil
}

func main() {
	logger := setupLogger()
	opLog := logger.With(oplog.ComponentOperator)

	configPath, dataDirOverride, help := parseFlags()
	if *help {
		flag.Usage()
		return
	}
	if *configPath == "" {
		opLog.Error("no --config path given")
		os.Exit(1)
	}

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		opLog.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	cfg, err := buildOperatorConfig(fc, *dataDirOverride)
	if err != nil {
		opLog.Error("failed to build operator config", zap.Error(err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		opLog.Error("failed to create data directory", zap.String("data_dir", cfg.DataDir), zap.Error(err))
		os.Exit(1)
	}

	op, err := operator.NewOperator(cfg, logger)
	if err != nil {
		opLog.Error("failed to construct operator", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := op.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		opLog.Error("operator failed to start", zap.Error(err))
		cancel()
		if stopErr := op.Stop(); stopErr != nil {
			opLog.Error("operator stop failed", zap.Error(stopErr))
		}
		os.Exit(1)
	case <-sigChan:
		opLog.Info("shutting down operator...")
		cancel()
		if err := op.Stop(); err != nil {
			opLog.Error("operator stop failed", zap.Error(err))
		}
		opLog.Info("operator shutdown complete")
	}
}

func init() {
	// log.SetFlags silences the standard library logger's own
	// timestamp prefix; every startup message goes through oplog
	// instead, this is only a fallback for log.Fatalf-style panics
	// before the logger exists.
	log.SetFlags(0)
}
