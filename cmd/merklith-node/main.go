// Copyright 2024 The go-equa Authors
// Merklith Node - Consensus Engine Entry Point

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/merklith/merklith/consensus/beacon"
)

var (
	configPath  = flag.String("config", "", "Path to TOML configuration file (defaults omitted fields)")
	genesisHash = flag.String("genesis-hash", "", "Genesis block hash (hex, required)")
	statsPeriod = flag.Duration("stats-period", 30*time.Second, "Interval between stats log lines")
)

func main() {
	flag.Parse()

	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.LvlInfo)
	log.SetDefault(log.NewLogger(glogger))

	log.Info("merklith consensus engine starting")

	if *genesisHash == "" {
		log.Crit("--genesis-hash is required")
	}
	genesis := common.HexToHash(*genesisHash)

	cfg := beacon.DefaultConfig()
	if *configPath != "" {
		loaded, err := beacon.LoadConfig(*configPath)
		if err != nil {
			log.Crit("failed to load config", "error", err)
		}
		cfg = loaded
	}

	verifier := beacon.ECVRFVerifier{}
	metrics := beacon.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.Collectors()...)

	engine, err := beacon.NewEngine(cfg, genesis, verifier, metrics)
	if err != nil {
		log.Crit("failed to construct engine", "error", err)
	}

	logConfiguration(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	statsTicker := time.NewTicker(*statsPeriod)
	defer statsTicker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("shutdown signal received")
			return

		case <-statsTicker.C:
			stats := engine.Stats()
			log.Info("engine stats",
				"attestationsProcessed", stats.AttestationsProcessed,
				"justifications", stats.Justifications,
				"finalizations", stats.Finalizations,
				"slashingEvents", stats.SlashingEvents,
				"committeeSize", stats.CommitteeSize,
				"lastJustifiedEpoch", stats.LastJustifiedEpoch,
				"lastFinalizedEpoch", stats.LastFinalizedEpoch)
		}
	}
}

func logConfiguration(cfg *beacon.Config) {
	log.Info("configuration",
		"minStake", cfg.MinStake,
		"maxEffectiveStake", cfg.MaxEffectiveStake,
		"unbondingDelayEpochs", cfg.UnbondingDelayEpochs,
		"committeeTargetSize", cfg.CommitteeTargetSize,
		"committeeMinSize", cfg.CommitteeMinSize,
		"committeeMaxSize", cfg.CommitteeMaxSize,
		"maxReorgDepth", cfg.MaxReorgDepth,
		"keepEpochs", cfg.KeepEpochs,
		"annualRewardBps", cfg.AnnualRewardBps)
}
