package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/luxfi/log"

	"github.com/luxfi/roundvault/pkg/config"
)

func main() {
	configPath := flag.String("config", "vaultd.yaml", "Path to the YAML configuration file")
	listen := flag.String("listen", "", "JSON-RPC listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory, relative to $HOME unless absolute (overrides config)")
	memory := flag.Bool("memory", false, "Keep all state in memory")
	admin := flag.Bool("admin", false, "Enable admin RPC methods, including those that act for an account named in the request")
	schedule := flag.String("keeper-schedule", "", "Cron schedule with seconds for automatic rounds (overrides config)")
	startSchedule := flag.String("keeper-start-schedule", "", "Cron schedule with seconds for round starts, when they should not follow the end at once (overrides config)")
	flag.Parse()

	logger := log.Root()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Crit("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *memory {
		cfg.Database.Type = config.DatabaseMemory
	}
	if *admin {
		cfg.API.Admin = true
	}
	if *schedule != "" {
		cfg.Keeper.Schedule = *schedule
	}
	if *startSchedule != "" {
		cfg.Keeper.StartSchedule = *startSchedule
	}
	if err := cfg.Validate(); err != nil {
		logger.Crit("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"config", *configPath,
		"dataDir", cfg.DataDir,
		"logLevel", cfg.LogLevel,
	)

	node, err := NewNode(cfg, logger)
	if err != nil {
		logger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}
	if err := node.Start(); err != nil {
		logger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-node.Done():
	}
	node.Shutdown()
}
