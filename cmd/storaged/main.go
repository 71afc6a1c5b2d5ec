package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/driftfs/internal/logger"
	"github.com/marmos91/driftfs/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	root := flag.String("root", "", "Storage root directory override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to set log output: %v", err)
	}

	server, err := config.NewStorageServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create storage server: %v", err)
	}

	registrar, err := config.NewRegistrar(cfg)
	if err != nil {
		log.Fatalf("Failed to create registration client: %v", err)
	}

	if err := server.Start(cfg.Storage.Hostname, registrar); err != nil {
		log.Fatalf("Failed to start storage server: %v", err)
	}
	logger.Info("Storage server running for %s, registered with %s. Press Ctrl+C to stop.",
		server.Root(), cfg.Storage.NamingAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping storage server")
	server.Stop()
	logger.Info("Storage server stopped")
}
