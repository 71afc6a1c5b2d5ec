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
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to set log output: %v", err)
	}

	server, err := config.NewNamingServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create naming server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start naming server: %v", err)
	}
	logger.Info("Naming server running (service %s, registration %s). Press Ctrl+C to stop.",
		cfg.Naming.ServiceAddr, cfg.Naming.RegistrationAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping naming server")
	server.Stop()
	logger.Info("Naming server stopped")
}
