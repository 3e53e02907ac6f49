package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/naonao34567890/orcapipe/internal/app"
	"github.com/naonao34567890/orcapipe/internal/common"
)

// fatalPollInterval is how often the host loop checks whether the
// scheduler has observed a fatal outcome and should be stopped (§5).
const fatalPollInterval = 2 * time.Second

func main() {
	configPath := os.Getenv("ORCAPIPE_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.Logger.Fatal().Err(err).Msg("Failed to start pipeline")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(fatalPollInterval)
	defer ticker.Stop()

	shutdownReason := "signal"
loop:
	for {
		select {
		case <-sigChan:
			break loop
		case <-ticker.C:
			if a.JobManager.HasFatal() {
				shutdownReason = "fatal outcome"
				break loop
			}
		}
	}

	a.Logger.Info().Str("reason", shutdownReason).Msg("Shutting down")
	cancel()
	a.Close()

	common.PrintShutdownBanner(a.Logger)
}
