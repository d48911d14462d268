package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mreider/fabrik/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller: episode loop, admin API, and status publisher",
	Long: `serve runs the full controller. The episode loop sleeps a random
interval, injects the fault plan, holds it, and drains it, forever. The
admin API exposes remediation, manual triggering, status, health, and
metrics endpoints.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info("starting chaos controller",
		"version", Version,
		"config", configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.close()

	// Seed the status store so dashboards see the controller before the
	// first episode. Redis may still be coming up alongside us.
	if comps.publisher != nil {
		if err := comps.publisher.PublishAndNotifyWithRetry(ctx, comps.tracker.Snapshot(), 3); err != nil {
			log.Warn("initial status publish failed", "error", err.Error())
		}
	}

	apiServer := api.NewServer(
		cfg.Server.Port,
		comps.remediator,
		comps.scheduler,
		comps.tracker,
		log.With("component", "api"),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	comps.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())

		// Stop the scheduler before cancelling the context so an episode
		// interrupted mid-hold can still drain its faults.
		comps.scheduler.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("api shutdown failed", "error", err.Error())
		}

		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("api server error", "error", err.Error())
			comps.scheduler.Stop()
			return fmt.Errorf("api server: %w", err)
		}
	}

	log.Info("controller stopped")
	return nil
}
