package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var simulateMode string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run chaos episodes without the admin API",
	Long: `simulate drives episodes directly.

In manual mode one full episode runs (inject, hold, drain) and the
command exits. In loop mode the continuous scheduler runs until
interrupted, exactly as under serve but without the HTTP surface.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMode, "mode", "manual", "episode mode (manual, loop)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateMode != "manual" && simulateMode != "loop" {
		return fmt.Errorf("invalid mode %q (valid: manual, loop)", simulateMode)
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.close()

	if simulateMode == "manual" {
		log.Info("running single chaos episode",
			"episode_duration", cfg.Chaos.EpisodeDuration,
		)
		if err := comps.scheduler.RunEpisode(ctx); err != nil {
			// Operational failures warn and exit zero; the demo keeps running.
			log.Warn("episode did not complete", "error", err.Error())
			return nil
		}
		log.Info("episode completed")
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	comps.scheduler.Start(ctx)
	log.Info("episode loop started",
		"max_interval", cfg.Chaos.MaxInterval,
		"episode_duration", cfg.Chaos.EpisodeDuration,
	)

	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	comps.scheduler.Stop()
	log.Info("episode loop stopped")
	return nil
}
