package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/taskscheduler/internal/config"
	"github.com/khryptorgraphics/taskscheduler/pkg/api"
	"github.com/khryptorgraphics/taskscheduler/pkg/logging"
	"github.com/khryptorgraphics/taskscheduler/pkg/scheduler"
)

var (
	cfgFile string
	version = "dev"
	rootCmd *cobra.Command
)

func main() {
	rootCmd = &cobra.Command{
		Use:   "taskscheduler",
		Short: "A resource-aware, multi-worker task scheduling daemon",
		Long: `taskscheduler runs a pool of concurrent workers against user-submitted
tasks, gating each one on capacity-limited and rate-limited resources before
dispatch.

  taskscheduler start              # run the scheduler with an admin API
  taskscheduler status             # query a running scheduler's admin API
  taskscheduler version            # print the build version`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file path")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var maxWorkers int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler and its admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cfgFile, maxWorkers)
		},
	}

	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "override scheduler.max_workers from the config file")

	return cmd
}

func runStart(configFile string, maxWorkersOverride int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if maxWorkersOverride > 0 {
		cfg.Scheduler.MaxWorkers = maxWorkersOverride
	}

	log, err := logging.NewFromLevelFormat(
		cfg.Logging.Level, cfg.Logging.Format,
		cfg.Logging.ServiceName, cfg.Logging.ServiceVersion, cfg.Logging.Environment)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Close()

	sched := scheduler.New(log)
	sched.SetDescription(cfg.Scheduler.Description)

	if err := sched.Start(cfg.Scheduler.MaxWorkers, scheduler.ParallelismThread); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	log.Info("scheduler started", slog.Int("max_workers", cfg.Scheduler.MaxWorkers))

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(sched, cfg.API, cfg.Scheduler, cfg.Metrics, log)
		go func() {
			if err := apiServer.Start(cfg.API.Listen); err != nil {
				log.Error("admin api stopped", err)
			}
		}()
		log.Info("admin api listening", slog.String("address", cfg.API.Listen))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
		defer cancel()
		if err := apiServer.Stop(ctx); err != nil {
			log.Error("admin api shutdown", err)
		}
	}
	sched.Stop()
	return nil
}

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running scheduler's admin API for its current stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8090", "admin API base address")
	return cmd
}

func runStatus(addr string) error {
	// Left intentionally thin: a full client belongs in its own package once
	// a second caller needs it. This fetches /v1/stats and prints the raw body.
	resp, err := http.Get(addr + "/v1/stats")
	if err != nil {
		return fmt.Errorf("querying admin api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin api returned %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

