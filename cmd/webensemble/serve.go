package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/config"
	"github.com/revit3d/WebEnsemble/service/server"
	"github.com/revit3d/WebEnsemble/service/storage"
	"github.com/revit3d/WebEnsemble/service/tasks"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// the file's level wins unless --log-level was given
			if !cmd.Flags().Changed("log-level") {
				if err := log.SetupLogger(cfg.Log.Level, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return serve(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	return cmd
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	logger := log.GetLoggerWithName("serve")

	storeCfg := storage.DefaultConfig(cfg.Storage.Path)
	if cfg.Storage.InMemory {
		storeCfg = storage.InMemoryConfig()
	}
	storeCfg.Logger = log.GetLoggerWithName("badger")
	store, err := storage.Open(storeCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", log.ErrAttrKey, err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := tasks.New(store, tasks.Config{
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
		Seed:        cfg.Worker.Seed,
		Metrics:     tasks.NewMetrics(reg),
	})
	if n, err := runner.ResetInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Warn("reset interrupted fits", "count", n)
	}
	runner.Start(ctx)
	defer runner.Close()

	srv := server.New(server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		DataDir:      cfg.DataDir,
		Registry:     reg,
	}, store, runner)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}
