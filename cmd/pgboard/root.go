package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubestellar/pgboard/pkg/aggregate"
	"github.com/kubestellar/pgboard/pkg/api"
	"github.com/kubestellar/pgboard/pkg/config"
	"github.com/kubestellar/pgboard/pkg/dashboard"
	"github.com/kubestellar/pgboard/pkg/enrich"
	"github.com/kubestellar/pgboard/pkg/k8s"
	"github.com/kubestellar/pgboard/pkg/logging"
	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/objectstore"
	"github.com/kubestellar/pgboard/pkg/refresh"
	"github.com/kubestellar/pgboard/pkg/snapshot"
	"github.com/kubestellar/pgboard/pkg/watch"
)

type rootOptions struct {
	configPath string
	kubeconfig string
	contexts   []string
	mode       string
	listenAddr string
	logLevel   string
}

var opts rootOptions

var rootCmd = &cobra.Command{
	Use:   "pgboard",
	Short: "Read-only dashboard for CloudNativePG clusters across Kubernetes contexts",
	Long: `pgboard watches one or more Kubernetes contexts and serves a cached snapshot of
CloudNativePG clusters, deployments, cronjobs and events grouped by namespace.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.RunE = runRoot
	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&opts.kubeconfig, "kubeconfig", "", "path to kubeconfig (default: $KUBECONFIG or ~/.kube/config)")
	rootCmd.Flags().StringSliceVar(&opts.contexts, "context", nil, "kube context to include, repeatable (default: current context)")
	rootCmd.Flags().StringVar(&opts.mode, "mode", "", "refresh mode: watch or poll")
	rootCmd.Flags().StringVarP(&opts.listenAddr, "listen", "l", "", "HTTP listen address")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}

// loadConfig reads the config file and environment, then applies explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("kubeconfig") {
		cfg.Kubeconfig = opts.kubeconfig
	}
	if flags.Changed("context") {
		cfg.Contexts = opts.contexts
	}
	if flags.Changed("mode") {
		cfg.Mode = opts.mode
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = opts.listenAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRoot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, "pgboard")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logging.RedirectKlog(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(reg)

	client, err := k8s.NewMultiClusterClient(cfg.Kubeconfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	if err := client.LoadConfig(); err != nil {
		return err
	}
	contexts, err := client.Contexts(cfg.Contexts)
	if err != nil {
		return err
	}

	fetcher := k8s.NewFetcher(client, logger, recorder, cfg.FetchTimeout)
	enricher := enrich.New(client, objectstore.NewLister(logger, objectstore.NewS3Client), enrich.Options{
		DumpsEnabled:    cfg.Dumps.Enabled,
		DumpMatch:       cfg.Dumps.Match,
		DefaultEndpoint: cfg.Dumps.Endpoint,
		DefaultRegion:   cfg.Dumps.Region,
		Timeout:         cfg.ExecTimeout,
		Parallelism:     cfg.EnrichParallelism,
	}, logger, recorder)
	store := snapshot.NewStore(models.EmptyMultiClusterSnapshot())

	// orch is assigned before any stream can call trigger
	var orch *refresh.Orchestrator[models.MultiClusterSnapshot]
	trigger := func() { orch.Request() }

	var (
		source     dashboard.Source
		contextsFn dashboard.ContextsFunc
		router     *watch.Router
	)
	switch cfg.Mode {
	case config.ModeWatch:
		objects := watch.NewStore()
		router = watch.NewRouter(client, fetcher, objects, trigger, watch.Options{
			BackoffInitial: cfg.WatchBackoffInitial,
			BackoffMax:     cfg.WatchBackoffMax,
		}, logger, recorder)
		source = dashboard.StoreSource{Store: objects}
		contextsFn = func() ([]string, error) { return router.Contexts(), nil }
	default:
		source = dashboard.PollSource{Fetcher: fetcher}
		contextsFn = func() ([]string, error) { return client.Contexts(cfg.Contexts) }
	}

	pipeline := dashboard.NewPipeline(source, enricher, aggregate.New(logger, cfg.LogsURLTemplate), contextsFn, logger)
	orch = refresh.New(store, pipeline.Build, refresh.Options{
		Interval: cfg.RefreshInterval,
		Debounce: cfg.Debounce,
		MaxWait:  cfg.DebounceMaxWait,
	}, logger, recorder)

	server := api.NewServer(api.Config{
		ListenAddr:   cfg.ListenAddr,
		AllowOrigins: cfg.AllowOrigins,
		AccessLog:    cfg.AccessLog,
	}, store, reg, logger, recorder)
	orch.OnPublish(server.NotifyRefresh)

	client.SetOnReload(func() {
		reloaded, err := client.Contexts(cfg.Contexts)
		if err != nil {
			logger.Warn("kubeconfig reload left no usable context", zap.Error(err))
			return
		}
		if router != nil {
			router.Resync(reloaded)
		}
		orch.Request()
		go client.LogAccess(ctx, reloaded)
	})
	if client.IsInCluster() {
		logger.Info("using in-cluster config, kubeconfig hot reload disabled")
	} else if err := client.StartWatching(); err != nil {
		logger.Warn("kubeconfig hot reload disabled", zap.String("kubeconfig", client.Kubeconfig()), zap.Error(err))
	}
	defer client.StopWatching()

	go client.LogAccess(ctx, contexts)

	if router != nil {
		router.Start(ctx, contexts)
		defer router.Stop()
	}

	logger.Info("pgboard starting",
		zap.String("version", rootCmd.Version),
		zap.String("mode", cfg.Mode),
		zap.String("kubeconfig", client.Kubeconfig()),
		zap.Bool("inCluster", client.IsInCluster()),
		zap.Strings("contexts", contexts),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return server.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
