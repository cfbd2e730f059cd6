package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/templaterelay/internal/adapters/blob"
	kernelclient "github.com/manthysbr/templaterelay/internal/adapters/kernel"
	"github.com/manthysbr/templaterelay/internal/adapters/providers"
	appconfig "github.com/manthysbr/templaterelay/internal/config"
	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/manthysbr/templaterelay/internal/core/services"
	"github.com/manthysbr/templaterelay/internal/log"
	"github.com/manthysbr/templaterelay/pkg/kernel"
)

var (
	config *appconfig.Config
	logger *slog.Logger

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagTitle   string
	flagUser    string
	flagChannel string
	flagOption  int
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load, RELAY_CONFIG is used when unset")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initRelay

	submitCmd.Flags().StringVar(&flagTitle, "title", "", "job title")
	submitCmd.Flags().StringVar(&flagUser, "user", "cli", "submitter id")
	submitCmd.Flags().StringVar(&flagChannel, "channel", "", "destination channel")
	submitCmd.Flags().IntVar(&flagOption, "option", 0, "follow-up option of a previous job")
	_ = submitCmd.MarkFlagRequired("title")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("relay failed", "err", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "relay",
	Short:        "Relay chat commands to a template rendering worker",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the kernel API",
	RunE:  doServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "poll the kernel and render pending jobs",
	RunE:  doWorker,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "submit a job to a running kernel",
	RunE:  doSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show worker availability and lock state",
	RunE:  doStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of relay",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("relay: version info not available")
			return
		}
		fmt.Printf("relay: %s\n", info.Main.Version)
		fmt.Printf("go:    %s\n", info.GoVersion)
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Printf("commit: %s\n", s.Value)
			}
		}
	},
}

func initRelay(cmd *cobra.Command, _ []string) error {
	path := flagConfigFilePath
	if env, ok := os.LookupEnv("RELAY_CONFIG"); ok && path == "" {
		path = env
	}

	var err error
	config, err = appconfig.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := log.ParseLevel(config.Log.Level)
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger = log.New(os.Stderr, level)
	slog.SetDefault(logger)

	masked := config.Masked()
	logger.Debug("configuration loaded", "path", path, "config", masked)
	return nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.String("cmd", "serve"), slog.Int("pid", os.Getpid()))

	eventBus := services.NewEventBus(logger)
	coordinator := services.NewCoordinator(logger, services.CoordinatorConfig{
		LockTimeout:         config.Kernel.LockTimeout,
		AvailabilityTimeout: config.Kernel.AvailabilityTimeout,
		Freshness:           config.Kernel.Freshness,
		Retention:           config.Kernel.Retention,
		TerminalRetention:   config.Kernel.TerminalRetention,
	}, services.WithEventBus(eventBus))

	images, err := blob.NewStore(config.Kernel.ImageCapacity, config.Kernel.PublicURL+"/v1/images", config.Kernel.MaxImageBytes)
	if err != nil {
		return err
	}

	notifier := providers.Notifier(logger, config)
	commands := services.NewCommandRouter(logger, coordinator, notifier, config.Kernel.Admins)

	apiServer, err := kernel.NewServer(logger, coordinator, eventBus, images, commands, kernel.Options{
		SlackSigningSecret: config.Slack.SigningSecret,
		ValidateRequests:   config.Kernel.ValidateRequests,
	})
	if err != nil {
		return fmt.Errorf("initializing kernel api: %w", err)
	}
	if config.Slack.SigningSecret == "" {
		logger.WarnContext(ctx, "slack signing secret not set, event signatures are not verified")
	}

	httpServer := &http.Server{
		Addr:              config.Kernel.Addr,
		Handler:           kernel.WithCORS(apiServer.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gCtx, "starting kernel api server", "addr", config.Kernel.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.InfoContext(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		apiServer.Wait()
		return err
	})

	return g.Wait()
}

func doWorker(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.String("cmd", "worker"), slog.Int("pid", os.Getpid()))

	completion, renderer, err := providers.Build(config)
	if err != nil {
		return err
	}
	if len(config.Worker.Catalog) == 0 {
		return errors.New("worker.catalog must list at least one main image")
	}

	retry := services.RetryPolicy{
		MaxAttempts:     config.Retry.MaxAttempts,
		InitialInterval: config.Retry.InitialInterval,
		MaxInterval:     config.Retry.MaxInterval,
		MaxJitter:       config.Retry.MaxJitter,
	}

	var tie services.TieBreaker = services.UsageTieBreaker{}
	if config.Worker.TieBreaker == "none" {
		tie = services.PassThroughTieBreaker{}
	}
	selector := services.NewSelector(logger, completion, retry, services.SelectorConfig{
		Catalog:      config.Worker.Catalog,
		Backgrounds:  config.Worker.Backgrounds,
		ChunkSize:    config.Worker.ChunkSize,
		MaxTemplates: config.Worker.MaxTemplates,
		Shuffle:      config.Worker.Shuffle,
	}, tie)

	client := kernelclient.NewClient(config.Worker.KernelURL, config.Kernel.Freshness)
	worker := services.NewWorker(logger, services.WorkerConfig{
		PollInterval:      config.Worker.PollInterval,
		HeartbeatInterval: config.Worker.HeartbeatInterval,
		Retention:         config.Worker.Retention,
	}, services.WorkerDeps{
		Source:   client,
		Selector: selector,
		Renderer: renderer,
		Uploader: client,
		Notifier: providers.Notifier(logger, config),
		Retry:    retry,
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gCtx)
	})
	return g.Wait()
}

func doSubmit(cmd *cobra.Command, _ []string) error {
	sub := domain.Submission{Title: flagTitle, SubmitterID: flagUser, Destination: flagChannel}
	if flagOption > 0 {
		option := flagOption
		sub.SelectionRef = &option
	}

	client := kernelclient.NewClient(config.Worker.KernelURL, 0)
	job, err := client.SubmitJob(cmd.Context(), sub)
	if err != nil {
		return err
	}
	return printJSON(cmd, job)
}

func doStatus(cmd *cobra.Command, _ []string) error {
	client := kernelclient.NewClient(config.Worker.KernelURL, 0)
	status, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, status)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
