package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tutortoise/layout-detection-service/boundary"
	"github.com/Tutortoise/layout-detection-service/config"
	"github.com/Tutortoise/layout-detection-service/detections"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := rootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "layoutdet",
		Short:         "Detect document layout elements with a PP-DocLayout ONNX model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return cfg.Validate()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "path to the layout model (.onnx)")
	flags.StringVar(&cfg.LibraryPath, "ort-lib", cfg.LibraryPath, "path to the onnxruntime shared library")
	flags.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "session strategy: cold or shared")
	flags.StringVar(&cfg.TempDir, "tmpdir", cfg.TempDir, "directory for temporary images")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "intra-op threads per session")
	flags.Float64Var(&cfg.ConfThreshold, "conf", cfg.ConfThreshold, "minimum detection score")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this rotated file")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log per-stage timings")

	root.AddCommand(serveCmd(cfg), detectCmd(cfg), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build identifier",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), boundary.Version())
		},
	}
}

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve layout detection over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	detector, closeDetector, err := newDetector(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeDetector()) }()

	state := &AppState{
		Detector:      detector,
		ConfThreshold: float32(cfg.ConfThreshold),
		Logger:        logger,
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("model", cfg.ModelPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newDetector wires the ONNX runtime, session strategy and boundary together.
// The returned func releases sessions and the runtime environment.
func newDetector(cfg *config.Config, logger *zap.Logger) (*boundary.Detector, func() error, error) {
	rt := detections.NewORTRuntime(cfg.LibraryPath, cfg.Threads)
	metrics := &boundary.Metrics{}

	strategy, err := boundary.NewStrategy(boundary.StrategyName(cfg.Strategy), rt, logger, metrics)
	if err != nil {
		return nil, nil, err
	}

	detector := boundary.New(logger, rt,
		boundary.WithStrategy(strategy),
		boundary.WithTempDir(cfg.TempDir),
		boundary.WithMetrics(metrics),
	)
	detector.Init(cfg.ModelPath)

	return detector, func() error {
		return multierr.Append(detector.Close(), rt.Close())
	}, nil
}
