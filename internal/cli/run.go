package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/incidentd/internal/config"
	"github.com/roach88/incidentd/internal/engine"
	"github.com/roach88/incidentd/internal/protocol"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP listener.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ModelsDir string
	Watch     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the broker",
		Long: `Start the broker with every configured partition.

Each partition recovers its state from its log, then processes commands
until the process receives SIGINT or SIGTERM. Process models found in the
models directory are deployed on start and, with --watch, again whenever
a CUE file changes. Metrics and a health check are served on the
configured listen address.

Example:
  incidentd run --config incidentd.yaml
  incidentd run --models ./models --watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ModelsDir, "models", "", "models directory (overrides models.dir)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "redeploy models when they change (overrides models.watch)")

	return cmd
}

func runBroker(opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.Logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if opts.ModelsDir != "" {
		cfg.Models.Dir = opts.ModelsDir
	}
	if cmd.Flags().Changed("watch") {
		cfg.Models.Watch = opts.Watch
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening broker", "data_dir", cfg.DataDir, "partitions", cfg.Partitions)
	broker, err := engine.OpenBroker(ctx, cfg.DataDir, cfg.Partitions, logger, brokerOptions(cfg, logger)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open broker", err)
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			logger.Error("error closing broker", "error", closeErr)
		}
	}()

	client := engine.NewClient(broker, engine.WithRequestTimeout(cfg.Client.RequestTimeout))
	defer client.Close()

	health := newHealthTracker(broker)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Run(ctx)
	})

	if cfg.Models.Dir != "" {
		// The first deployment needs running partitions to answer.
		if err := deployModels(ctx, client, cfg.Models.Dir, logger); err != nil {
			stop()
			_ = g.Wait()
			return WrapExitError(ExitCommandError, "failed to deploy models", err)
		}
		if cfg.Models.Watch {
			g.Go(func() error {
				return watchModels(ctx, client, cfg.Models.Dir, logger)
			})
		}
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveHTTP(ctx, cfg.Metrics, health, logger)
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Broker started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "broker error", err)
	}
	logger.Info("broker stopped gracefully")
	return nil
}

func deployModels(ctx context.Context, client *engine.Client, dir string, logger *slog.Logger) error {
	set, err := LoadModels(dir)
	if err != nil {
		return err
	}
	deployed, err := client.Deploy(ctx, set.Resources...)
	if err != nil {
		return err
	}
	for _, d := range deployed {
		logger.Info("process deployed",
			"bpmn_process_id", d.BPMNProcessID,
			"version", d.Version,
			"process_definition_key", d.ProcessDefinitionKey)
	}
	return nil
}

// watchModels redeploys dir whenever a CUE file in it changes. Unchanged
// processes keep their version, so spurious events are harmless. Invalid
// models are logged and skipped.
func watchModels(ctx context.Context, client *engine.Client, dir string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching models", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".cue" || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.Debug("models changed", "file", ev.Name, "op", ev.Op.String())
			if err := deployModels(ctx, client, dir, logger); err != nil {
				logger.Warn("redeploy failed", "dir", dir, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// partitionHealth is the last observed status of one partition.
type partitionHealth struct {
	openIncidents atomic.Int64
	lastPosition  atomic.Int64
}

// healthTracker mirrors partition status for the HTTP goroutine. State is
// only read from inside partition listeners, which run on the processing
// goroutine.
type healthTracker struct {
	ids        []int
	partitions map[int]*partitionHealth
}

// newHealthTracker must be called before the partitions run.
func newHealthTracker(broker *engine.Broker) *healthTracker {
	h := &healthTracker{partitions: make(map[int]*partitionHealth)}
	for _, p := range broker.Partitions() {
		ph := &partitionHealth{}
		ph.openIncidents.Store(int64(p.State().OpenIncidentCount()))
		ph.lastPosition.Store(p.Log().LastPosition())
		h.ids = append(h.ids, p.ID())
		h.partitions[p.ID()] = ph

		p.AddListener(func(written []protocol.Record) {
			ph.openIncidents.Store(int64(p.State().OpenIncidentCount()))
			if n := len(written); n > 0 {
				ph.lastPosition.Store(written[n-1].Position)
			}
		})
	}
	return h
}

// newRouter serves Prometheus metrics and a health check reporting every
// partition's open incident count.
func newRouter(health *healthTracker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, id := range health.ids {
			ph := health.partitions[id]
			fmt.Fprintf(w, "partition %d: open_incidents=%d last_position=%d\n",
				id, ph.openIncidents.Load(), ph.lastPosition.Load())
		}
	})
	return r
}

func serveHTTP(ctx context.Context, cfg config.MetricsConfig, health *healthTracker, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "listen", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
