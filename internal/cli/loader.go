package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/roach88/incidentd/internal/config"
	"github.com/roach88/incidentd/internal/deployment"
	"github.com/roach88/incidentd/internal/engine"
	"github.com/roach88/incidentd/internal/logstream"
	"github.com/roach88/incidentd/internal/model"
	"github.com/roach88/incidentd/internal/protocol"
)

// ModelSet is a loaded models directory, ready to deploy.
type ModelSet struct {
	Dir       string
	Processes []*model.Process
	Resources []protocol.DeploymentResource
}

// LoadFailure classifies why a models directory could not be loaded.
type LoadFailure struct {
	Code string
	Err  error
}

func (e *LoadFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *LoadFailure) Unwrap() error {
	return e.Err
}

// LoadModels loads, validates and serializes the CUE models in dir.
func LoadModels(dir string) (*ModelSet, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, &LoadFailure{Code: ErrCodeNotFound, Err: fmt.Errorf("models directory not found: %s", dir)}
	}

	processes, err := model.LoadDir(dir)
	if err != nil {
		code := ErrCodeModelLoad
		if model.IsValidationError(err) {
			code = ErrCodeModelInvalid
		}
		return nil, &LoadFailure{Code: code, Err: err}
	}

	resources, err := deployment.Resources(processes)
	if err != nil {
		return nil, &LoadFailure{Code: ErrCodeGeneric, Err: err}
	}
	return &ModelSet{Dir: dir, Processes: processes, Resources: resources}, nil
}

// failureCode returns the error code for a LoadModels error.
func failureCode(err error) string {
	var lf *LoadFailure
	if errors.As(err, &lf) {
		return lf.Code
	}
	return ErrCodeGeneric
}

// openExistingLog opens a partition log for inspection. Unlike
// logstream.Open it refuses to create a missing file.
func openExistingLog(path string) (*logstream.Log, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "a partition log is required: pass --db or --partition")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("partition log not found: %s", path), err)
	}
	l, err := logstream.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open partition log", err)
	}
	return l, nil
}

// logPathFlags selects a partition log either directly or through the
// configured data directory.
type logPathFlags struct {
	Database  string
	Partition int
}

func (f logPathFlags) resolve(opts *RootOptions) (string, error) {
	if f.Database != "" {
		return f.Database, nil
	}
	if f.Partition <= 0 {
		return "", nil
	}
	cfg, err := opts.LoadConfig()
	if err != nil {
		return "", err
	}
	return engine.PartitionPath(cfg.DataDir, f.Partition), nil
}

// brokerOptions translates configuration into partition options.
func brokerOptions(cfg *config.Config, logger *slog.Logger) []engine.Option {
	logOpts := []logstream.Option{
		logstream.WithMaxBatchSize(cfg.Log.MaxBatchSize),
		logstream.WithRetryInterval(cfg.Log.RetryInterval),
	}
	if cfg.Log.BackpressureRate > 0 {
		logOpts = append(logOpts, logstream.WithRateLimit(cfg.Log.BackpressureRate, cfg.Log.BackpressureBurst))
	}
	return []engine.Option{
		engine.WithLogger(logger),
		engine.WithLogOptions(logOpts...),
		engine.WithSnapshotInterval(cfg.Processing.SnapshotInterval),
		engine.WithMaxMessageSize(cfg.Processing.MaxMessageSize),
	}
}

// session is a broker running in the background with a client attached,
// for commands that talk to the engine and exit.
type session struct {
	Broker *engine.Broker
	Client *engine.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
	runErr error
}

// openSession opens the configured broker and starts its partitions.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	broker, err := engine.OpenBroker(ctx, cfg.DataDir, cfg.Partitions, logger, brokerOptions(cfg, logger)...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open broker", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		Broker: broker,
		Client: engine.NewClient(broker, engine.WithRequestTimeout(cfg.Client.RequestTimeout)),
		cancel: cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runErr = broker.Run(runCtx)
	}()
	return s, nil
}

// Close stops the partitions and closes the broker.
func (s *session) Close() error {
	s.cancel()
	s.wg.Wait()
	s.Client.Close()
	return errors.Join(s.runErr, s.Broker.Close())
}
