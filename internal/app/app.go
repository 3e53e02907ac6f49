// Package app wires together the pipeline's collaborators: config,
// logger, state store, executor, archiver, chain builder, notifier,
// watcher, and the scheduler that owns them (§2, §9).
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/naonao34567890/orcapipe/internal/archiver"
	"github.com/naonao34567890/orcapipe/internal/chainbuilder"
	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/energyplot"
	"github.com/naonao34567890/orcapipe/internal/executor"
	"github.com/naonao34567890/orcapipe/internal/notifier"
	"github.com/naonao34567890/orcapipe/internal/services/jobmanager"
	"github.com/naonao34567890/orcapipe/internal/statestore"
	"github.com/naonao34567890/orcapipe/internal/watcher"
)

// App holds every initialized collaborator and the scheduler that ties
// them together. It is the shared core used by cmd/orcapipe-server.
type App struct {
	Config     *common.Config
	Logger     *common.Logger
	JobManager *jobmanager.Manager
	Watcher    *watcher.Watcher

	StartupTime time.Time

	watcherCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable, so the
// pipeline can resolve relative config/data paths regardless of the
// working directory it is launched from.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration, wires every collaborator, and constructs
// the scheduler. configPath may be empty, in which case the default
// resolution logic is used. It does not start anything — call Start.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("ORCAPIPE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "orcapipe.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/orcapipe.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{
		config.Paths.InputDir, config.Paths.WaitingDir, config.Paths.WorkingDir,
		config.Paths.ProductsDir, config.Paths.StateDir, config.Paths.LogsDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := statestore.New(config.Paths.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	exec := executor.New(config.Orca.OrcaPath, logger)

	var molden archiver.MoldenConverter
	if conv := archiver.NewOrca2MklConverter(config.Orca.Orca2MklPath, logger); conv != nil {
		molden = conv
	}
	plotter := energyplot.NewRenderer()
	arch := archiver.New(config.Paths.ProductsDir, config.Orca.GenerateMolden, molden, plotter, logger)

	chain := chainbuilder.New(config.Paths.WaitingDir, &config.Orca)

	notif := notifier.New(config.Mail, logger)

	jobMgr := jobmanager.NewWithNotifyConfig(
		store, exec, arch, chain, notif, logger,
		config.Paths.WorkingDir, config.Paths.WaitingDir, config.Paths.ProductsDir,
		config.Orca.GetMaxParallelJobs(), config.Orca.GetMaxRetries(),
		config.Notifier.Threshold, config.Notifier.DebounceSeconds,
	)

	geometryWatcher := watcher.New(config.Paths.InputDir, config.Paths.WaitingDir, &config.Orca, logger)

	a := &App{
		Config:      config,
		Logger:      logger,
		JobManager:  jobMgr,
		Watcher:     geometryWatcher,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// Start launches the scheduler's worker pool (running crash recovery
// first) and the input-directory watcher.
func (a *App) Start(ctx context.Context) error {
	if err := a.JobManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watcherCancel = cancel
	go func() {
		if err := a.Watcher.Run(watchCtx, a.JobManager.Submit); err != nil {
			a.Logger.Warn().Err(err).Msg("Geometry watcher stopped")
		}
	}()

	return nil
}

// Close stops the watcher and scheduler in reverse-start order,
// waiting for in-flight solver runs to return.
func (a *App) Close() {
	if a.watcherCancel != nil {
		a.watcherCancel()
		a.watcherCancel = nil
	}
	if a.JobManager != nil {
		a.JobManager.Stop()
	}
}
