// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/agent"
	"github.com/wanderlust-sh/wander/internal/browser"
	"github.com/wanderlust-sh/wander/internal/config"
	"github.com/wanderlust-sh/wander/internal/llmclient"
	"github.com/wanderlust-sh/wander/internal/loadavg"
	"github.com/wanderlust-sh/wander/internal/observability"
	"github.com/wanderlust-sh/wander/internal/profile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const loadSampleInterval = 15 * time.Second

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [start-url]",
		Short: "Runs one or more autonomous browsing sessions",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so they override config file and env values.
			if err := viper.BindPFlag("session.min_duration", cmd.Flags().Lookup("duration")); err != nil {
				return err
			}
			if err := viper.BindPFlag("profile.persona", cmd.Flags().Lookup("persona")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			goal, _ := cmd.Flags().GetString("goal")
			sessions, _ := cmd.Flags().GetInt("sessions")
			tasksFile, _ := cmd.Flags().GetString("tasks")
			if sessions < 1 {
				sessions = 1
			}

			queued, err := loadTasks(tasksFile)
			if err != nil {
				return err
			}

			persona, personaStore, err := loadPersona(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if personaStore != nil {
				defer personaStore.Close()
			}

			logger.Info("Starting browsing run",
				zap.String("url", args[0]),
				zap.String("goal", goal),
				zap.Int("sessions", sessions),
				zap.Int("queued_tasks", len(queued)))

			return runSessions(ctx, cfg, args[0], goal, queued, persona, personaStore, sessions, logger)
		},
	}

	runCmd.Flags().String("goal", "pass the time browsing things you find interesting", "high-level goal for the session")
	runCmd.Flags().Int("sessions", 1, "number of concurrent sessions")
	runCmd.Flags().String("tasks", "", "JSON file with actions to execute before AI planning starts")
	runCmd.Flags().Duration("duration", 0, "minimum session duration (overrides config)")
	runCmd.Flags().String("persona", "", "persona name to load from the profile store")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	return runCmd
}

// runSessions wires the full stack and drives all sessions to completion.
func runSessions(
	ctx context.Context,
	cfg *config.Config,
	startURL, goal string,
	queued []agent.AbstractAction,
	persona *schemas.Persona,
	personaStore *profile.Store,
	sessions int,
	logger *zap.Logger,
) error {
	llm, err := llmclient.NewClient(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to build backend clients: %w", err)
	}
	defer llm.Close()

	monitor := loadavg.NewMonitor(logger, loadavg.ProcSampler, loadSampleInterval, 8)

	g, runCtx := errgroup.WithContext(ctx)
	monitorCtx, stopMonitor := context.WithCancel(runCtx)
	defer stopMonitor()
	g.Go(func() error {
		return monitor.Run(monitorCtx)
	})

	// One restart if every session lost its browser; anything else is final.
	var results []agent.Result
	for attempt := 0; attempt < 2; attempt++ {
		results, err = runPass(runCtx, cfg, llm, monitor, startURL, goal, queued, persona, sessions, logger)
		if err != nil {
			return err
		}
		if runCtx.Err() != nil || !allBrowserGone(results) {
			break
		}
		logger.Warn("All sessions lost the browser, restarting it once")
	}

	stopMonitor()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Load monitor stopped with error", zap.Error(err))
	}

	return reportResults(ctx, results, persona, personaStore, logger)
}

// runPass runs all sessions against one browser process.
func runPass(
	ctx context.Context,
	cfg *config.Config,
	llm schemas.LLMClient,
	monitor *loadavg.Monitor,
	startURL, goal string,
	queued []agent.AbstractAction,
	persona *schemas.Persona,
	sessions int,
	logger *zap.Logger,
) ([]agent.Result, error) {
	launcher := browser.NewLauncher(ctx, cfg.Browser, logger)
	defer launcher.Close()

	jobs := make([]agent.Job, 0, sessions)
	for i := 0; i < sessions; i++ {
		page, err := launcher.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to open session tab: %w", err)
		}
		planner := agent.NewPlanner(cfg.Planner, llm, monitor.Average, logger)
		ctrl := agent.NewController(cfg.Session, cfg.Planner.HistoryLookback,
			page, browser.NewScanner(logger), browser.NewExecutor(cfg.Browser, logger), planner, logger)

		spec := agent.SessionSpec{InitialURL: startURL, Goal: goal, Persona: persona}
		if i == 0 {
			// Queued tasks belong to the first session only; the rest
			// plan from scratch.
			spec.Queued = queued
		}
		jobs = append(jobs, agent.Job{Spec: spec, Controller: ctrl})
	}

	return agent.NewRunner(sessions, logger).Run(ctx, jobs), nil
}

// allBrowserGone reports whether every session died with a fatal browser
// error, which is the only failure worth one restart.
func allBrowserGone(results []agent.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if res.Err == nil || !agent.IsFatal(res.Err) {
			return false
		}
	}
	return true
}

// reportResults logs per-session outcomes and folds them into the persona's
// stored counters when a store is configured.
func reportResults(
	ctx context.Context,
	results []agent.Result,
	persona *schemas.Persona,
	personaStore *profile.Store,
	logger *zap.Logger,
) error {
	var failed int
	for _, res := range results {
		status := res.Status
		logger.Info("Session finished",
			zap.String("session_id", status.ID),
			zap.Duration("duration", status.Duration),
			zap.Int("actions", status.ActionCount),
			zap.Int("failed_actions", status.FailedCount),
			zap.String("final_url", status.FinalURL),
			zap.Error(res.Err))
		if res.Err != nil {
			failed++
		}

		if personaStore != nil && persona != nil {
			if err := personaStore.RecordSession(ctx, persona.Name, status.ActionCount, status.FailedCount); err != nil {
				logger.Warn("Failed to record session stats", zap.Error(err))
			}
		}
	}

	if failed == len(results) && len(results) > 0 {
		return fmt.Errorf("all %d sessions failed", len(results))
	}
	return nil
}

// loadTasks reads an optional JSON file of actions to run before planning.
func loadTasks(path string) ([]agent.AbstractAction, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	var tasks []agent.AbstractAction
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file %s: %w", path, err)
	}
	for _, t := range tasks {
		if !agent.KnownKind(t.Kind) {
			return nil, fmt.Errorf("tasks file %s contains unknown action kind %q", path, t.Kind)
		}
	}
	return tasks, nil
}

// loadPersona resolves the configured persona from the profile store. With
// the store disabled, sessions run without a persona.
func loadPersona(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*schemas.Persona, *profile.Store, error) {
	if !cfg.Profile.Enabled {
		return nil, nil, nil
	}

	store, err := profile.Connect(ctx, cfg.Profile.DatabaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect profile store: %w", err)
	}

	persona, err := store.Load(ctx, cfg.Profile.Persona)
	if err != nil {
		if errors.Is(err, profile.ErrPersonaNotFound) {
			logger.Info("Persona not found, creating it", zap.String("persona", cfg.Profile.Persona))
			persona = &schemas.Persona{Name: cfg.Profile.Persona}
			if saveErr := store.Save(ctx, persona); saveErr != nil {
				store.Close()
				return nil, nil, saveErr
			}
			return persona, store, nil
		}
		store.Close()
		return nil, nil, err
	}
	return persona, store, nil
}
