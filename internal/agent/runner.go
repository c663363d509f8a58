// internal/agent/runner.go
package agent

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanderlust-sh/wander/api/schemas"
)

// SessionSpec describes one session to run.
type SessionSpec struct {
	InitialURL string
	Goal       string
	Queued     []AbstractAction
	Persona    *schemas.Persona
}

// Job pairs a spec with the controller that will run it. Each job must own
// its controller; controllers are never shared between jobs.
type Job struct {
	Spec       SessionSpec
	Controller *Controller
}

// Result is the outcome of one job.
type Result struct {
	Status SessionStatus
	Err    error
}

// Runner drives multiple independent sessions concurrently. Sessions do not
// share state; one session dying does not stop the others.
type Runner struct {
	parallel int
	logger   *zap.Logger
}

// NewRunner creates a runner that keeps at most parallel sessions in flight.
// parallel <= 0 means unbounded.
func NewRunner(parallel int, logger *zap.Logger) *Runner {
	return &Runner{parallel: parallel, logger: logger.Named("runner")}
}

// Run executes all jobs and returns one result per job, in job order. It
// only returns early when the context is cancelled; per-session failures are
// reported in the results, not as a group error.
func (r *Runner) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	g := &errgroup.Group{}
	if r.parallel > 0 {
		g.SetLimit(r.parallel)
	}

	for i, job := range jobs {
		g.Go(func() error {
			results[i] = r.runOne(ctx, job)
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Runner) runOne(ctx context.Context, job Job) Result {
	ctrl := job.Controller

	if err := ctrl.Start(ctx, job.Spec.InitialURL, job.Spec.Goal, job.Spec.Queued, job.Spec.Persona); err != nil {
		r.logger.Error("Session failed to start",
			zap.String("url", job.Spec.InitialURL),
			zap.Error(err))
		return Result{Status: ctrl.End(), Err: err}
	}

	err := ctrl.Run(ctx)
	status := ctrl.End()
	if err != nil && ctx.Err() == nil {
		r.logger.Error("Session ended with error",
			zap.String("session_id", status.ID),
			zap.Error(err))
	}
	return Result{Status: status, Err: err}
}
