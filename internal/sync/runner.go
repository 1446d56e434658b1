package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"go.uber.org/zap"
)

// RunState is the lifecycle of a background sync job.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// RunStatus is a poll-friendly snapshot of the background worker.
type RunStatus struct {
	State      RunState `json:"state"`
	PlaylistID string   `json:"playlist_id,omitempty"`
	Progress   Progress `json:"progress"`
	Summary    Summary  `json:"summary"`
	Err        string   `json:"error,omitempty"`
}

// Runner executes sync jobs on a single background goroutine while the
// caller polls RunStatus. Only one sync runs at a time; starting a second
// while one is active is an error.
type Runner struct {
	logger *zap.Logger

	mu      stdsync.Mutex
	status  RunStatus
	engine  *Engine
	running bool
	wg      stdsync.WaitGroup
}

// NewRunner creates an idle runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger: logger,
		status: RunStatus{State: RunStateIdle},
	}
}

// Start launches engine.Run on the background worker. The engine's notifier
// is chained so progress lands in the polled status.
func (r *Runner) Start(ctx context.Context, engine *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("a sync is already running")
	}

	inner := engine.deps.Notifier
	engine.deps.Notifier = FuncNotifier(func(p Progress) {
		r.mu.Lock()
		r.status.Progress = p
		r.mu.Unlock()
		if inner != nil {
			inner.Notify(p)
		}
	})

	r.engine = engine
	r.running = true
	r.status = RunStatus{State: RunStateRunning, PlaylistID: engine.cfg.PlaylistID}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		summary, err := engine.Run(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		r.running = false
		r.status.Summary = summary
		switch {
		case err != nil:
			r.status.State = RunStateFailed
			r.status.Err = err.Error()
		case summary.Cancelled:
			r.status.State = RunStateCancelled
		default:
			r.status.State = RunStateCompleted
		}
		r.logger.Info("background sync finished",
			zap.String("playlist_id", engine.cfg.PlaylistID),
			zap.String("state", string(r.status.State)))
	}()

	return nil
}

// Cancel forwards a cancel request to the running engine, if any.
func (r *Runner) Cancel() {
	r.mu.Lock()
	engine := r.engine
	running := r.running
	r.mu.Unlock()

	if running && engine != nil {
		engine.Cancel()
	}
}

// Status returns the latest snapshot.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until the current job, if any, finishes. Intended for CLI use
// where the caller has nothing else to do.
func (r *Runner) Wait() {
	r.wg.Wait()
}
