package workers

import (
	"context"
	"time"

	"marketintel/pkg/logger"
)

// Worker defines the interface for background workers.
type Worker interface {
	// Name returns the unique identifier for this worker.
	Name() string

	// Run executes one iteration of the worker's task. The scheduler calls
	// it repeatedly based on Interval.
	Run(ctx context.Context) error

	// Interval returns how often this worker should run.
	Interval() time.Duration

	// Enabled returns whether this worker is active.
	Enabled() bool
}

// BaseWorker provides common functionality for workers. Execution health is
// exported through the worker metrics rather than tracked here.
type BaseWorker struct {
	name     string
	interval time.Duration
	enabled  bool
	log      *logger.Logger
}

// NewBaseWorker creates a new base worker.
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		enabled:  enabled,
		log:      logger.Get().With("worker", name),
	}
}

// Name returns the worker name.
func (w *BaseWorker) Name() string {
	return w.name
}

// Interval returns the run interval.
func (w *BaseWorker) Interval() time.Duration {
	return w.interval
}

// Enabled returns whether the worker is enabled.
func (w *BaseWorker) Enabled() bool {
	return w.enabled
}

// Log returns the logger.
func (w *BaseWorker) Log() *logger.Logger {
	return w.log
}
