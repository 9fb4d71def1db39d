package temporal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/slr-pipeline/internal/config"
	"github.com/helixir/slr-pipeline/internal/domain"
)

// WorkerConfig configures the worker pool of one queue.
type WorkerConfig struct {
	// Queue is the logical queue name.
	Queue domain.Queue

	// TaskQueue is the name of the Temporal task queue to poll.
	TaskQueue string

	// Concurrency is the number of jobs the pool runs at once. It bounds
	// both activity executions and workflow task executions.
	Concurrency int
}

// WorkerConfigs returns one WorkerConfig per enabled queue, in queue order.
func WorkerConfigs(cfg config.QueuesConfig) []WorkerConfig {
	var out []WorkerConfig
	for _, q := range cfg.All() {
		if !q.Enabled {
			continue
		}
		out = append(out, WorkerConfig{
			Queue:       domain.Queue(q.Name),
			TaskQueue:   q.TaskQueue,
			Concurrency: q.Concurrency,
		})
	}
	return out
}

// workerOptionsFromConfig builds worker.Options from WorkerConfig.
func workerOptionsFromConfig(cfg WorkerConfig) worker.Options {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return worker.Options{
		MaxConcurrentActivityExecutionSize: concurrency,
		// The SDK rejects a workflow task slot count of one.
		MaxConcurrentWorkflowTaskExecutionSize: max(concurrency, 2),
		MaxConcurrentActivityTaskPollers:       min(concurrency, 4),
		MaxConcurrentWorkflowTaskPollers:       2,
	}
}

type queueWorker struct {
	cfg    WorkerConfig
	worker worker.Worker
}

// WorkerManager runs one Temporal worker per queue. Every worker registers
// the same workflows and activities, so any job type may be routed to any
// queue.
type WorkerManager struct {
	workers []queueWorker
	logger  zerolog.Logger
}

// NewWorkerManager creates a worker for every entry of configs.
func NewWorkerManager(c client.Client, configs []WorkerConfig, logger zerolog.Logger) (*WorkerManager, error) {
	return newWorkerManager(configs, logger, func(cfg WorkerConfig) worker.Worker {
		return worker.New(c, cfg.TaskQueue, workerOptionsFromConfig(cfg))
	})
}

func newWorkerManager(configs []WorkerConfig, logger zerolog.Logger, build func(WorkerConfig) worker.Worker) (*WorkerManager, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("at least one queue must be enabled")
	}

	m := &WorkerManager{logger: logger.With().Str("component", "worker").Logger()}
	for _, cfg := range configs {
		if cfg.TaskQueue == "" {
			return nil, fmt.Errorf("queue %q: task queue is required", cfg.Queue)
		}
		m.workers = append(m.workers, queueWorker{cfg: cfg, worker: build(cfg)})
	}
	return m, nil
}

// RegisterWorkflow registers fn under name on every worker.
func (m *WorkerManager) RegisterWorkflow(name string, fn interface{}) {
	for _, qw := range m.workers {
		qw.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
	}
}

// RegisterActivity registers an activity function or struct on every worker.
func (m *WorkerManager) RegisterActivity(a interface{}) {
	for _, qw := range m.workers {
		qw.worker.RegisterActivityWithOptions(a, activity.RegisterOptions{})
	}
}

// Queues returns the task queues being polled.
func (m *WorkerManager) Queues() []string {
	out := make([]string, 0, len(m.workers))
	for _, qw := range m.workers {
		out = append(out, qw.cfg.TaskQueue)
	}
	return out
}

// Start starts every worker and blocks until ctx is cancelled, then stops
// them. If a worker fails to start, the ones already running are stopped.
func (m *WorkerManager) Start(ctx context.Context) error {
	for i, qw := range m.workers {
		if err := qw.worker.Start(); err != nil {
			m.stop(m.workers[:i])
			return fmt.Errorf("start worker for queue %s: %w", qw.cfg.Queue, err)
		}
		m.logger.Info().
			Str("queue", string(qw.cfg.Queue)).
			Str("task_queue", qw.cfg.TaskQueue).
			Int("concurrency", qw.cfg.Concurrency).
			Msg("worker started")
	}

	<-ctx.Done()
	m.Stop()
	return ctx.Err()
}

// Stop stops every worker, waiting for in-flight tasks to drain.
func (m *WorkerManager) Stop() {
	m.stop(m.workers)
}

func (m *WorkerManager) stop(workers []queueWorker) {
	var g errgroup.Group
	for _, qw := range workers {
		g.Go(func() error {
			qw.worker.Stop()
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info().Int("workers", len(workers)).Msg("workers stopped")
}
