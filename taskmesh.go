// Package taskmesh wires the pieces of the task-composition layer into
// one in-process application: task registry, memory broker, result
// backend, dispatch client and worker node. Library users who bring
// their own transport or backend compose the sub-packages directly.
package taskmesh

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/internal/pkg/log"
	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/broker"
	"github.com/taskmesh/taskmesh/pkg/chordsync"
	"github.com/taskmesh/taskmesh/pkg/client"
	"github.com/taskmesh/taskmesh/pkg/registry"
	"github.com/taskmesh/taskmesh/pkg/worker"
)

// Config of the in-process application, zero values select defaults:
// a nop logger, the wall clock, the memory backend, the auto chord
// strategy and the default worker pool size.
type Config struct {
	Logger       log.Logger
	Clock        clock.Clock
	Backend      backend.Backend
	ChordMode    chordsync.Mode
	Concurrency  int
	PollInterval time.Duration
}

// App is the composed in-process application.
type App struct {
	logger   log.Logger
	clock    clock.Clock
	registry *registry.Registry
	broker   *broker.Memory
	backend  backend.Backend
	client   *client.Client
	worker   *worker.Node
}

func New(cfg Config) *App {
	app := &App{
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		backend:  cfg.Backend,
		registry: registry.New(),
	}
	if app.logger == nil {
		app.logger = log.NewNopLogger()
	}
	if app.clock == nil {
		app.clock = clock.New()
	}
	if app.backend == nil {
		app.backend = backend.NewMemory(app.clock)
	}
	app.broker = broker.NewMemory(app.clock, app.logger)

	var clientOpts []client.Option
	if cfg.ChordMode != "" {
		clientOpts = append(clientOpts, client.WithChordMode(cfg.ChordMode))
	}
	if cfg.PollInterval > 0 {
		clientOpts = append(clientOpts, client.WithPollInterval(cfg.PollInterval))
	}
	app.client = client.New(app, clientOpts...)

	// The chord polling check task runs on the worker like any other task.
	app.registry.MustRegister(app.client.ChordEngine().UnlockTask())

	var workerOpts []worker.Option
	if cfg.Concurrency > 0 {
		workerOpts = append(workerOpts, worker.WithConcurrency(cfg.Concurrency))
	}
	app.worker = worker.NewNode(app, app.broker, app.client, app.client.ChordEngine(), workerOpts...)
	return app
}

// NewVerbose is a shortcut for local debugging: a verbose logger
// writing to the given output.
func NewVerbose(out io.Writer) *App {
	return New(Config{Logger: log.NewServiceLogger(out, true)})
}

func (a *App) Logger() log.Logger {
	return a.logger
}

func (a *App) Clock() clock.Clock {
	return a.clock
}

func (a *App) Registry() *registry.Registry {
	return a.registry
}

func (a *App) Broker() broker.Broker {
	return a.broker
}

func (a *App) Backend() backend.Backend {
	return a.backend
}

func (a *App) Client() *client.Client {
	return a.client
}

func (a *App) Worker() *worker.Node {
	return a.worker
}

// Start runs the worker pool until the context is cancelled or the
// broker is closed, it blocks the calling goroutine.
func (a *App) Start(ctx context.Context) error {
	return a.worker.Start(ctx)
}

// Close stops message delivery. Workers drain the queue and stop.
func (a *App) Close() {
	a.broker.Close()
}
