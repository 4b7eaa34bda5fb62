// Package client is the dispatch layer: it freezes signature trees,
// sends leaf messages to the broker and hands out result handles.
// Composites share the argument-merging contract of plain signatures,
// each kind only defines its own dispatch algorithm.
package client

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/internal/pkg/log"
	"github.com/taskmesh/taskmesh/pkg/backend"
	"github.com/taskmesh/taskmesh/pkg/broker"
	"github.com/taskmesh/taskmesh/pkg/canvas"
	"github.com/taskmesh/taskmesh/pkg/chordsync"
	"github.com/taskmesh/taskmesh/pkg/registry"
	"github.com/taskmesh/taskmesh/pkg/result"
)

type dependencies interface {
	Logger() log.Logger
	Clock() clock.Clock
	Registry() *registry.Registry
	Broker() broker.Broker
	Backend() backend.Backend
}

// Call carries dispatch-time extras, merged into the signature per the
// with-args contract: args are prepended, kwargs and options override.
type Call struct {
	Args    []any
	Kwargs  map[string]any
	Options canvas.Options
}

type Client struct {
	logger       log.Logger
	clock        clock.Clock
	registry     *registry.Registry
	broker       broker.Broker
	backend      backend.Backend
	engine       *chordsync.Engine
	pollInterval time.Duration
}

type config struct {
	chordMode    chordsync.Mode
	pollInterval time.Duration
}

type Option func(*config)

// WithChordMode overrides the backend-capability-based strategy selection.
func WithChordMode(mode chordsync.Mode) Option {
	return func(c *config) {
		c.chordMode = mode
	}
}

// WithPollInterval overrides how often result handles re-check the backend.
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) {
		c.pollInterval = interval
	}
}

func New(d dependencies, opts ...Option) *Client {
	cfg := config{chordMode: chordsync.ModeAuto, pollInterval: result.DefaultPollInterval}
	for _, o := range opts {
		o(&cfg)
	}
	c := &Client{
		logger:       d.Logger().AddPrefix("[client]"),
		clock:        d.Clock(),
		registry:     d.Registry(),
		broker:       d.Broker(),
		backend:      d.Backend(),
		pollInterval: cfg.pollInterval,
	}
	c.engine = chordsync.NewEngine(chordsync.Config{Mode: cfg.chordMode}, engineDependencies{c})
	return c
}

// ChordEngine exposes the synchronization engine for the worker wiring.
func (c *Client) ChordEngine() *chordsync.Engine {
	return c.engine
}

// engineDependencies adapts the client to the chordsync contract.
type engineDependencies struct {
	c *Client
}

func (d engineDependencies) Logger() log.Logger {
	return d.c.logger
}

func (d engineDependencies) Backend() backend.Backend {
	return d.c.backend
}

func (d engineDependencies) Broker() broker.Broker {
	return d.c.broker
}

func (d engineDependencies) Dispatcher() chordsync.Dispatcher {
	return d.c
}

func (c *Client) asyncResult(id string, parent *result.AsyncResult) *result.AsyncResult {
	return result.NewAsyncResult(id, parent, c.backend, c.clock).WithPollInterval(c.pollInterval)
}

func (c *Client) groupResult(groupID string, members []*result.AsyncResult) *result.GroupResult {
	return result.NewGroupResult(groupID, members, c.clock).WithPollInterval(c.pollInterval)
}

var _ chordsync.Dispatcher = (*Client)(nil)

// DispatchSignature dispatches an already frozen signature, it is used
// for callbacks and chord bodies where no new handle is needed.
func (c *Client) DispatchSignature(ctx context.Context, sig *canvas.Signature) error {
	_, err := c.dispatchFrozen(ctx, sig)
	return err
}
