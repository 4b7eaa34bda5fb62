package broker

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/internal/pkg/log"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
	"github.com/taskmesh/taskmesh/pkg/canvas"
)

const defaultBufferSize = 1024

// Memory is an in-process reference implementation of the Broker
// contract, it feeds the local worker and the tests. Messages cross the
// queue as JSON-encoded values, so anything that would not survive a
// real transport does not survive here either.
type Memory struct {
	clock  clock.Clock
	logger log.Logger

	lock   *sync.Mutex
	closed bool
	queue  chan *canvas.Signature
}

func NewMemory(clk clock.Clock, logger log.Logger) *Memory {
	return &Memory{
		clock:  clk,
		logger: logger.AddPrefix("[broker]"),
		lock:   &sync.Mutex{},
		queue:  make(chan *canvas.Signature, defaultBufferSize),
	}
}

func (b *Memory) Enqueue(ctx context.Context, sig *canvas.Signature) error {
	if !sig.IsFrozen() {
		return errors.New("cannot enqueue: signature is not frozen")
	}

	// Round-trip through the codec, see the Memory doc comment.
	msg, err := encodeMessage(sig)
	if err != nil {
		return err
	}

	delay, err := deliveryDelay(sig, b.clock)
	if err != nil {
		return err
	}

	if delay <= 0 {
		return b.push(msg)
	}

	b.logger.Debugf(`message "%s" delayed by %s`, sig.ID, delay)
	b.clock.AfterFunc(delay, func() {
		if err := b.push(msg); err != nil {
			b.logger.Errorf(`cannot deliver delayed message "%s": %s`, msg.ID, err)
		}
	})
	return nil
}

// Queue returns the delivery channel consumed by the worker.
func (b *Memory) Queue() <-chan *canvas.Signature {
	return b.queue
}

// Close stops the delivery, pending delayed messages are dropped.
func (b *Memory) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
}

func (b *Memory) push(msg *canvas.Signature) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	select {
	case b.queue <- msg:
		return nil
	default:
		return errors.New("broker queue is full")
	}
}
