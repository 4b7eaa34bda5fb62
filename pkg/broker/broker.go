// Package broker defines the transport contract used by the dispatch
// layer. The message payload is the frozen leaf signature itself, the
// transport delivers at-least-once with no ordering guarantee across
// distinct messages.
package broker

import (
	"context"

	"github.com/taskmesh/taskmesh/pkg/canvas"
)

type Broker interface {
	// Enqueue sends the frozen signature for asynchronous execution.
	// The countdown/eta options delay the delivery, not the send.
	Enqueue(ctx context.Context, sig *canvas.Signature) error
}

// Consumer is the receiving side of a broker, implemented by transports
// that can feed an in-process worker. The channel is closed on Close.
type Consumer interface {
	Queue() <-chan *canvas.Signature
}
