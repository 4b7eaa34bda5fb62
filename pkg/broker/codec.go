package broker

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/taskmesh/taskmesh/internal/pkg/encoding/json"
	"github.com/taskmesh/taskmesh/pkg/canvas"
)

// encodeMessage serializes and re-decodes the signature, so the consumer
// side observes exactly what a remote worker would observe.
func encodeMessage(sig *canvas.Signature) (*canvas.Signature, error) {
	data, err := json.Encode(sig, false)
	if err != nil {
		return nil, err
	}
	out := &canvas.Signature{}
	if err := json.Decode(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// deliveryDelay computes the delay from the countdown/eta options.
func deliveryDelay(sig *canvas.Signature, clk clock.Clock) (time.Duration, error) {
	if countdown, err := sig.Options.Countdown(); err != nil {
		return 0, err
	} else if countdown > 0 {
		return countdown, nil
	}
	if eta, err := sig.Options.ETA(); err != nil {
		return 0, err
	} else if !eta.IsZero() {
		return eta.Sub(clk.Now()), nil
	}
	return 0, nil
}
