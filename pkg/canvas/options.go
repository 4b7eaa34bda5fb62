package canvas

import (
	"time"

	"github.com/spf13/cast"
)

// Execution option keys recognized by the dispatch layer.
// An unrecognized key fails the dispatch with InvalidOptionsError.
const (
	OptCountdown   = "countdown"    // seconds, delay before the message becomes available
	OptETA         = "eta"          // absolute time, RFC3339, alternative to countdown
	OptQueue       = "queue"        // target queue name
	OptRetry       = "retry"        // bool, retry the message delivery on broker error
	OptMaxRetries  = "max_retries"  // int, bound for delivery and chord-poll retries
	OptInterval    = "interval"     // seconds, chord polling interval
	OptChordPolicy = "chord_policy" // "collect" or "propagate"
)

// Chord header-failure policies, see the chordsync package.
const (
	ChordPolicyCollect   = "collect"
	ChordPolicyPropagate = "propagate"
)

// Options is a mapping of execution options attached to a signature.
// Options constrain how a task is dispatched, never what it computes,
// so they merge even into immutable signatures.
type Options map[string]any

// Merge returns a new mapping with the extra values taking precedence.
func (o Options) Merge(extra Options) Options {
	if len(extra) == 0 {
		return o
	}
	out := make(Options, len(o)+len(extra))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Validate checks that all option keys are recognized and the values have expected types.
func (o Options) Validate() error {
	for key := range o {
		switch key {
		case OptCountdown, OptETA, OptQueue, OptRetry, OptMaxRetries, OptInterval, OptChordPolicy:
			// known key
		default:
			return &InvalidOptionsError{Key: key, Reason: "unrecognized option"}
		}
	}
	if _, err := o.Countdown(); err != nil {
		return err
	}
	if _, err := o.ETA(); err != nil {
		return err
	}
	if _, err := o.MaxRetries(); err != nil {
		return err
	}
	if _, err := o.Interval(); err != nil {
		return err
	}
	if policy, ok := o[OptChordPolicy]; ok {
		if policy != ChordPolicyCollect && policy != ChordPolicyPropagate {
			return &InvalidOptionsError{Key: OptChordPolicy, Reason: `expected "collect" or "propagate"`}
		}
	}
	return nil
}

// Countdown returns the dispatch delay, zero if not set.
func (o Options) Countdown() (time.Duration, error) {
	v, ok := o[OptCountdown]
	if !ok {
		return 0, nil
	}
	seconds, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, &InvalidOptionsError{Key: OptCountdown, Reason: "expected a number of seconds"}
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ETA returns the absolute dispatch time, zero time if not set.
func (o Options) ETA() (time.Time, error) {
	v, ok := o[OptETA]
	if !ok {
		return time.Time{}, nil
	}
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	str, err := cast.ToStringE(v)
	if err != nil {
		return time.Time{}, &InvalidOptionsError{Key: OptETA, Reason: "expected a RFC3339 time"}
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return time.Time{}, &InvalidOptionsError{Key: OptETA, Reason: "expected a RFC3339 time"}
	}
	return t, nil
}

// Queue returns the target queue name, empty if not set.
func (o Options) Queue() string {
	return cast.ToString(o[OptQueue])
}

// Retry reports whether the message delivery should be retried on a
// broker error.
func (o Options) Retry() bool {
	return cast.ToBool(o[OptRetry])
}

// MaxRetries returns the retry bound, zero if not set.
// HasMaxRetries distinguishes an explicit zero from an absent bound.
func (o Options) MaxRetries() (int, error) {
	v, ok := o[OptMaxRetries]
	if !ok {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil || n < 0 {
		return 0, &InvalidOptionsError{Key: OptMaxRetries, Reason: "expected a non-negative integer"}
	}
	return n, nil
}

// HasMaxRetries reports whether the retry bound was set explicitly.
func (o Options) HasMaxRetries() bool {
	_, ok := o[OptMaxRetries]
	return ok
}

// Interval returns the chord polling interval, zero if not set.
func (o Options) Interval() (time.Duration, error) {
	v, ok := o[OptInterval]
	if !ok {
		return 0, nil
	}
	seconds, err := cast.ToFloat64E(v)
	if err != nil || seconds < 0 {
		return 0, &InvalidOptionsError{Key: OptInterval, Reason: "expected a non-negative number of seconds"}
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ChordPolicy returns the header-failure policy, defaultPolicy if not set.
func (o Options) ChordPolicy(defaultPolicy string) string {
	if v, ok := o[OptChordPolicy]; ok {
		return cast.ToString(v)
	}
	return defaultPolicy
}
