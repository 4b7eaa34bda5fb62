package canvas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Merge(t *testing.T) {
	t.Parallel()
	base := Options{OptQueue: "q1", OptCountdown: 1}
	merged := base.Merge(Options{OptQueue: "q2", OptRetry: true})
	assert.Equal(t, Options{OptQueue: "q2", OptCountdown: 1, OptRetry: true}, merged)
	assert.Equal(t, Options{OptQueue: "q1", OptCountdown: 1}, base)
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Options{}.Validate())
	require.NoError(t, Options{OptCountdown: 1.5, OptQueue: "q", OptChordPolicy: ChordPolicyPropagate}.Validate())

	var optErr *InvalidOptionsError

	err := Options{"no_such_option": 1}.Validate()
	require.Error(t, err)
	require.ErrorAs(t, err, &optErr)
	assert.Equal(t, "no_such_option", optErr.Key)

	err = Options{OptCountdown: "not a number"}.Validate()
	require.Error(t, err)

	err = Options{OptMaxRetries: -1}.Validate()
	require.Error(t, err)

	err = Options{OptChordPolicy: "invalid"}.Validate()
	require.Error(t, err)
}

func TestOptions_Getters(t *testing.T) {
	t.Parallel()

	o := Options{OptCountdown: 1.5, OptInterval: 2, OptMaxRetries: 3, OptETA: "2026-01-02T03:04:05Z"}

	countdown, err := o.Countdown()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, countdown)

	interval, err := o.Interval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, interval)

	maxRetries, err := o.MaxRetries()
	require.NoError(t, err)
	assert.Equal(t, 3, maxRetries)
	assert.True(t, o.HasMaxRetries())
	assert.False(t, Options{}.HasMaxRetries())

	eta, err := o.ETA()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), eta.UTC())

	assert.Equal(t, ChordPolicyCollect, o.ChordPolicy(ChordPolicyCollect))
	assert.Equal(t, ChordPolicyPropagate, Options{OptChordPolicy: ChordPolicyPropagate}.ChordPolicy(ChordPolicyCollect))

	assert.False(t, o.Retry())
	assert.True(t, Options{OptRetry: true}.Retry())
}
