package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("upstream down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(clk *clock, cfg Config) *CircuitBreaker {
	cfg.now = clk.now
	return NewCircuitBreaker("test", cfg)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, Config{FailureThreshold: 2, OpenTimeout: time.Minute})

	fail := func() error { return errUpstream }

	assert.ErrorIs(t, cb.Execute(fail), errUpstream)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, Config{FailureThreshold: 1, OpenTimeout: time.Minute})

	_ = cb.Execute(func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())

	clk.t = clk.t.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, Config{FailureThreshold: 1, OpenTimeout: time.Minute})

	_ = cb.Execute(func() error { return errUpstream })
	clk.t = clk.t.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	badRequest := errors.New("bad request")
	cb := newTestBreaker(clk, Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, badRequest) },
	})

	assert.ErrorIs(t, cb.Execute(func() error { return badRequest }), badRequest)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	var transitions []string
	cb := newTestBreaker(clk, Config{
		FailureThreshold: 1,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errUpstream })
	assert.Equal(t, []string{"closed->open"}, transitions)
}
