// Package supervisor decides when a connection manager reconnects.
//
// A Supervisor is installed as a manager's error handler. Transport errors, and
// protocol errors that leave the session dead, schedule a reconnect on the
// supervisor's worker goroutine. At most one reconnect is pending at a time;
// requests arriving while one is queued are coalesced. Delays between attempts
// come from an exponential backoff that is reset after every success.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rickgao/stompbridge/internal/config"
	"github.com/rickgao/stompbridge/internal/connection"
)

// Reconnector is the part of connection.Manager the supervisor drives.
type Reconnector interface {
	URL() string
	IsConnected() bool
	Reconnect(ctx context.Context, delay time.Duration) error
}

// Supervisor reconnects a manager after session failures.
type Supervisor struct {
	target     Reconnector
	policy     backoff.BackOff
	downstream connection.ErrorHandler
	logger     *slog.Logger

	requests chan struct{}

	errorsSeen atomic.Int64
	coalesced  atomic.Int64
	attempts   atomic.Int64
	failures   atomic.Int64
	recovered  atomic.Int64
}

// Stats provides statistics about a supervisor.
type Stats struct {
	Errors    int64
	Coalesced int64
	Attempts  int64
	Failures  int64
	Recovered int64
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDownstream forwards every error to h after the supervisor has seen it.
func WithDownstream(h connection.ErrorHandler) Option {
	return func(s *Supervisor) { s.downstream = h }
}

// WithBackOff replaces the delay policy built from the reconnect config.
func WithBackOff(b backoff.BackOff) Option {
	return func(s *Supervisor) { s.policy = b }
}

// NewBackOff builds the exponential policy for cfg. It never gives up.
func NewBackOff(cfg config.ReconnectConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// New creates a supervisor for target. Call Run to start the worker.
func New(target Reconnector, cfg config.ReconnectConfig, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		target:   target,
		policy:   NewBackOff(cfg),
		logger:   logger.With("component", "supervisor", "url", target.URL()),
		requests: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleError implements connection.ErrorHandler.
func (s *Supervisor) HandleError(err *connection.SessionError) {
	s.errorsSeen.Add(1)

	s.logger.Warn("session error",
		"kind", err.Kind,
		"error_id", err.ID,
		"error", err.Err,
	)

	if s.downstream != nil {
		s.downstream.HandleError(err)
	}

	if err.Kind == connection.ErrorKindTransport || !s.target.IsConnected() {
		s.Request()
	}
}

// Request schedules a reconnect unless one is already pending.
func (s *Supervisor) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
		s.coalesced.Add(1)
	}
}

// Run processes reconnect requests until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.requests:
			s.reconnect(ctx)
		}
	}
}

// reconnect retries until the target is connected, the policy gives up, or ctx ends.
func (s *Supervisor) reconnect(ctx context.Context) {
	for {
		if s.target.IsConnected() {
			s.policy.Reset()
			return
		}

		delay := s.policy.NextBackOff()
		if delay == backoff.Stop {
			s.logger.Error("giving up reconnecting")
			s.policy.Reset()
			return
		}

		s.attempts.Add(1)
		err := s.target.Reconnect(ctx, delay)
		if err == nil {
			s.recovered.Add(1)
			s.policy.Reset()
			s.logger.Info("reconnected")
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.failures.Add(1)
		s.logger.Warn("reconnect failed", "error", err)
	}
}

// Stats returns supervisor statistics.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Errors:    s.errorsSeen.Load(),
		Coalesced: s.coalesced.Load(),
		Attempts:  s.attempts.Load(),
		Failures:  s.failures.Load(),
		Recovered: s.recovered.Load(),
	}
}
