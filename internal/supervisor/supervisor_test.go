package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/stompbridge/internal/config"
	"github.com/rickgao/stompbridge/internal/connection"
)

type fakeTarget struct {
	connected atomic.Bool

	mu     sync.Mutex
	delays []time.Duration
	errs   []error // returned by successive Reconnect calls; success once exhausted
	gate   chan struct{}
}

func (f *fakeTarget) URL() string       { return "ws://backend.test/ws" }
func (f *fakeTarget) IsConnected() bool { return f.connected.Load() }

func (f *fakeTarget) Reconnect(ctx context.Context, delay time.Duration) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, delay)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.connected.Store(true)
	return nil
}

func (f *fakeTarget) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

func testConfig() config.ReconnectConfig {
	return config.ReconnectConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
	}
}

func sessionError(kind connection.ErrorKind) *connection.SessionError {
	return &connection.SessionError{
		ID:   uuid.New(),
		URL:  "ws://backend.test/ws",
		Kind: kind,
		Err:  errors.New("boom"),
	}
}

func runSupervisor(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestTransportErrorTriggersReconnect(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testConfig(), nil, WithBackOff(&backoff.ZeroBackOff{}))
	runSupervisor(t, s)

	s.HandleError(sessionError(connection.ErrorKindTransport))

	require.Eventually(t, target.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, target.calls())
	assert.EqualValues(t, 1, s.Stats().Recovered)
}

func TestProtocolErrorWhileConnectedDoesNotReconnect(t *testing.T) {
	target := &fakeTarget{}
	target.connected.Store(true)

	var forwarded []*connection.SessionError
	downstream := connection.ErrorHandlerFunc(func(err *connection.SessionError) {
		forwarded = append(forwarded, err)
	})
	s := New(target, testConfig(), nil, WithDownstream(downstream))

	s.HandleError(sessionError(connection.ErrorKindProtocol))

	assert.Len(t, forwarded, 1)
	assert.Len(t, s.requests, 0)
	assert.EqualValues(t, 1, s.Stats().Errors)
}

func TestProtocolErrorOnDeadSessionReconnects(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testConfig(), nil)

	s.HandleError(sessionError(connection.ErrorKindProtocol))

	assert.Len(t, s.requests, 1)
}

func TestRequestsCoalesce(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testConfig(), nil)

	for i := 0; i < 5; i++ {
		s.HandleError(sessionError(connection.ErrorKindTransport))
	}

	assert.Len(t, s.requests, 1)
	assert.EqualValues(t, 4, s.Stats().Coalesced)
}

func TestRequestWhileReconnectingRunsOnce(t *testing.T) {
	target := &fakeTarget{gate: make(chan struct{})}
	s := New(target, testConfig(), nil, WithBackOff(&backoff.ZeroBackOff{}))
	runSupervisor(t, s)

	s.Request()
	require.Eventually(t, func() bool { return len(s.requests) == 0 }, time.Second, time.Millisecond)

	// Arrives while the first reconnect is blocked.
	s.Request()
	close(target.gate)

	require.Eventually(t, target.IsConnected, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.requests) == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, target.calls())
}

func TestRetriesWithGrowingDelay(t *testing.T) {
	target := &fakeTarget{errs: []error{errors.New("refused"), errors.New("refused")}}
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	policy.Reset()
	s := New(target, testConfig(), nil, WithBackOff(policy))
	runSupervisor(t, s)

	s.Request()

	require.Eventually(t, target.IsConnected, time.Second, 5*time.Millisecond)
	target.mu.Lock()
	delays := append([]time.Duration(nil), target.delays...)
	target.mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, delays)

	stats := s.Stats()
	assert.EqualValues(t, 3, stats.Attempts)
	assert.EqualValues(t, 2, stats.Failures)
	assert.EqualValues(t, 1, stats.Recovered)
}

func TestGivesUpWhenPolicyStops(t *testing.T) {
	target := &fakeTarget{}
	s := New(target, testConfig(), nil, WithBackOff(&backoff.StopBackOff{}))
	runSupervisor(t, s)

	s.Request()

	require.Eventually(t, func() bool { return len(s.requests) == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, target.calls())
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(&fakeTarget{}, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}

func TestNewBackOff(t *testing.T) {
	b := NewBackOff(testConfig())

	assert.Equal(t, 10*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 40*time.Millisecond, b.MaxInterval)
	assert.Equal(t, 2.0, b.Multiplier)
	assert.Zero(t, b.MaxElapsedTime)
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
}
