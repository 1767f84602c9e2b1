package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// fakeClient hands out fakeSessions and records connect attempts.
type fakeClient struct {
	mu         sync.Mutex
	connects   int
	headers    []http.Header
	connectErr error
	sessions   []*fakeSession

	// configure is applied to every new session before it is returned.
	configure func(*fakeSession)

	// When hold is set, Connect signals entered and waits for hold to close.
	hold    chan struct{}
	entered chan struct{}
}

func (c *fakeClient) Connect(ctx context.Context, uri string, header http.Header, handler SessionHandler) (Session, error) {
	c.mu.Lock()
	c.connects++
	c.headers = append(c.headers, header)
	err := c.connectErr
	hold, entered := c.hold, c.entered
	c.mu.Unlock()

	if hold != nil {
		entered <- struct{}{}
		<-hold
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	s := &fakeSession{
		id:            fmt.Sprintf("session-%d", len(c.sessions)+1),
		connected:     true,
		handler:       handler,
		failSubscribe: make(map[string]error),
	}
	if c.configure != nil {
		c.configure(s)
	}
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()

	handler.AfterConnected(s)
	return s, nil
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) session(i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

func (c *fakeClient) sessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

type sentMessage struct {
	destination string
	body        []byte
	object      any
	serialized  bool
}

// fakeSession is a spy Session.
type fakeSession struct {
	id      string
	handler SessionHandler

	mu            sync.Mutex
	connected     bool
	subscribes    []string
	unsubscribes  []string
	sent          []sentMessage
	disconnects   int
	disconnectErr error
	failSubscribe map[string]error
	nextHandle    int

	subscribeDelay time.Duration
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Send(destination string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.sent = append(s.sent, sentMessage{destination: destination, body: body})
	return nil
}

func (s *fakeSession) SendObject(destination string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.sent = append(s.sent, sentMessage{destination: destination, object: v, serialized: true})
	return nil
}

func (s *fakeSession) Subscribe(destination string, handler FrameHandler) (Subscription, error) {
	if s.subscribeDelay > 0 {
		time.Sleep(s.subscribeDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	if err := s.failSubscribe[destination]; err != nil {
		return nil, err
	}
	s.subscribes = append(s.subscribes, destination)
	s.nextHandle++
	return &fakeSubscription{
		session:     s,
		destination: destination,
		handle:      fmt.Sprintf("%s/sub-%d", s.id, s.nextHandle),
	}, nil
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	return s.disconnectErr
}

// drop simulates a socket failure reported by the transport.
func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.handler.HandleTransportError(s, err)
}

func (s *fakeSession) subscribeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribes...)
}

func (s *fakeSession) unsubscribeCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unsubscribes...)
}

type fakeSubscription struct {
	session     *fakeSession
	destination string
	handle      string
}

func (f *fakeSubscription) Destination() string { return f.destination }

func (f *fakeSubscription) Unsubscribe() error {
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	if !f.session.connected {
		return ErrNotConnected
	}
	f.session.unsubscribes = append(f.session.unsubscribes, f.destination)
	return nil
}

type published struct {
	destination string
	payload     []byte
	headers     map[string]string
}

// fakePublisher records bus publishes.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(destination string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{destination: destination, payload: payload, headers: headers})
	return nil
}

func (p *fakePublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// fakeSleep records requested delays instead of sleeping.
type fakeSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	// before records how many connects had happened when sleep was called.
	client *fakeClient
	before []int
	err    error
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	if f.client != nil {
		f.before = append(f.before, f.client.connectCount())
	}
	return f.err
}

var errBoom = errors.New("boom")
