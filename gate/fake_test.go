package gate

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// step is one scripted answer of fakeCall.State.
type step struct {
	state CallState
	err   error
}

type fakeCall struct {
	mu      sync.Mutex
	steps   []step
	polls   int
	hangups int
	// hangupPanic, when set, is raised by Hangup.
	hangupPanic any
}

func (c *fakeCall) State() (CallState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.polls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	c.polls++
	return c.steps[i].state, c.steps[i].err
}

func (c *fakeCall) Hangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangups++
	if c.hangupPanic != nil {
		panic(c.hangupPanic)
	}
	return nil
}

type fakeSession struct {
	mu          sync.Mutex
	registerErr error
	registered  bool
	calls       map[string]*fakeCall
	callErr     map[string]error
	dialed      []string
	closed      int
	closeErr    error
	closePanic  any
}

func (s *fakeSession) Register(context.Context) error { return s.registerErr }

func (s *fakeSession) Registered() bool { return s.registered }

func (s *fakeSession) Call(_ context.Context, number string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialed = append(s.dialed, number)
	if err := s.callErr[number]; err != nil {
		return nil, err
	}
	if c, ok := s.calls[number]; ok {
		return c, nil
	}
	return nil, errors.New("unexpected number " + number)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if s.closePanic != nil {
		panic(s.closePanic)
	}
	return s.closeErr
}

func (s *fakeSession) Dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialed...)
}

type fakeDialer struct {
	mu      sync.Mutex
	session *fakeSession
	openErr error
	opens   int
	// gate, when set, blocks Open until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDialer) Open(context.Context, Config) (Session, error) {
	d.mu.Lock()
	d.opens++
	gate, entered := d.gate, d.entered
	d.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.session, nil
}

func (d *fakeDialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func testConfig() Config {
	return Config{
		Server:   "sip.example.net",
		Port:     5060,
		Username: "1001",
		Password: "secret",
		Number:   "**9",
	}
}

func testTiming() Timing {
	return Timing{
		RegisterCheck:   50 * time.Millisecond,
		RegisterPoll:    5 * time.Millisecond,
		MaxWait:         200 * time.Millisecond,
		PollFast:        2 * time.Millisecond,
		PollSteady:      5 * time.Millisecond,
		BackoffMax:      10 * time.Millisecond,
		RingDuration:    5 * time.Millisecond,
		RingingGrace:    0,
		SuccessCooldown: 5 * time.Millisecond,
		FailureCooldown: 5 * time.Millisecond,
	}
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// harness wires a controller to a running loop and records every status it
// broadcasts.
type harness struct {
	loop   *Loop
	status *StatusBroadcaster
	ctrl   *Controller

	mu   sync.Mutex
	seen []Status
}

func newHarness(t *testing.T, dialer Dialer, opts ...Option) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{loop: NewLoop(testLogger())}
	go h.loop.Run(ctx)

	h.status = NewStatusBroadcaster(h.loop, testLogger())
	h.status.Subscribe(func(s Status) {
		h.mu.Lock()
		h.seen = append(h.seen, s)
		h.mu.Unlock()
	})

	opts = append([]Option{WithTiming(testTiming()), WithLogger(testLogger())}, opts...)
	ctrl, err := NewController(testConfig(), dialer, h.status, opts...)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) Seen(t *testing.T) []Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.loop.Flush(ctx))
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Status(nil), h.seen...)
}

func sessionWith(number string, steps ...step) *fakeSession {
	return &fakeSession{
		registered: true,
		calls:      map[string]*fakeCall{number: {steps: steps}},
	}
}
