package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxWait bounds how long a call may stay in the dialing phase.
const DefaultMaxWait = 10 * time.Second

// Timing holds every delay used by an attempt.
type Timing struct {
	// RegisterCheck is how long to wait for the session to report itself
	// registered, polled every RegisterPoll.
	RegisterCheck time.Duration
	RegisterPoll  time.Duration

	// MaxWait is the wait window for the call to progress.
	MaxWait time.Duration
	// PollFast is used right after a state change or for unrecognized states,
	// PollSteady while the call keeps trying or ringing.
	PollFast   time.Duration
	PollSteady time.Duration
	// BackoffMax caps the retry delay after a transient state error.
	BackoffMax time.Duration

	// RingDuration is held after the gate answers.
	RingDuration time.Duration
	// RingingGrace is how long continuous ringing must last to count as
	// delivered. Zero disables the short-circuit.
	RingingGrace time.Duration

	SuccessCooldown time.Duration
	FailureCooldown time.Duration
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		RegisterCheck:   2 * time.Second,
		RegisterPoll:    100 * time.Millisecond,
		MaxWait:         DefaultMaxWait,
		PollFast:        100 * time.Millisecond,
		PollSteady:      500 * time.Millisecond,
		BackoffMax:      time.Second,
		RingDuration:    time.Second,
		RingingGrace:    3 * time.Second,
		SuccessCooldown: 2 * time.Second,
		FailureCooldown: 3 * time.Second,
	}
}

// TimeoutPolicy decides what a call that never progressed within the wait
// window means.
type TimeoutPolicy int

const (
	// TimeoutStrict fails the attempt with a [NoRouteError].
	TimeoutStrict TimeoutPolicy = iota
	// TimeoutAssumeSuccess logs the timeout and reports success.
	TimeoutAssumeSuccess
)

// Option configures a [Controller].
type Option func(*Controller)

func WithTiming(t Timing) Option {
	return func(c *Controller) { c.timing = t }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) { c.log = log }
}

func WithNormalizer(n Normalizer) Option {
	return func(c *Controller) { c.normalizer = n }
}

func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithRingDuration overrides only the hold time after an answer.
func WithRingDuration(d time.Duration) Option {
	return func(c *Controller) { c.timing.RingDuration = d }
}

// WithRingingGrace overrides only the ringing short-circuit delay.
func WithRingingGrace(d time.Duration) Option {
	return func(c *Controller) { c.timing.RingingGrace = d }
}

// Controller opens the gate by calling it. It runs at most one attempt at a
// time.
type Controller struct {
	cfg        Config
	dialer     Dialer
	status     *StatusBroadcaster
	guard      *SingleFlightGuard
	timing     Timing
	normalizer Normalizer
	policy     TimeoutPolicy
	log        *logrus.Entry
}

// NewController validates cfg and returns a controller that reports through
// status.
func NewController(cfg Config, dialer Dialer, status *StatusBroadcaster, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}
	if status == nil {
		return nil, fmt.Errorf("%w: status broadcaster is required", ErrInvalidConfig)
	}

	c := &Controller{
		cfg:        cfg,
		dialer:     dialer,
		status:     status,
		guard:      NewSingleFlightGuard(),
		timing:     DefaultTiming(),
		normalizer: InternationalPrefix{},
		policy:     TimeoutStrict,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// Status returns the broadcaster the controller reports to.
func (c *Controller) Status() *StatusBroadcaster { return c.status }

// InFlight reports whether an attempt is running, including its cooldown.
func (c *Controller) InFlight() bool { return c.guard.Held() }

// OpenGate calls the gate and waits until the attempt, its teardown and its
// cooldown are over. If an attempt is already running it returns nil at once
// and changes nothing.
//
// ctx only carries values: cancelling it does not cut the attempt short, the
// wait window does.
func (c *Controller) OpenGate(ctx context.Context) error {
	_, err := c.TryOpenGate(ctx)
	return err
}

// TryOpenGate is OpenGate that also reports whether this call ran an attempt.
// started is false when another attempt held the guard; err is then nil.
func (c *Controller) TryOpenGate(ctx context.Context) (started bool, err error) {
	if !c.guard.TryAcquire() {
		c.log.Warn("already making a call, ignoring new request")
		return false, nil
	}
	defer c.guard.Release()

	id := uuid.NewString()
	log := c.log.WithField("attempt", id)
	log.Infof("starting SIP call to open gate: %s", c.cfg.Number)

	c.status.Set(StatusConnecting)

	done := make(chan error, 1)
	go func() {
		done <- c.runAttempt(context.WithoutCancel(ctx), log)
	}()
	err = <-done

	if err != nil {
		c.status.Set(StatusFailed)
		log.Errorf("failed to open gate via SIP call: %v", err)
		time.Sleep(c.timing.FailureCooldown)
		c.status.Set(StatusIdle)
		return true, &GateError{AttemptID: id, Err: err}
	}

	c.status.Set(StatusCompleted)
	log.Info("gate opening call completed successfully")
	time.Sleep(c.timing.SuccessCooldown)
	c.status.Set(StatusIdle)
	return true, nil
}
