package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// errRejected signals that the dialed number was refused and the next
// candidate may be tried.
var errRejected = errors.New("number rejected")

// attempt is the state of one call attempt. It lives on the worker goroutine
// only.
type attempt struct {
	c    *Controller
	log  *logrus.Entry
	sess Session
	call Call

	dialStart time.Time
	last      CallState
	number    string
}

func (c *Controller) runAttempt(ctx context.Context, log *logrus.Entry) (err error) {
	a := &attempt{c: c, log: log}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("SIP session panicked: %v", r)
		}
		a.teardown()
	}()

	if err := a.connect(ctx); err != nil {
		return err
	}
	c.status.Set(StatusCalling)
	return a.dial(ctx)
}

func (a *attempt) connect(ctx context.Context) error {
	sess, err := a.c.dialer.Open(ctx, a.c.cfg)
	if err != nil {
		return fmt.Errorf("open SIP session: %w", err)
	}
	a.sess = sess
	a.log.Debugf("SIP session opened to %s:%d", a.c.cfg.Server, a.c.cfg.Port)

	if err := sess.Register(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	t := a.c.timing
	deadline := time.Now().Add(t.RegisterCheck)
	for !sess.Registered() {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: not registered after %s", ErrRegistrationFailed, t.RegisterCheck)
		}
		time.Sleep(t.RegisterPoll)
	}
	a.log.Debug("SIP session registered")
	return nil
}

func (a *attempt) dial(ctx context.Context) error {
	candidates := a.c.normalizer.Candidates(a.c.cfg.Number)
	if len(candidates) == 0 {
		candidates = []string{a.c.cfg.Number}
	}

	a.dialStart = time.Now()
	for i, number := range candidates {
		last := i == len(candidates)-1
		a.number = number
		a.last = CallUnknown

		a.log.Debugf("SIP client ready, starting call to %s", number)
		call, err := a.sess.Call(ctx, number)
		if err != nil {
			if last {
				return fmt.Errorf("place call to %s: %w", number, err)
			}
			a.log.Warnf("call to %s failed, trying alternate format: %v", number, err)
			continue
		}
		a.call = call

		err = a.watch()
		if !errors.Is(err, errRejected) {
			return err
		}
		if last {
			return &NoRouteError{Number: number, Elapsed: time.Since(a.dialStart), LastState: CallRejected}
		}
		a.log.Warnf("%s was rejected, trying alternate format", number)
		a.hangup()
	}
	return nil
}

// watch polls the call until a terminal condition or the end of the window.
func (a *attempt) watch() error {
	t := a.c.timing
	backoff := t.PollFast
	var ringingSince time.Time

	for {
		elapsed := time.Since(a.dialStart)
		if elapsed >= t.MaxWait {
			return a.expire(elapsed, !ringingSince.IsZero())
		}

		state, err := a.call.State()
		if err != nil {
			if !errors.Is(err, ErrTransientState) {
				return fmt.Errorf("check call state: %w", err)
			}
			a.log.Debug("call state changed while reading, continuing...")
			a.pause(backoff)
			backoff = min(backoff*2, t.BackoffMax)
			continue
		}
		backoff = t.PollFast

		changed := state != a.last
		if changed {
			a.log.Debugf("call state: %s", state)
			a.last = state
		}

		interval := t.PollSteady
		if changed {
			interval = t.PollFast
		}

		switch state {
		case CallAnswered:
			a.log.Info("call answered, waiting for ring duration")
			a.c.status.Set(StatusAnswered)
			time.Sleep(t.RingDuration)
			return nil

		case CallBusy:
			a.log.Info("gate number is busy (expected behavior)")
			a.c.status.Set(StatusBusy)
			return nil

		case CallEnded:
			a.log.Info("call ended")
			return nil

		case CallRejected:
			return errRejected

		case CallRinging:
			a.c.status.Set(StatusRinging)
			if ringingSince.IsZero() {
				ringingSince = time.Now()
			}
			if t.RingingGrace > 0 && time.Since(ringingSince) >= t.RingingGrace {
				a.log.Infof("gate rang for %s, treating trigger as delivered", t.RingingGrace)
				return nil
			}

		case CallTrying:

		default:
			a.log.Debugf("unrecognized call state %s, continuing", state)
			interval = t.PollFast
		}

		a.pause(interval)
	}
}

// expire handles the end of the wait window.
func (a *attempt) expire(elapsed time.Duration, rang bool) error {
	if rang {
		a.log.Infof("gate still ringing after %s, treating trigger as delivered", elapsed.Round(time.Millisecond))
		return nil
	}
	err := &NoRouteError{Number: a.number, Elapsed: elapsed, LastState: a.last}
	if a.c.policy == TimeoutAssumeSuccess {
		a.log.Warnf("%v; assuming success", err)
		return nil
	}
	return err
}

// pause sleeps for d but never past the end of the wait window.
func (a *attempt) pause(d time.Duration) {
	remaining := a.c.timing.MaxWait - time.Since(a.dialStart)
	if remaining <= 0 {
		return
	}
	time.Sleep(min(d, remaining))
}

func (a *attempt) hangup() {
	if a.call == nil {
		return
	}
	call := a.call
	a.call = nil
	if err := a.release("hangup", call.Hangup); err != nil {
		a.log.WithField("teardown", "hangup").Warnf("error hanging up call (may already be ended): %v", err)
	} else {
		a.log.Debug("call hung up")
	}
}

// teardown releases the call and the session. Failures, panics included, are
// logged only.
func (a *attempt) teardown() {
	a.hangup()
	if a.sess == nil {
		return
	}
	sess := a.sess
	a.sess = nil
	if err := a.release("close", sess.Close); err != nil {
		a.log.WithField("teardown", "close").Warnf("error stopping SIP client: %v", err)
	} else {
		a.log.Debug("SIP client stopped")
	}
}

// release runs one teardown step, turning a panic into an error.
func (a *attempt) release(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	return fn()
}
