package sipua

import (
	"context"
	"fmt"
	"sync"

	"github.com/ghettovoice/gosip/sip"
	"github.com/sirupsen/logrus"

	"sip2gate/gate"
)

// call follows one INVITE. The tracking goroutine writes, State and Hangup
// read.
type call struct {
	s   *session
	log *logrus.Entry

	mu        sync.Mutex
	invite    sip.Request
	answer    sip.Response
	state     gate.CallState
	final     bool
	err       error
	authing   bool
	authTried bool
	hungUp    bool
}

func newCall(s *session, invite sip.Request) *call {
	return &call{s: s, log: s.log, invite: invite, state: gate.CallUnknown}
}

// State returns the latest state, gate.ErrTransientState while the INVITE is
// being re-sent with credentials, or the transport error that broke the call.
func (c *call) State() (gate.CallState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.authing:
		return c.state, gate.ErrTransientState
	case c.err != nil:
		return c.state, c.err
	default:
		return c.state, nil
	}
}

func (c *call) callID() sip.CallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cid, ok := c.invite.CallID(); ok {
		return *cid
	}
	return ""
}

// track consumes INVITE transaction events until a final response or error.
func (c *call) track(tx sip.ClientTransaction) {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				c.fail(errTransactionEnded)
				return
			}
			next, done := c.handleResponse(res)
			if done {
				return
			}
			if next != nil {
				tx = next
			}
		case err, ok := <-tx.Errors():
			if !ok || err == nil {
				err = errTransactionEnded
			}
			c.fail(fmt.Errorf("INVITE transaction: %w", err))
			return
		case <-tx.Done():
			c.mu.Lock()
			final := c.final
			c.mu.Unlock()
			if !final {
				c.fail(errTransactionEnded)
			}
			return
		}
	}
}

// handleResponse applies res. It returns the replacement transaction after a
// digest retry, and whether tracking is over.
func (c *call) handleResponse(res sip.Response) (sip.ClientTransaction, bool) {
	code := res.StatusCode()
	c.log.Debugf("received SIP response: %d %s", code, res.Reason())

	if (code == 401 || code == 407) && !c.authAttempted() {
		tx, err := c.reauthorize(res)
		if err != nil {
			c.fail(err)
			return nil, true
		}
		return tx, false
	}

	state := classify(code)
	c.mu.Lock()
	c.state = state
	if !res.IsProvisional() {
		c.final = true
	}
	if res.IsSuccess() {
		c.answer = res
	}
	invite := c.invite
	c.mu.Unlock()

	if res.IsSuccess() {
		c.ack(invite, res)
	}
	return nil, !res.IsProvisional()
}

func (c *call) authAttempted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authTried
}

// reauthorize re-sends INVITE with credentials. State reports a transient
// error until the new transaction is running.
func (c *call) reauthorize(res sip.Response) (sip.ClientTransaction, error) {
	c.mu.Lock()
	c.authing = true
	c.authTried = true
	invite := c.invite
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.authing = false
		c.mu.Unlock()
	}()

	req, err := authorize(invite, res, c.s.cfg.Username, c.s.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("authorize INVITE: %w", err)
	}
	tx, err := c.s.srv.Request(req)
	if err != nil {
		return nil, fmt.Errorf("send authorized INVITE: %w", err)
	}
	c.mu.Lock()
	c.invite = req
	c.mu.Unlock()
	c.log.Debugf("INVITE challenged with %d, re-sent with credentials", res.StatusCode())
	return tx, nil
}

func (c *call) ack(invite sip.Request, res sip.Response) {
	ack := sip.NewAckRequest("", invite, res, "", nil)
	ack.SetSource(invite.Source())
	ack.SetDestination(invite.Destination())
	if err := c.s.srv.Send(ack); err != nil {
		c.log.Warnf("send ACK request failed: %v", err)
	}
}

func (c *call) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final || c.hungUp {
		return
	}
	c.err = err
}

func (c *call) remoteHangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = gate.CallEnded
	c.final = true
	c.hungUp = true
	c.answer = nil
}

// Hangup cancels a call that has no final response yet and ends an answered
// one with BYE. A call that already ended is left alone.
func (c *call) Hangup() error {
	c.mu.Lock()
	if c.hungUp {
		c.mu.Unlock()
		return nil
	}
	c.hungUp = true
	invite, answer, final := c.invite, c.answer, c.final
	c.mu.Unlock()

	switch {
	case answer != nil:
		return c.bye(invite, answer)
	case !final:
		return c.cancel(invite)
	default:
		return nil
	}
}

func (c *call) cancel(invite sip.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.s.opts.RequestTimeout)
	defer cancel()

	res, err := c.s.exchange(ctx, sip.NewCancelRequest("", invite, nil))
	if err != nil {
		return fmt.Errorf("CANCEL: %w", err)
	}
	if !cancelled(res) {
		return fmt.Errorf("CANCEL rejected: %d %s", res.StatusCode(), res.Reason())
	}
	return nil
}

// cancelled reports whether res confirms a CANCEL. gosip files the CANCEL
// transaction under the INVITE key, so the INVITE's 487 may arrive here
// instead of the 200 for the CANCEL itself.
func cancelled(res sip.Response) bool {
	if res.IsSuccess() || res.StatusCode() == 487 {
		return true
	}
	if cseq, ok := res.CSeq(); ok && cseq.MethodName == sip.INVITE {
		return !res.IsProvisional()
	}
	return false
}

// bye ends the dialog established by answer.
func (c *call) bye(invite sip.Request, answer sip.Response) error {
	from, _ := invite.From()
	to, _ := answer.To()
	cid, _ := invite.CallID()
	if from == nil || to == nil || cid == nil {
		return fmt.Errorf("BYE: incomplete dialog")
	}

	var recipient sip.Uri = invite.Recipient()
	if contact, ok := answer.Contact(); ok && contact.Address != nil {
		recipient = contact.Address
	}

	var seq uint = 1
	if cseq, ok := invite.CSeq(); ok {
		seq = uint(cseq.SeqNo) + 1
	}

	ua := sip.UserAgentHeader(c.s.opts.UserAgent)
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(recipient).
		AddVia(c.s.via()).
		SetFrom(sip.NewAddressFromFromHeader(from)).
		SetTo(sip.NewAddressFromToHeader(to)).
		SetContact(c.s.contact()).
		SetCallID(cid).
		SetSeqNo(seq).
		SetUserAgent(&ua).
		Build()
	if err != nil {
		return fmt.Errorf("build BYE: %w", err)
	}

	res, err := c.s.roundTrip(context.Background(), req)
	if err != nil {
		return fmt.Errorf("BYE: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("BYE rejected: %d %s", res.StatusCode(), res.Reason())
	}
	return nil
}
