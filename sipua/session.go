package sipua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sip2gate/gate"
)

type session struct {
	srv  gosip.Server
	cfg  gate.Config
	opts Options
	host string
	port int
	log  *logrus.Entry

	regCallID sip.CallID
	regFrom   *sip.Address

	mu         sync.Mutex
	cseq       uint
	registered bool
	closed     bool
	active     *call
}

func newSession(srv gosip.Server, cfg gate.Config, opts Options, host string, port int, log *logrus.Entry) *session {
	return &session{
		srv:       srv,
		cfg:       cfg,
		opts:      opts,
		host:      host,
		port:      port,
		log:       log,
		regCallID: sip.CallID(uuid.NewString()),
		regFrom: &sip.Address{
			Uri:    userURI(cfg.Username, cfg.Server, 0),
			Params: sip.NewParams().Add("tag", sip.String{Str: util.RandString(8)}),
		},
	}
}

// Register sends REGISTER and waits for the registrar to accept it.
func (s *session) Register(ctx context.Context) error {
	res, err := s.register(ctx, s.opts.RegisterExpires)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("REGISTER rejected: %d %s", res.StatusCode(), res.Reason())
	}
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()
	s.log.Infof("registered as %s at %s:%d", s.cfg.Username, s.cfg.Server, s.cfg.Port)
	return nil
}

func (s *session) register(ctx context.Context, expires uint32) (sip.Response, error) {
	exp := sip.Expires(expires)
	req, err := s.newRequest(sip.REGISTER, serverURI(s.cfg.Server, s.cfg.Port)).
		SetFrom(s.regFrom).
		SetTo(&sip.Address{Uri: userURI(s.cfg.Username, s.cfg.Server, 0)}).
		SetCallID(&s.regCallID).
		SetExpires(&exp).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build REGISTER: %w", err)
	}
	return s.roundTrip(ctx, req)
}

func (s *session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// Call sends INVITE to number and returns at once; progress is read through
// the returned call.
func (s *session) Call(_ context.Context, number string) (gate.Call, error) {
	target, err := s.target(number)
	if err != nil {
		return nil, err
	}

	from := &sip.Address{
		DisplayName: sip.String{Str: s.cfg.DisplayName()},
		Uri:         userURI(s.cfg.Username, s.cfg.Server, 0),
		Params:      sip.NewParams().Add("tag", sip.String{Str: util.RandString(8)}),
	}
	cid := sip.CallID(uuid.NewString())
	ctype := sip.ContentType("application/sdp")

	req, err := s.newRequest(sip.INVITE, target).
		SetFrom(from).
		SetTo(&sip.Address{Uri: target}).
		SetCallID(&cid).
		SetContentType(&ctype).
		SetBody(buildOffer(s.host, s.port+2)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build INVITE: %w", err)
	}

	tx, err := s.srv.Request(req)
	if err != nil {
		return nil, fmt.Errorf("send INVITE: %w", err)
	}
	s.log.Infof("INVITE sent to %s (Call-ID %s)", target, cid)

	c := newCall(s, req)
	s.mu.Lock()
	s.active = c
	s.mu.Unlock()
	go c.track(tx)
	return c, nil
}

// Close unregisters if registered and stops the user agent. Calling it again
// does nothing.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	registered := s.registered
	s.registered = false
	s.mu.Unlock()

	var err error
	if registered {
		res, rerr := s.register(context.Background(), 0)
		switch {
		case rerr != nil:
			err = fmt.Errorf("unregister: %w", rerr)
		case !res.IsSuccess():
			err = fmt.Errorf("unregister rejected: %d %s", res.StatusCode(), res.Reason())
		}
	}
	s.srv.Shutdown()
	return err
}

// handleBye answers a BYE from the gate and ends the matching call.
func (s *session) handleBye(req sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest("", req, 200, "OK", "")
	if err := tx.Respond(res); err != nil {
		s.log.Warnf("failed to answer BYE: %v", err)
	}

	s.mu.Lock()
	c := s.active
	s.mu.Unlock()
	if c == nil {
		return
	}
	if cid, ok := req.CallID(); ok && c.callID() == *cid {
		s.log.Info("gate hung up")
		c.remoteHangup()
	}
}

// target turns a dial string into a request URI. Full SIP URIs are used as
// they are; anything else is a user part at the configured server.
func (s *session) target(number string) (*sip.SipUri, error) {
	if strings.HasPrefix(number, "sip:") || strings.HasPrefix(number, "sips:") {
		uri, err := parser.ParseSipUri(number)
		if err != nil {
			return nil, fmt.Errorf("parse target uri: %w", err)
		}
		return &uri, nil
	}
	return userURI(number, s.cfg.Server, s.cfg.Port), nil
}

func (s *session) nextSeq() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cseq++
	return s.cseq
}

// newRequest starts a request with the headers every outgoing request carries.
func (s *session) newRequest(method sip.RequestMethod, recipient sip.Uri) *sip.RequestBuilder {
	ua := sip.UserAgentHeader(s.opts.UserAgent)
	return sip.NewRequestBuilder().
		SetMethod(method).
		SetRecipient(recipient).
		AddVia(s.via()).
		SetContact(s.contact()).
		SetSeqNo(s.nextSeq()).
		SetUserAgent(&ua)
}

func (s *session) via() *sip.ViaHop {
	port := sip.Port(s.port)
	return &sip.ViaHop{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            s.host,
		Port:            &port,
		Params:          sip.NewParams().Add("branch", sip.String{Str: sip.GenerateBranch()}),
	}
}

func (s *session) contact() *sip.Address {
	return &sip.Address{Uri: userURI(s.cfg.Username, s.host, s.port)}
}

// roundTrip runs one non-INVITE transaction, answering a single digest
// challenge.
func (s *session) roundTrip(ctx context.Context, req sip.Request) (sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	authorized := false
	for {
		res, err := s.exchange(ctx, req)
		if err != nil {
			return nil, err
		}
		code := res.StatusCode()
		if (code == 401 || code == 407) && !authorized {
			s.log.Debugf("%s challenged with %d, retrying with credentials", req.Method(), code)
			if req, err = authorize(req, res, s.cfg.Username, s.cfg.Password); err != nil {
				return nil, err
			}
			authorized = true
			continue
		}
		return res, nil
	}
}

// exchange sends req and returns its final response.
func (s *session) exchange(ctx context.Context, req sip.Request) (sip.Response, error) {
	tx, err := s.srv.Request(req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method(), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", req.Method(), ctx.Err())
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, fmt.Errorf("%s: %w", req.Method(), errTransactionEnded)
			}
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case err, ok := <-tx.Errors():
			if !ok || err == nil {
				err = errTransactionEnded
			}
			return nil, fmt.Errorf("%s: %w", req.Method(), err)
		case <-tx.Done():
			return nil, fmt.Errorf("%s: %w", req.Method(), errTransactionEnded)
		}
	}
}

var errTransactionEnded = errors.New("transaction ended without a final response")

func userURI(user, host string, port int) *sip.SipUri {
	uri := &sip.SipUri{FHost: host}
	if user != "" {
		uri.FUser = sip.String{Str: user}
	}
	if port > 0 {
		p := sip.Port(port)
		uri.FPort = &p
	}
	return uri
}

func serverURI(host string, port int) *sip.SipUri {
	return userURI("", host, port)
}
