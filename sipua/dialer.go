// Package sipua places gate calls over SIP/UDP with gosip. Every Open starts
// a private user agent that lives for one attempt.
package sipua

import (
	"context"
	"fmt"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/sirupsen/logrus"

	"sip2gate/gate"
)

// Options configure the local user agent.
type Options struct {
	// LocalPort is the first UDP port tried; PortRange more ports are tried
	// after it.
	LocalPort int
	PortRange int
	// PublicAddress is advertised in Via and Contact instead of the detected
	// address.
	PublicAddress   string
	UserAgent       string
	RegisterExpires uint32
	// RequestTimeout bounds every REGISTER, BYE and CANCEL exchange.
	RequestTimeout time.Duration

	Logger *logrus.Entry
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		LocalPort:       5070,
		PortRange:       10,
		UserAgent:       "sip2gate",
		RegisterExpires: 300,
		RequestTimeout:  5 * time.Second,
	}
}

// Dialer opens SIP sessions. It implements gate.Dialer.
type Dialer struct {
	opts Options
	log  *logrus.Entry
}

var _ gate.Dialer = (*Dialer)(nil)

func NewDialer(opts Options) *Dialer {
	def := DefaultOptions()
	if opts.LocalPort <= 0 {
		opts.LocalPort = def.LocalPort
	}
	if opts.PortRange < 0 {
		opts.PortRange = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.RegisterExpires == 0 {
		opts.RegisterExpires = def.RegisterExpires
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dialer{opts: opts, log: log}
}

// Open starts a user agent listening on the first free port of the configured
// range. The returned session is not registered yet.
func (d *Dialer) Open(_ context.Context, cfg gate.Config) (gate.Session, error) {
	host, err := resolveLocalHost(d.opts.PublicAddress, cfg.Server, cfg.Port)
	if err != nil {
		d.log.Warnf("could not determine local address, continuing without one: %v", err)
	}

	logger := gosiplog.NewLogrusLogger(d.log, "SIP", nil)
	srv := gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: d.opts.UserAgent}, nil, nil, logger)

	port, err := listen(srv, d.opts.LocalPort, d.opts.PortRange, d.log)
	if err != nil {
		srv.Shutdown()
		return nil, err
	}
	d.log.Infof("SIP user agent listening on %s:%d/udp", host, port)

	s := newSession(srv, cfg, d.opts, host, port, d.log)
	if err := srv.OnRequest(sip.BYE, s.handleBye); err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("register BYE handler: %w", err)
	}
	return s, nil
}

func listen(srv gosip.Server, port, portRange int, log *logrus.Entry) (int, error) {
	var listenErr error
	for i := 0; i <= portRange; i++ {
		addr := fmt.Sprintf(":%d", port+i)
		listenErr = srv.Listen("udp", addr)
		if listenErr == nil {
			return port + i, nil
		}
		log.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	return 0, fmt.Errorf("sip listen: %w", listenErr)
}
