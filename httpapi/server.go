// Package httpapi exposes the gate controller over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sip2gate/gate"
)

// Gate is the controller surface the API drives.
type Gate interface {
	TryOpenGate(ctx context.Context) (bool, error)
	InFlight() bool
	Config() gate.Config
	Status() *gate.StatusBroadcaster
}

type Options struct {
	Listen string
	// Verifier, when set, protects every /api route.
	Verifier *TokenVerifier
	Logger   *logrus.Entry
}

type Server struct {
	gate   Gate
	log    *logrus.Entry
	engine *gin.Engine
	srv    *http.Server
}

func NewServer(g Gate, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	s := &Server{gate: g, log: log, engine: r}

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api/gate")
	if opts.Verifier != nil {
		api.Use(RequireToken(opts.Verifier))
	}
	api.POST("/open", s.handleOpen)
	api.GET("/status", s.handleStatus)
	api.GET("/events", s.handleEvents)

	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Infof("HTTP API listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleOpen(c *gin.Context) {
	started, err := s.gate.TryOpenGate(c.Request.Context())
	if !started {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":  "call already in progress",
			"status": s.gate.Status().Current(),
		})
		return
	}
	if err != nil {
		resp := gin.H{"status": gate.StatusFailed, "error": err.Error()}
		var gateErr *gate.GateError
		if errors.As(err, &gateErr) {
			resp["attempt_id"] = gateErr.AttemptID
		}
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": gate.StatusCompleted})
}

// statusView carries the sensor state and its attributes.
type statusView struct {
	Status      gate.Status `json:"status"`
	DisplayName string      `json:"display_name"`
	InFlight    bool        `json:"in_flight"`
	GateNumber  string      `json:"gate_number"`
	SIPServer   string      `json:"sip_server"`
	SIPUsername string      `json:"sip_username"`
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.gate.Config()
	cur := s.gate.Status().Current()
	c.JSON(http.StatusOK, statusView{
		Status:      cur,
		DisplayName: cur.DisplayName(),
		InFlight:    s.gate.InFlight(),
		GateNumber:  cfg.Number,
		SIPServer:   cfg.Server,
		SIPUsername: cfg.Username,
	})
}

// handleEvents streams every status change as a server-sent event until the
// client goes away.
func (s *Server) handleEvents(c *gin.Context) {
	status := s.gate.Status()
	updates := make(chan gate.Status, 16)
	handle := status.Subscribe(func(st gate.Status) {
		select {
		case updates <- st:
		default:
			s.log.Warn("status stream client too slow, dropping update")
		}
	})
	defer status.Unsubscribe(handle)

	ctx := c.Request.Context()
	c.SSEvent("status", status.Current().String())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case st := <-updates:
			c.SSEvent("status", st.String())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", rid)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		entry := log.WithFields(logrus.Fields{
			"request_id":  rid,
			"method":      c.Request.Method,
			"path":        path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		entry.Debug("request")
	}
}
