package httpapi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip2gate/gate"
)

var _ Gate = (*gate.Controller)(nil)

type fakeGate struct {
	mu       sync.Mutex
	inFlight bool
	// lostRace makes TryOpenGate refuse while InFlight still reports false.
	lostRace bool
	err      error
	opened   int
	status   *gate.StatusBroadcaster
}

func (g *fakeGate) TryOpenGate(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight || g.lostRace {
		return false, nil
	}
	g.opened++
	return true, g.err
}

func (g *fakeGate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *fakeGate) Config() gate.Config {
	return gate.Config{Server: "sip.example.net", Port: 5060, Username: "1001", Password: "x", Number: "**9"}
}

func (g *fakeGate) Status() *gate.StatusBroadcaster { return g.status }

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newFakeGate(t *testing.T) *fakeGate {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loop := gate.NewLoop(quietLogger())
	go loop.Run(ctx)
	return &fakeGate{status: gate.NewStatusBroadcaster(loop, quietLogger())}
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestOpen_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	s := NewServer(g, Options{Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodPost, "/api/gate/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])
	assert.Equal(t, 1, g.opened)
}

func TestOpen_InFlight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	g.inFlight = true
	s := NewServer(g, Options{Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodPost, "/api/gate/open", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, g.opened)
}

func TestOpen_DroppedByGuardIsConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	g.lostRace = true
	s := NewServer(g, Options{Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodPost, "/api/gate/open", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "call already in progress", decode(t, w)["error"])
	assert.Equal(t, 0, g.opened)
}

func TestOpen_Failure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	g.err = &gate.GateError{AttemptID: "a-1", Err: gate.ErrRegistrationFailed}
	s := NewServer(g, Options{Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodPost, "/api/gate/open", "")
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "a-1", body["attempt_id"])
	assert.Contains(t, body["error"], "registration failed")
}

func TestOpen_PlainErrorHasNoAttemptID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	g.err = errors.New("boom")
	s := NewServer(g, Options{Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodPost, "/api/gate/open", "")
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, decode(t, w), "attempt_id")
}

func TestStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	g.status.Set(gate.StatusRinging)
	s := NewServer(g, Options{Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodGet, "/api/gate/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ringing", body["status"])
	assert.Equal(t, "Ringing", body["display_name"])
	assert.Equal(t, "**9", body["gate_number"])
	assert.Equal(t, "sip.example.net", body["sip_server"])
	assert.Equal(t, "1001", body["sip_username"])
	assert.Equal(t, false, body["in_flight"])
}

func signToken(t *testing.T, secret, issuer string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "home-assistant",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewTokenVerifier("secret", "sip2gate")
	require.NoError(t, err)
	s := NewServer(newFakeGate(t), Options{Verifier: v, Logger: quietLogger()})

	w := do(t, s.Handler(), http.MethodGet, "/api/gate/status", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := signToken(t, "other", "sip2gate", time.Now().Add(time.Hour))
	w = do(t, s.Handler(), http.MethodGet, "/api/gate/status", bad)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	wrongIssuer := signToken(t, "secret", "someone-else", time.Now().Add(time.Hour))
	w = do(t, s.Handler(), http.MethodGet, "/api/gate/status", wrongIssuer)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired := signToken(t, "secret", "sip2gate", time.Now().Add(-time.Hour))
	w = do(t, s.Handler(), http.MethodGet, "/api/gate/status", expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	good := signToken(t, "secret", "sip2gate", time.Now().Add(time.Hour))
	w = do(t, s.Handler(), http.MethodGet, "/api/gate/status", good)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier("", "")
	assert.Error(t, err)
}

func TestEvents_StreamsStatusChanges(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newFakeGate(t)
	ts := httptest.NewServer(NewServer(g, Options{Logger: quietLogger()}).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/gate/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if data, ok := strings.CutPrefix(lines.Text(), "data:"); ok {
				return data
			}
		}
		return ""
	}

	require.Equal(t, "idle", next())
	g.status.Set(gate.StatusConnecting)
	g.status.Set(gate.StatusCalling)
	assert.Equal(t, "connecting", next())
	assert.Equal(t, "calling", next())
}
