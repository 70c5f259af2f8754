package sipua

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip2gate/gate"
)

func TestNewDialer_Defaults(t *testing.T) {
	d := NewDialer(Options{PortRange: -3})
	assert.Equal(t, 5070, d.opts.LocalPort)
	assert.Equal(t, 0, d.opts.PortRange)
	assert.Equal(t, "sip2gate", d.opts.UserAgent)
	assert.Equal(t, uint32(300), d.opts.RegisterExpires)
	assert.Equal(t, 5*time.Second, d.opts.RequestTimeout)
	assert.NotNil(t, d.log)
}

func TestSession_Target(t *testing.T) {
	s := &session{cfg: gate.Config{Server: "sip.example.net", Port: 5060}}

	uri, err := s.target("**9")
	require.NoError(t, err)
	assert.Equal(t, "sip:**9@sip.example.net:5060", uri.String())

	uri, err = s.target("sip:gate@pbx.local")
	require.NoError(t, err)
	assert.Equal(t, "gate", uri.User().String())
	assert.Equal(t, "pbx.local", uri.Host())
}

func TestUserURI(t *testing.T) {
	assert.Equal(t, "sip:sip.example.net", serverURI("sip.example.net", 0).String())
	assert.Equal(t, "sip:1001@10.0.0.2:5070", userURI("1001", "10.0.0.2", 5070).String())
}
