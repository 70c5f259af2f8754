package sipua

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundIP_Loopback(t *testing.T) {
	ip, err := outboundIP("127.0.0.1", 5060)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestResolveLocalHost_PublicAddressWins(t *testing.T) {
	host, err := resolveLocalHost("203.0.113.7", "127.0.0.1", 5060)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", host)
}

func TestResolveLocalHost_UsesRouteToServer(t *testing.T) {
	host, err := resolveLocalHost("", "127.0.0.1", 5060)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
}

func TestDetectHostIP_NeverLoopback(t *testing.T) {
	ip, err := detectHostIP()
	if err != nil {
		t.Skipf("no non-loopback interface: %v", err)
	}
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed)
	assert.False(t, parsed.IsLoopback())
}
