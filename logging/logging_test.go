package logging

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

func setup(t *testing.T, section string) (*Loggers, *bytes.Buffer) {
	t.Helper()
	text := "[logging]\nfile = " + filepath.Join(t.TempDir(), "test.log") + "\n" + section
	cfg, err := ini.Load([]byte(text))
	require.NoError(t, err)

	var console bytes.Buffer
	l := initWith(cfg, &console)
	t.Cleanup(l.Close)
	return l, &console
}

func TestLoggers_PrefixAndLevel(t *testing.T) {
	l, out := setup(t, "core = 2\nconsole_min_level = 0\n")

	l.Core.Debug("hidden")
	l.Core.Info("gate opening requested")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "gate opening requested")
	assert.Contains(t, out.String(), "core")
}

func TestLoggers_ConsoleMinLevel(t *testing.T) {
	l, out := setup(t, "core = 0\nconsole_min_level = 3\n")

	l.Core.Info("quiet")
	l.Core.Warn("loud")

	assert.NotContains(t, out.String(), "quiet")
	assert.Contains(t, out.String(), "loud")
}

func TestLoggers_SIPMessageDumpsFiltered(t *testing.T) {
	l, out := setup(t, "sip = 0\nsip_messages = false\n")

	l.SIP.Trace("received SIP message: INVITE sip:**9@pbx SIP/2.0")
	l.SIP.WithField("sip_message", "REGISTER ...").Debug("outgoing")
	l.SIP.Info("registered")

	assert.NotContains(t, out.String(), "INVITE")
	assert.NotContains(t, out.String(), "outgoing")
	assert.Contains(t, out.String(), "registered")
}

func TestLoggers_SIPMessageDumpsKept(t *testing.T) {
	l, out := setup(t, "sip = 0\nsip_messages = true\n")
	l.SIP.Trace("received SIP message: INVITE")
	assert.Contains(t, out.String(), "INVITE")
}

func TestToLogrusLevel(t *testing.T) {
	assert.Equal(t, logrus.TraceLevel, toLogrusLevel(-1))
	assert.Equal(t, logrus.InfoLevel, toLogrusLevel(2))
	assert.Equal(t, logrus.FatalLevel, toLogrusLevel(5))
	assert.Equal(t, logrus.PanicLevel, toLogrusLevel(6))
}
