package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip2gate/gate"
)

type published struct {
	channel string
	message any
}

type fakePublisher struct {
	got []published
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.got = append(f.got, published{channel: channel, message: message})
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testConfig() gate.Config {
	return gate.Config{Server: "sip.example.net", Port: 5060, Username: "1001", Password: "x", Number: "**9"}
}

func TestRedisPublisher_Observe(t *testing.T) {
	pub := &fakePublisher{}
	p := NewRedisPublisher(pub, RedisConfig{}, testConfig(), quietLogger())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	p.Observe(gate.StatusRinging)

	require.Len(t, pub.got, 1)
	assert.Equal(t, DefaultChannel, pub.got[0].channel)

	raw, ok := pub.got[0].message.([]byte)
	require.True(t, ok)
	assert.JSONEq(t, `{
		"status": "ringing",
		"display_name": "Ringing",
		"gate_number": "**9",
		"sip_server": "sip.example.net",
		"at": "2024-05-01T12:00:00Z"
	}`, string(raw))

	ev, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, gate.StatusRinging, ev.Status)
	assert.True(t, at.Equal(ev.At))
}

func TestRedisPublisher_CustomChannel(t *testing.T) {
	pub := &fakePublisher{}
	p := NewRedisPublisher(pub, RedisConfig{Channel: "home/gate"}, testConfig(), quietLogger())
	p.Observe(gate.StatusIdle)
	require.Len(t, pub.got, 1)
	assert.Equal(t, "home/gate", pub.got[0].channel)
}

func TestRedisPublisher_ErrorIsAbsorbed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	p := NewRedisPublisher(pub, RedisConfig{}, testConfig(), quietLogger())
	assert.NotPanics(t, func() { p.Observe(gate.StatusFailed) })
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
