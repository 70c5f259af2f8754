package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"sip2gate/gate"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "sip2gate:status"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// PublishTimeout bounds each PUBLISH. Observers run on the status loop, so
	// a slow Redis must not stall it for long.
	PublishTimeout time.Duration
}

// Publisher is the part of a Redis client the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes every status change as JSON.
type RedisPublisher struct {
	client  Publisher
	channel string
	cfg     gate.Config
	timeout time.Duration
	log     *logrus.Entry
	now     func() time.Time
}

// OpenRedis connects and checks the server with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedisPublisher(client Publisher, rc RedisConfig, cfg gate.Config, log *logrus.Entry) *RedisPublisher {
	channel := rc.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	timeout := rc.PublishTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		cfg:     cfg,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// Observe is a gate.Observer.
func (p *RedisPublisher) Observe(status gate.Status) {
	payload, err := NewEvent(status, p.cfg, p.now()).Encode()
	if err != nil {
		p.log.Errorf("encode status event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warnf("publish status %s to %s: %v", status, p.channel, err)
		return
	}
	p.log.Debugf("published status %s to %s", status, p.channel)
}
