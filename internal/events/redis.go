// internal/events/redis.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/s3tar/internal/archive"
	"github.com/andresuchdata/s3tar/internal/config"
	"github.com/andresuchdata/s3tar/pkg/logger"
)

const (
	defaultChannel = "s3tar.events"
	queueSize      = 1024
	publishTimeout = 5 * time.Second
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisHook publishes events as JSON on a redis pub/sub channel. OnEvent
// never blocks: events are queued and published by one background
// goroutine, and dropped when the queue is full.
type RedisHook struct {
	client  publisher
	closer  func() error
	channel string
	queue   chan []byte
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

// wireEvent is the published form of an event.
type wireEvent struct {
	archive.Event
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// NewRedisHook connects to redis and starts the publisher.
func NewRedisHook(cfg config.EventsConfig) (*RedisHook, error) {
	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisHook(client, client.Close, cfg.Channel), nil
}

func newRedisHook(client publisher, closer func() error, channel string) *RedisHook {
	if channel == "" {
		channel = defaultChannel
	}
	h := &RedisHook{
		client:  client,
		closer:  closer,
		channel: channel,
		queue:   make(chan []byte, queueSize),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *RedisHook) OnEvent(e archive.Event) {
	payload, err := encodeEvent(e, time.Now())
	if err != nil {
		logger.Log.Debug().Err(err).Str("event", string(e.Kind)).Msg("failed to encode event")
		return
	}
	select {
	case h.queue <- payload:
	default:
		h.dropped.Add(1)
	}
}

// Dropped is the number of events discarded because the queue was full.
func (h *RedisHook) Dropped() int64 {
	return h.dropped.Load()
}

// Close publishes the queued events, then closes the client. Events sent
// after Close panic, so the hook must be detached from the engine first.
func (h *RedisHook) Close() error {
	var err error
	h.once.Do(func() {
		close(h.queue)
		h.wg.Wait()
		if h.closer != nil {
			err = h.closer()
		}
	})
	return err
}

func (h *RedisHook) run() {
	defer h.wg.Done()
	for payload := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := h.client.Publish(ctx, h.channel, payload).Err(); err != nil {
			logger.Log.Warn().Err(err).Str("channel", h.channel).Msg("redis publish failed")
		}
		cancel()
	}
}

func encodeEvent(e archive.Event, at time.Time) ([]byte, error) {
	w := wireEvent{Event: e, At: at.UTC()}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}

func buildRedisOptions(cfg config.EventsConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	host := cfg.RedisHost
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
