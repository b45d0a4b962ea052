// Package store publishes readings to Redis: every reading goes out on a
// pub/sub channel and onto a capped per-device history list.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
	History  int64  `yaml:"history" json:"history"` // readings kept per device
}

const (
	defaultChannel = "vacdash:readings"
	defaultHistory = 1000
)

// client is the subset of *redis.Client the publisher needs.
type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// Publisher pushes readings to Redis.
type Publisher struct {
	client  client
	channel string
	history int64
}

// message is the envelope published for every reading.
type message struct {
	Device  string `json:"device"`
	Reading any    `json:"reading"`
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Printf("[store] connected to redis at %s (channel %s)", cfg.Addr, cfg.Channel)
	return newPublisher(rc, cfg), nil
}

func newPublisher(c client, cfg Config) *Publisher {
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	return &Publisher{client: c, channel: cfg.Channel, history: cfg.History}
}

// HistoryKey returns the list key holding a device's recent readings.
func HistoryKey(device string) string {
	return fmt.Sprintf("vacdash:%s:readings", device)
}

// Publish sends reading on the channel and prepends it to the device's
// history list. A failed list update is logged, not returned.
func (p *Publisher) Publish(ctx context.Context, device string, reading any) error {
	data, err := json.Marshal(message{Device: device, Reading: reading})
	if err != nil {
		return fmt.Errorf("marshal %s reading: %w", device, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s reading: %w", device, err)
	}

	key := HistoryKey(device)
	if err := p.client.LPush(ctx, key, data).Err(); err != nil {
		log.Printf("[store] lpush %s failed: %v", key, err)
		return nil
	}
	if err := p.client.LTrim(ctx, key, 0, p.history-1).Err(); err != nil {
		log.Printf("[store] ltrim %s failed: %v", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
