// Package redis builds go-redis clients from service configuration.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings. URL, when set, wins over the
// discrete fields.
type Config struct {
	URL      string `env:"REDIS_URL"      yaml:"url"`
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// ErrEmptyAddress is returned when neither URL nor Address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const pingTimeout = 5 * time.Second

// Options converts cfg to go-redis options.
func (c Config) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	if c.Address == "" {
		return nil, ErrEmptyAddress
	}
	return &redis.Options{Addr: c.Address, Password: c.Password, DB: c.DB}, nil
}

// NewClient connects and pings. The client is closed if the ping fails.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, pingErr)
	}
	return client, nil
}
