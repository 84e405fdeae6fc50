package utils

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/jellyfish/config"
)

// NewRedis builds a client from cfg and pings it once. The ping error is returned alongside the client
// so callers can decide whether to fall back to in-memory stores.
func NewRedis(cfg config.AppConfig) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rc, rc.Ping(ctx).Err()
}
