// Package ratecache shares reference exchange rates between processes through
// Redis and keeps a core.RateBook in sync with them.
package ratecache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-finance/internal/core"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// RatesKey is a hash of currency code → INR rate.
	RatesKey = "fx:reference_rates"
	// UpdatedAtKey holds the RFC3339 time of the last publish.
	UpdatedAtKey = "fx:reference_rates:updated_at"
	// UpdatesChannel announces a publish so watchers reload immediately.
	UpdatesChannel = "fx:reference_rates:updates"
)

// RedisConfig is the connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Cache mirrors the shared rate table into a RateBook.
type Cache struct {
	rdb  *redis.Client
	book *core.RateBook
	log  zerolog.Logger
}

func New(rdb *redis.Client, book *core.RateBook, log zerolog.Logger) *Cache {
	return &Cache{rdb: rdb, book: book, log: log.With().Str("component", "ratecache").Logger()}
}

// Load replaces the book with the shared table. An empty table leaves the book
// untouched and reports false.
func (c *Cache) Load(ctx context.Context) (bool, error) {
	raw, err := c.rdb.HGetAll(ctx, RatesKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read reference rates: %w", err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	rates, err := parseRates(raw)
	if err != nil {
		return false, err
	}
	at := time.Now()
	if s, err := c.rdb.Get(ctx, UpdatedAtKey).Result(); err == nil {
		if t, perr := time.Parse(time.RFC3339, s); perr == nil {
			at = t
		}
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Msg("failed to read rate timestamp")
	}
	c.book.Replace(rates, at)
	return true, nil
}

// Publish stores rates as the shared table and notifies watchers.
func (c *Cache) Publish(ctx context.Context, rates map[core.Currency]decimal.Decimal, at time.Time) error {
	fields, err := encodeRates(rates)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, RatesKey)
	pipe.HSet(ctx, RatesKey, fields)
	pipe.Set(ctx, UpdatedAtKey, at.UTC().Format(time.RFC3339), 0)
	pipe.Publish(ctx, UpdatesChannel, at.UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish reference rates: %w", err)
	}
	c.book.Replace(rates, at)
	return nil
}

// Watch reloads the book on every publish and at least once per interval until
// ctx is done. Errors are logged; the book keeps its last good table.
func (c *Cache) Watch(ctx context.Context, interval time.Duration) {
	sub := c.rdb.Subscribe(ctx, UpdatesChannel)
	defer sub.Close()
	updates := sub.Channel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-ticker.C:
		}
		if _, err := c.Load(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("reference rate refresh failed; keeping previous rates")
		}
	}
}

func parseRates(raw map[string]string) (map[core.Currency]decimal.Decimal, error) {
	rates := make(map[core.Currency]decimal.Decimal, len(raw))
	for code, v := range raw {
		cur, err := core.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("reference rate %q: %w", code, err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("reference rate for %s: %w", cur, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("reference rate for %s must be positive, got %s", cur, rate)
		}
		if cur.IsINR() {
			continue
		}
		rates[cur] = rate
	}
	return rates, nil
}

func encodeRates(rates map[core.Currency]decimal.Decimal) (map[string]any, error) {
	fields := make(map[string]any, len(rates))
	for cur, rate := range rates {
		if !cur.Valid() || cur.IsINR() {
			return nil, fmt.Errorf("cannot publish a reference rate for %q", cur)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("reference rate for %s must be positive, got %s", cur, rate)
		}
		fields[string(cur)] = rate.String()
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no reference rates to publish")
	}
	return fields, nil
}
