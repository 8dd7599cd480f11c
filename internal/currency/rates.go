package currency

import (
	"context"
	"strconv"
	"time"

	"github.com/kargolabs/auction-telemetry/internal/config"
	"github.com/kargolabs/auction-telemetry/pkg/redis"
	"github.com/rs/zerolog/log"
)

// RatesKey is the Redis hash holding USD-per-unit rates keyed by currency code
const RatesKey = "fx:usd"

// RedisRates is a Converter backed by a Redis hash, refreshed periodically.
// It starts from a fallback table so conversion works before the first
// successful refresh, and keeps the last good table when Redis is down.
type RedisRates struct {
	client  *redis.Client
	static  *Static
	refresh time.Duration
	done    chan struct{}
}

// NewRedisRates creates a rate source over an existing Redis client and loads
// the first table. A failed initial load is non-fatal; the fallback table
// serves until a refresh succeeds.
func NewRedisRates(client *redis.Client, fallback map[string]float64) *RedisRates {
	r := &RedisRates{
		client:  client,
		static:  NewStatic(fallback),
		refresh: config.RatesRefreshInterval,
		done:    make(chan struct{}),
	}

	if err := r.load(); err != nil {
		log.Warn().Err(err).Msg("Initial FX rate load failed, using fallback table")
	}

	go r.loop()
	return r
}

// ToUSD implements Converter using the most recently loaded table
func (r *RedisRates) ToUSD(amount float64, currency string) (float64, bool) {
	return r.static.ToUSD(amount, currency)
}

// Close stops the refresh loop
func (r *RedisRates) Close() {
	close(r.done)
}

func (r *RedisRates) loop() {
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.load(); err != nil {
				log.Warn().Err(err).Msg("FX rate refresh failed, keeping last table")
			}
		case <-r.done:
			return
		}
	}
}

func (r *RedisRates) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, RatesKey)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		log.Debug().Str("key", RatesKey).Msg("FX rate hash empty, keeping current table")
		return nil
	}

	rates := make(map[string]float64, len(fields))
	for code, raw := range fields {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate <= 0 {
			log.Warn().Str("currency", code).Str("value", raw).Msg("Skipping malformed FX rate")
			continue
		}
		rates[code] = rate
	}
	if len(rates) == 0 {
		return nil
	}

	r.static.Update(rates)
	log.Debug().Int("currencies", len(rates)).Msg("FX rates refreshed")
	return nil
}
