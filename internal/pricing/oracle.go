package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no current price exists for a target.
// Allocation fails closed on it: no conversion happens without a price.
var ErrPriceUnavailable = errors.New("price unavailable")

// Oracle supplies the current price per unit for an allocation target.
type Oracle interface {
	CurrentPrice(ctx context.Context, targetType string) (decimal.Decimal, error)
}

// StaticOracle holds prices in process memory. It is explicit per-process
// state: seeded at startup from config and mutable through SetPrice, never
// relied upon across restarts.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticOracle{prices: cp}
}

func (o *StaticOracle) CurrentPrice(_ context.Context, targetType string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[targetType]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, targetType)
	}
	return p, nil
}

// SetPrice updates the in-memory price for a target.
func (o *StaticOracle) SetPrice(targetType string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[targetType] = price
}

// Publish satisfies Publisher for deployments running without redis.
func (o *StaticOracle) Publish(_ context.Context, targetType string, price decimal.Decimal) error {
	o.SetPrice(targetType, price)
	return nil
}

// Publisher pushes a new quote into the oracle backing store.
type Publisher interface {
	Publish(ctx context.Context, targetType string, price decimal.Decimal) error
}

// RedisOracle reads prices from a shared redis store so every process sees
// the same quote, falling back to a local oracle when the key is missing or
// redis is unreachable.
type RedisOracle struct {
	client   *redis.Client
	fallback Oracle
}

func NewRedisOracle(client *redis.Client, fallback Oracle) *RedisOracle {
	return &RedisOracle{client: client, fallback: fallback}
}

func priceKey(targetType string) string { return "price:" + targetType }

func (o *RedisOracle) CurrentPrice(ctx context.Context, targetType string) (decimal.Decimal, error) {
	val, err := o.client.Get(ctx, priceKey(targetType)).Result()
	if err != nil {
		if o.fallback != nil {
			return o.fallback.CurrentPrice(ctx, targetType)
		}
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, targetType)
		}
		return decimal.Zero, err
	}
	p, err := decimal.NewFromString(val)
	if err != nil || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: bad stored price for %s", ErrPriceUnavailable, targetType)
	}
	return p, nil
}

// Publish writes the price to redis and mirrors it into the fallback oracle
// when that is a StaticOracle.
func (o *RedisOracle) Publish(ctx context.Context, targetType string, price decimal.Decimal) error {
	if s, ok := o.fallback.(*StaticOracle); ok {
		s.SetPrice(targetType, price)
	}
	return o.client.Set(ctx, priceKey(targetType), price.String(), 0).Err()
}
