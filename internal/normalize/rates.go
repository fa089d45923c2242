package normalize

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type rateKey struct {
	from, to string
	on       string
}

// CachedRates memoizes rate lookups per (pair, date). A job converts
// thousands of rows against a handful of distinct dates, so this keeps the
// store out of the per-row path.
type CachedRates struct {
	src RateProvider

	mu    sync.Mutex
	rates map[rateKey]decimal.Decimal
}

func NewCachedRates(src RateProvider) *CachedRates {
	return &CachedRates{src: src, rates: make(map[rateKey]decimal.Decimal)}
}

func (c *CachedRates) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	key := rateKey{from: from, to: to, on: on.Format("2006-01-02")}

	c.mu.Lock()
	rate, ok := c.rates[key]
	c.mu.Unlock()
	if ok {
		return rate, nil
	}

	rate, err := c.src.Rate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.rates[key] = rate
	c.mu.Unlock()
	return rate, nil
}
