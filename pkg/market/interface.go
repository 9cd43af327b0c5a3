package market

import (
	"context"
	"time"
)

// Candle is the latest bar used for pricing entries and checking exits.
// Price is the close of the most recent bar.
type Candle struct {
	Price float64
	High  float64
	Low   float64
	Time  time.Time
}

// CandleFetcher returns the latest candle for a coin. Implementations return
// (nil, err) on failure; callers treat that as "no data this cycle".
type CandleFetcher interface {
	Latest(ctx context.Context, coin string) (*Candle, error)
}

// FetcherFunc adapts a function to CandleFetcher.
type FetcherFunc func(ctx context.Context, coin string) (*Candle, error)

// Latest implements CandleFetcher.
func (f FetcherFunc) Latest(ctx context.Context, coin string) (*Candle, error) {
	return f(ctx, coin)
}
