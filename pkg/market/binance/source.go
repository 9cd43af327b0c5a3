package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"perpexec/pkg/market"
)

// Source reads the latest USDⓈ-M futures kline. Public endpoints only, so the
// client carries no credentials.
type Source struct {
	client   *futures.Client
	interval string
}

// New wraps a futures client. An empty interval means "3m".
func New(client *futures.Client, interval string) *Source {
	if interval == "" {
		interval = "3m"
	}
	return &Source{client: client, interval: interval}
}

func init() {
	market.RegisterSource("binance", func(cfg *market.SourceConfig) (market.CandleFetcher, error) {
		client := futures.NewClient("", "")
		if cfg.BaseURL != "" {
			client.BaseURL = cfg.BaseURL
		}
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		return New(client, cfg.Interval), nil
	})
}

// Latest implements market.CandleFetcher.
func (s *Source) Latest(ctx context.Context, coin string) (*market.Candle, error) {
	symbol := strings.ToUpper(strings.TrimSpace(coin)) + "USDT"
	klines, err := s.client.NewKlinesService().Symbol(symbol).Interval(s.interval).Limit(1).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance market: klines %s: %w", symbol, err)
	}
	if len(klines) == 0 || klines[len(klines)-1] == nil {
		return nil, fmt.Errorf("binance market: empty klines for %s", symbol)
	}
	k := klines[len(klines)-1]
	closePx, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("binance market: parse close %q: %w", k.Close, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("binance market: parse high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("binance market: parse low %q: %w", k.Low, err)
	}
	return &market.Candle{Price: closePx, High: high, Low: low, Time: time.UnixMilli(k.OpenTime).UTC()}, nil
}
