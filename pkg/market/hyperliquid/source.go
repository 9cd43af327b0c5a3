package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/market"
)

const (
	defaultBaseURL      = "https://api.hyperliquid.xyz"
	defaultRetryBackoff = 200 * time.Millisecond
)

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
}

type candleSnapshotRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type infoRequest struct {
	Type string                `json:"type"`
	Req  candleSnapshotRequest `json:"req"`
}

// candleEntry mirrors one element of a candleSnapshot response. Prices are
// decimal strings.
type candleEntry struct {
	T int64  `json:"t"`
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

// Source reads the most recent candle from the public info endpoint.
type Source struct {
	baseURL    string
	httpClient *http.Client
	interval   string
	maxRetries int
	clock      func() time.Time
}

// Option customises a Source.
type Option func(*Source)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithBaseURL points the source at another host.
func WithBaseURL(u string) Option {
	return func(s *Source) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			s.baseURL = u
		}
	}
}

// WithInterval sets the candle interval, e.g. "3m".
func WithInterval(iv string) Option {
	return func(s *Source) {
		if iv != "" {
			s.interval = iv
		}
	}
}

// WithRetries sets how many extra attempts a failed request gets.
func WithRetries(n int) Option {
	return func(s *Source) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Source) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a Source.
func New(opts ...Option) (*Source, error) {
	s := &Source{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 8 * time.Second},
		interval:   "3m",
		maxRetries: 2,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := intervalDurations[s.interval]; !ok {
		return nil, fmt.Errorf("hyperliquid market: unsupported interval %q", s.interval)
	}
	return s, nil
}

func init() {
	market.RegisterSource("hyperliquid", func(cfg *market.SourceConfig) (market.CandleFetcher, error) {
		return New(
			WithBaseURL(cfg.BaseURL),
			WithInterval(cfg.Interval),
			WithRetries(cfg.MaxRetries),
			WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		)
	})
}

// Latest implements market.CandleFetcher.
func (s *Source) Latest(ctx context.Context, coin string) (*market.Candle, error) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return nil, fmt.Errorf("hyperliquid market: coin is required")
	}
	step := intervalDurations[s.interval]
	end := s.clock().UTC()
	req := infoRequest{
		Type: "candleSnapshot",
		Req: candleSnapshotRequest{
			Coin:      coin,
			Interval:  s.interval,
			StartTime: end.Add(-3 * step).UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}
	var entries []candleEntry
	if err := s.do(ctx, req, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("hyperliquid market: empty candle response for %s", coin)
	}
	last := entries[0]
	for _, e := range entries[1:] {
		if e.T > last.T {
			last = e
		}
	}
	return toCandle(last)
}

func toCandle(e candleEntry) (*market.Candle, error) {
	parse := func(field, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("hyperliquid market: parse %s %q: %w", field, v, err)
		}
		return f, nil
	}
	closePx, err := parse("close", e.C)
	if err != nil {
		return nil, err
	}
	high, err := parse("high", e.H)
	if err != nil {
		return nil, err
	}
	low, err := parse("low", e.L)
	if err != nil {
		return nil, err
	}
	return &market.Candle{Price: closePx, High: high, Low: low, Time: time.UnixMilli(e.T).UTC()}, nil
}

func (s *Source) do(ctx context.Context, req infoRequest, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid market: encode request: %w", err)
	}
	backoff := defaultRetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		body, status, err := s.post(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("hyperliquid market: http status %d", status)
			logx.WithContext(ctx).Infof("hyperliquid market: %s attempt %d got %d", req.Req.Coin, attempt+1, status)
			continue
		}
		if status != http.StatusOK {
			return fmt.Errorf("hyperliquid market: http status %d: %s", status, strings.TrimSpace(string(body)))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("hyperliquid market: decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func (s *Source) post(ctx context.Context, payload []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid market: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("hyperliquid market: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
