package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSource(t *testing.T, h http.HandlerFunc, opts ...Option) *Source {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)
	return s
}

func TestLatestPicksNewestCandle(t *testing.T) {
	var got infoRequest
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `[
			{"t":1714564620000,"o":"60000","h":"60100","l":"59900","c":"60050"},
			{"t":1714564800000,"o":"60050","h":"60300","l":"60010","c":"60200.5"},
			{"t":1714564440000,"o":"59800","h":"60010","l":"59700","c":"60000"}
		]`)
	})

	c, err := s.Latest(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, 60200.5, c.Price)
	assert.Equal(t, 60300.0, c.High)
	assert.Equal(t, 60010.0, c.Low)
	assert.Equal(t, time.UnixMilli(1714564800000).UTC(), c.Time)

	assert.Equal(t, "candleSnapshot", got.Type)
	assert.Equal(t, "BTC", got.Req.Coin)
	assert.Equal(t, "3m", got.Req.Interval)
	assert.Equal(t, fixedNow.UnixMilli(), got.Req.EndTime)
	assert.Equal(t, fixedNow.Add(-9*time.Minute).UnixMilli(), got.Req.StartTime)
}

func TestLatestRetriesServerErrors(t *testing.T) {
	var hits int32
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[{"t":1,"o":"1","h":"2","l":"0.5","c":"1.5"}]`)
	})
	c, err := s.Latest(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Price)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestLatestErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "empty", body: `[]`, want: "empty candle response"},
		{name: "bad request", status: http.StatusBadRequest, body: `bad coin`, want: "http status 400"},
		{name: "bad json", body: `{`, want: "decode response"},
		{name: "bad number", body: `[{"t":1,"o":"1","h":"x","l":"1","c":"1"}]`, want: "parse high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = io.WriteString(w, tt.body)
			}, WithRetries(0))
			c, err := s.Latest(context.Background(), "SOL")
			assert.Nil(t, c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewRejectsUnknownInterval(t *testing.T) {
	_, err := New(WithInterval("7m"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported interval")
}
