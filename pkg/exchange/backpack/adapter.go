package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
)

const (
	defaultBaseURL    = "https://api.backpack.exchange"
	defaultWindowMs   = 5000
	defaultTimeout    = 10 * time.Second
	instructionOrder  = "orderExecute"
	maxQuantityPlaces = 8
	fallbackQuantity  = "0.0001"

	entryNotAccepted = "Backpack futures entry order was not accepted; see raw payload for details."
	closeNotAccepted = "Backpack futures close order was not accepted; see raw payload for details."
	alreadyClosed    = "reduce only order not reduced"
)

var failedStatuses = map[string]struct{}{
	"cancelled": {},
	"canceled":  {},
	"rejected":  {},
	"expired":   {},
	"error":     {},
}

// Adapter submits ED25519-signed market orders for USDC perpetuals.
type Adapter struct {
	apiKey     string
	privateKey ed25519.PrivateKey
	baseURL    string
	windowMs   int
	httpClient *http.Client
	clock      func() time.Time

	marketsMu sync.Mutex
	markets   map[string]quantityFilter
}

type quantityFilter struct {
	step   decimal.Decimal
	minQty decimal.Decimal
}

// Option customises the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithBaseURL points the adapter at a different API host.
func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			a.baseURL = u
		}
	}
}

// WithWindow sets the signature validity window in milliseconds.
func WithWindow(ms int) Option {
	return func(a *Adapter) {
		if ms > 0 {
			a.windowMs = ms
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// New builds an adapter from the API public key and a base64 ED25519 seed.
func New(apiKey, secretSeed string, opts ...Option) (*Adapter, error) {
	apiKey, secretSeed = strings.TrimSpace(apiKey), strings.TrimSpace(secretSeed)
	if apiKey == "" || secretSeed == "" {
		return nil, fmt.Errorf("backpack: api_key/api_secret: %w", exchange.ErrMissingCredentials)
	}
	key, err := decodeKey(secretSeed)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		apiKey:     apiKey,
		privateKey: key,
		baseURL:    defaultBaseURL,
		windowMs:   defaultWindowMs,
		httpClient: &http.Client{Timeout: defaultTimeout},
		clock:      time.Now,
		markets:    make(map[string]quantityFilter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func init() {
	exchange.Register(exchange.BackendBackpack, func(cfg *exchange.BackendConfig) (exchange.Client, error) {
		return New(cfg.APIKey, cfg.APISecret,
			WithBaseURL(cfg.BaseURL),
			WithWindow(cfg.WindowMs),
			WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		)
	})
}

func decodeKey(seed string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(seed)
	if err != nil {
		return nil, errors.New("backpack: invalid api_secret; expected base64-encoded ED25519 seed")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("backpack: invalid api_secret; expected %d-byte seed, got %d", ed25519.SeedSize, len(raw))
	}
}

// Symbol maps a coin to its USDC perpetual.
func Symbol(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin)) + "_USDC_PERP"
}

// Backend implements exchange.Client.
func (a *Adapter) Backend() string { return exchange.BackendBackpack }

// PlaceEntry implements exchange.Client.
func (a *Adapter) PlaceEntry(ctx context.Context, req exchange.EntryRequest) (res exchange.EntryResult) {
	defer exchange.RecoverEntry(exchange.BackendBackpack, &res)
	res.Backend = exchange.BackendBackpack
	if req.Size <= 0 {
		res.Errors = []string{"entry: quantity must be positive"}
		return res
	}

	symbol := Symbol(req.Coin)
	side := "Ask"
	if req.Side == exchange.SideLong {
		side = "Bid"
	}
	order := map[string]any{
		"symbol":     symbol,
		"side":       side,
		"orderType":  "Market",
		"quantity":   a.formatQuantity(ctx, symbol, req.Size),
		"reduceOnly": false,
	}
	raw := a.postOrder(ctx, order)

	var errs exchange.ErrorList
	collect(&errs, "entry", raw)
	res.Success = errs.Len() == 0 && !failedStatus(raw)
	if !res.Success && errs.Len() == 0 {
		errs.Add(entryNotAccepted)
	}
	res.Errors = errs.Items()
	res.EntryOID = raw.Get("id").String()
	res.Raw = decode(raw)
	res.Extra = map[string]any{"symbol": symbol, "side": side, "quantity": order["quantity"]}
	return res
}

// ClosePosition implements exchange.Client. A reduce-only rejection because
// nothing was left to reduce means the venue is already flat and counts as success.
func (a *Adapter) ClosePosition(ctx context.Context, req exchange.CloseRequest) (res exchange.CloseResult) {
	defer exchange.RecoverClose(exchange.BackendBackpack, &res)
	if req.Size <= 0 {
		return exchange.NoopClose(exchange.BackendBackpack)
	}
	res.Backend = exchange.BackendBackpack

	symbol := Symbol(req.Coin)
	side := "Bid"
	if req.Side == exchange.SideLong {
		side = "Ask"
	}
	order := map[string]any{
		"symbol":     symbol,
		"side":       side,
		"orderType":  "Market",
		"quantity":   a.formatQuantity(ctx, symbol, req.Size),
		"reduceOnly": true,
	}
	raw := a.postOrder(ctx, order)
	res.Extra = map[string]any{"symbol": symbol, "quantity": order["quantity"]}

	var errs exchange.ErrorList
	collect(&errs, "close", raw)
	res.Success = errs.Len() == 0 && !failedStatus(raw)
	if !res.Success && strings.Contains(strings.ToLower(message(raw)), alreadyClosed) {
		res.Success = true
		errs = exchange.ErrorList{}
		res.Extra["reason"] = "position already closed on exchange (reduce-only order not reduced)"
	}
	if !res.Success && errs.Len() == 0 {
		errs.Add(closeNotAccepted)
	}
	res.Errors = errs.Items()
	res.CloseOID = raw.Get("id").String()
	res.Raw = decode(raw)
	return res
}

// signingString renders instruction=..&k=v..&timestamp=..&window=.. with keys sorted.
func signingString(instruction string, params map[string]any, timestampMs int64, windowMs int) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("instruction=")
	b.WriteString(instruction)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		switch v := params[k].(type) {
		case bool:
			b.WriteString(strconv.FormatBool(v))
		default:
			fmt.Fprint(&b, v)
		}
	}
	fmt.Fprintf(&b, "&timestamp=%d&window=%d", timestampMs, windowMs)
	return b.String()
}

func (a *Adapter) signHeaders(instruction string, params map[string]any) http.Header {
	ts := a.clock().UnixMilli()
	msg := signingString(instruction, params, ts, a.windowMs)
	sig := ed25519.Sign(a.privateKey, []byte(msg))
	h := make(http.Header)
	h.Set("X-API-Key", a.apiKey)
	h.Set("X-Signature", base64.StdEncoding.EncodeToString(sig))
	h.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	h.Set("X-Window", strconv.Itoa(a.windowMs))
	h.Set("Content-Type", "application/json; charset=utf-8")
	return h
}

// postOrder never fails: transport and decode problems are folded into an error payload.
func (a *Adapter) postOrder(ctx context.Context, order map[string]any) gjson.Result {
	body, err := json.Marshal(order)
	if err != nil {
		return errorPayload("exception", err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/order", bytes.NewReader(body))
	if err != nil {
		return errorPayload("exception", err.Error())
	}
	httpReq.Header = a.signHeaders(instructionOrder, order)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		logx.WithContext(ctx).Errorf("backpack: order request failed: %v", err)
		return errorPayload("exception", err.Error())
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if !gjson.ValidBytes(data) {
		return errorPayload("message", fmt.Sprintf("Non-JSON response: HTTP %d", resp.StatusCode))
	}
	parsed := gjson.ParseBytes(data)
	if resp.StatusCode != http.StatusOK {
		obj := map[string]any{}
		if parsed.IsObject() {
			_ = json.Unmarshal(data, &obj)
		}
		if _, ok := obj["status"]; !ok {
			obj["status"] = "error"
		}
		if _, ok := obj["message"]; !ok {
			obj["message"] = fmt.Sprintf("HTTP %d while executing Backpack order.", resp.StatusCode)
		}
		out, _ := json.Marshal(obj)
		return gjson.ParseBytes(out)
	}
	if !parsed.IsObject() {
		return errorPayload("message", parsed.String())
	}
	return parsed
}

func errorPayload(key, msg string) gjson.Result {
	out, _ := json.Marshal(map[string]string{"status": "error", key: msg})
	return gjson.ParseBytes(out)
}

func failedStatus(raw gjson.Result) bool {
	_, bad := failedStatuses[strings.ToLower(raw.Get("status").String())]
	return bad
}

func message(raw gjson.Result) string {
	if m := raw.Get("message").String(); m != "" {
		return m
	}
	return raw.Get("error").String()
}

func collect(errs *exchange.ErrorList, label string, raw gjson.Result) {
	if failedStatus(raw) {
		errs.Labelled(label, "status="+raw.Get("status").String())
	}
	if m := message(raw); m != "" {
		errs.Labelled(label, m)
	}
	if exc := raw.Get("exception").String(); exc != "" {
		errs.Labelled(label, exc)
	}
}

func decode(raw gjson.Result) any {
	v := raw.Value()
	if v == nil {
		return raw.Raw
	}
	return v
}

// formatQuantity rounds down to the market step size. Without filters four
// decimals are used. The result is never zero.
func (a *Adapter) formatQuantity(ctx context.Context, symbol string, size float64) string {
	f, ok := a.marketFilter(ctx, symbol)
	var qty string
	if ok && f.step.IsPositive() {
		qty, _ = exchange.FormatStep(size, f.step, f.minQty, maxQuantityPlaces)
	} else {
		qty = exchange.FormatDecimal(size, 4)
	}
	if qty == "" || qty == "0" {
		if ok && f.minQty.IsPositive() {
			return f.minQty.String()
		}
		return fallbackQuantity
	}
	return qty
}

func (a *Adapter) marketFilter(ctx context.Context, symbol string) (quantityFilter, bool) {
	a.marketsMu.Lock()
	defer a.marketsMu.Unlock()
	if f, ok := a.markets[symbol]; ok {
		return f, true
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/v1/markets", nil)
	if err != nil {
		return quantityFilter{}, false
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		logx.WithContext(ctx).Infof("backpack: markets request failed: %v", err)
		return quantityFilter{}, false
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil || !gjson.ValidBytes(data) {
		return quantityFilter{}, false
	}
	var found gjson.Result
	gjson.ParseBytes(data).ForEach(func(_, item gjson.Result) bool {
		if item.Get("symbol").String() == symbol {
			found = item.Get("filters.quantity")
			return false
		}
		return true
	})
	if !found.Exists() {
		return quantityFilter{}, false
	}
	f := quantityFilter{}
	if step, err := decimal.NewFromString(found.Get("stepSize").String()); err == nil {
		f.step = step
	}
	if minQty, err := decimal.NewFromString(found.Get("minQuantity").String()); err == nil {
		f.minQty = minQty
	}
	a.markets[symbol] = f
	return f, true
}
