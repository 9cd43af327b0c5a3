// Package router sends planned entries and closes to the selected live
// venue. With no live venue configured every call reports "not routed" and
// the caller simulates the fill.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
	"perpexec/pkg/notify"
)

// Factory builds the adapter for a backend.
type Factory func(name string) (exchange.Client, error)

// Router owns the live adapter for the session.
type Router struct {
	live     string
	factory  Factory
	notifier notify.Notifier

	mu      sync.Mutex
	clients map[string]exchange.Client
}

// Option customises a Router.
type Option func(*Router)

// WithNotifier reports construction and order failures.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Router) { r.notifier = n }
}

// New routes to live (as returned by Select) using factory. A nil factory
// uses exchange.New with an empty backend config.
func New(live string, factory Factory, opts ...Option) *Router {
	if factory == nil {
		factory = func(name string) (exchange.Client, error) { return exchange.New(name, nil) }
	}
	r := &Router{
		live:     live,
		factory:  factory,
		notifier: notify.Nop{},
		clients:  make(map[string]exchange.Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromConfig builds adapters from cfg.
func FromConfig(live string, cfg *exchange.Config, opts ...Option) *Router {
	return New(live, cfg.Build, opts...)
}

// Live returns the live backend name, "" when paper trading.
func (r *Router) Live() string { return r.live }

// IsLive reports whether orders leave the process.
func (r *Router) IsLive() bool { return r.live != "" }

// Client returns the cached adapter for the live backend, constructing it on
// first use. Failed constructions are not cached.
func (r *Router) Client() (exchange.Client, error) {
	if r.live == "" {
		return nil, fmt.Errorf("router: no live backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[r.live]; ok {
		return c, nil
	}
	c, err := r.factory(r.live)
	if err != nil {
		return nil, fmt.Errorf("router: construct %s: %w", r.live, err)
	}
	r.clients[r.live] = c
	return c, nil
}

// EntryOrder is a sized entry ready for the venue.
type EntryOrder struct {
	Coin         string
	Side         exchange.Side
	Quantity     float64
	Price        float64
	StopLoss     float64
	ProfitTarget float64
	Leverage     float64
	Liquidity    exchange.Liquidity
}

// RouteEntry places the entry on the live venue. It returns (nil, false)
// when paper trading, and (nil, true) when the live attempt failed and the
// entry must be abandoned.
func (r *Router) RouteEntry(ctx context.Context, o EntryOrder) (*exchange.EntryResult, bool) {
	if !r.IsLive() {
		return nil, false
	}
	log := logx.WithContext(ctx)
	client, err := r.Client()
	if err != nil {
		log.Errorf("%s: %v; aborting entry", o.Coin, err)
		r.notify(ctx, fmt.Sprintf("%s entry aborted: %v", o.Coin, err), o.Coin, "entry")
		return nil, true
	}
	res := client.PlaceEntry(ctx, exchange.EntryRequest{
		Coin:            o.Coin,
		Side:            o.Side,
		Size:            o.Quantity,
		EntryPrice:      o.Price,
		StopLossPrice:   o.StopLoss,
		TakeProfitPrice: o.ProfitTarget,
		Leverage:        o.Leverage,
		Liquidity:       o.Liquidity,
	})
	if !res.Success {
		msg := exchange.ErrorSummary(res.Errors, res.Raw)
		log.Errorf("%s: %s live entry failed: %s", o.Coin, res.Backend, msg)
		r.notify(ctx, fmt.Sprintf("%s %s live entry failed: %s", o.Coin, res.Backend, msg), o.Coin, "entry")
		return nil, true
	}
	return &res, true
}

// CloseOrder flattens a position on the live venue.
type CloseOrder struct {
	Coin     string
	Side     exchange.Side
	Quantity float64
	Price    float64
}

// RouteClose mirrors RouteEntry. A failed live close leaves the position
// open for a later cycle.
func (r *Router) RouteClose(ctx context.Context, o CloseOrder) (*exchange.CloseResult, bool) {
	if !r.IsLive() {
		return nil, false
	}
	log := logx.WithContext(ctx)
	client, err := r.Client()
	if err != nil {
		log.Errorf("%s: %v; position remains open", o.Coin, err)
		r.notify(ctx, fmt.Sprintf("%s close aborted: %v", o.Coin, err), o.Coin, "close")
		return nil, true
	}
	res := client.ClosePosition(ctx, exchange.CloseRequest{
		Coin:          o.Coin,
		Side:          o.Side,
		Size:          o.Quantity,
		FallbackPrice: o.Price,
	})
	if !res.Success {
		msg := exchange.ErrorSummary(res.Errors, res.Raw)
		log.Errorf("%s: %s live close failed; position remains open. %s", o.Coin, res.Backend, msg)
		r.notify(ctx, fmt.Sprintf("%s %s live close failed: %s", o.Coin, res.Backend, msg), o.Coin, "close")
		return nil, true
	}
	return &res, true
}

// UpdateTPSL replaces protective orders when the live venue supports it.
func (r *Router) UpdateTPSL(ctx context.Context, req exchange.TPSLRequest) (exchange.TPSLResult, error) {
	client, err := r.Client()
	if err != nil {
		return exchange.TPSLResult{}, err
	}
	u, ok := client.(exchange.TPSLUpdater)
	if !ok {
		return exchange.TPSLResult{}, fmt.Errorf("router: %s does not support tp/sl updates", client.Backend())
	}
	return u.UpdateTPSL(ctx, req), nil
}

func (r *Router) notify(ctx context.Context, msg, coin, op string) {
	r.notifier.Notify(ctx, msg, map[string]any{"coin": coin, "op": op, "backend": r.live})
}
