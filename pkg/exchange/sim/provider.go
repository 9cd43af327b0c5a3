package sim

import (
	"context"
	"strings"
	"sync"
	"time"

	"perpexec/pkg/exchange"
)

// PaperOID is the order id reported for simulated fills.
const PaperOID = "-1"

// Fill records one simulated order so tests and diagnostics can inspect what
// the paper venue was asked to do.
type Fill struct {
	Coin       string
	Side       exchange.Side
	Size       float64
	Price      float64
	ReduceOnly bool
	At         time.Time
}

// Provider is the paper venue. Every request succeeds immediately at the
// requested price and nothing leaves the process.
type Provider struct {
	mu    sync.Mutex
	fills []Fill
	now   func() time.Time
}

// New constructs an empty paper venue.
func New() *Provider {
	return &Provider{now: time.Now}
}

func init() {
	exchange.Register(exchange.BackendPaper, func(*exchange.BackendConfig) (exchange.Client, error) {
		return New(), nil
	})
}

// Backend implements exchange.Client.
func (p *Provider) Backend() string { return exchange.BackendPaper }

// PlaceEntry records a fill at the entry price.
func (p *Provider) PlaceEntry(_ context.Context, req exchange.EntryRequest) exchange.EntryResult {
	p.record(Fill{Coin: canonical(req.Coin), Side: req.Side, Size: req.Size, Price: req.EntryPrice})
	return exchange.EntryResult{
		Backend:  exchange.BackendPaper,
		Success:  true,
		EntryOID: PaperOID,
		Raw:      map[string]any{"status": "simulated"},
	}
}

// ClosePosition records a reduce-only fill at the fallback price.
func (p *Provider) ClosePosition(_ context.Context, req exchange.CloseRequest) exchange.CloseResult {
	if req.Size <= 0 {
		return exchange.NoopClose(exchange.BackendPaper)
	}
	p.record(Fill{
		Coin:       canonical(req.Coin),
		Side:       req.Side.Opposite(),
		Size:       req.Size,
		Price:      req.FallbackPrice,
		ReduceOnly: true,
	})
	return exchange.CloseResult{
		Backend:  exchange.BackendPaper,
		Success:  true,
		CloseOID: PaperOID,
		Raw:      map[string]any{"status": "simulated"},
	}
}

// Fills returns a copy of the recorded fills in submission order.
func (p *Provider) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

func (p *Provider) record(f Fill) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.At = p.now()
	p.fills = append(p.fills, f)
}

func canonical(coin string) string { return strings.ToUpper(strings.TrimSpace(coin)) }
