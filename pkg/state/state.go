// Package state holds the in-memory trading session: cash balance, open
// positions and the risk control record.
package state

import (
	"sort"
	"strings"
	"time"

	"perpexec/pkg/exchange"
	"perpexec/pkg/risk"
)

// Position is an open position. At most one exists per coin and its
// quantity stays positive while it is open.
type Position struct {
	Side         exchange.Side `json:"side"`
	Quantity     float64       `json:"quantity"`
	EntryPrice   float64       `json:"entry_price"`
	StopLoss     float64       `json:"stop_loss"`
	ProfitTarget float64       `json:"profit_target"`
	Leverage     float64       `json:"leverage"`
	Margin       float64       `json:"margin"`
	FeeRate      float64       `json:"fee_rate"`
	FeesPaid     float64       `json:"fees_paid"`
	RiskUSD      float64       `json:"risk_usd"`
	Liquidity    string        `json:"liquidity"`
	Confidence   float64       `json:"confidence"`

	EntryJustification    string `json:"entry_justification"`
	LastJustification     string `json:"last_justification"`
	InvalidationCondition string `json:"invalidation_condition,omitempty"`
	WaitForFill           bool   `json:"wait_for_fill"`

	OpenedAt    time.Time `json:"opened_at"`
	LiveBackend string    `json:"live_backend,omitempty"`
	EntryOID    string    `json:"entry_oid,omitempty"`
	SLOID       string    `json:"sl_oid,omitempty"`
	TPOID       string    `json:"tp_oid,omitempty"`
	CloseOID    string    `json:"close_oid,omitempty"`
}

// GrossPnL is the unrealised profit at price before fees.
func (p *Position) GrossPnL(price float64) float64 {
	if p.Side == exchange.SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// Notional is quantity times entry price.
func (p *Position) Notional() float64 { return p.Quantity * p.EntryPrice }

// Snapshot is the persisted form of a Session.
type Snapshot struct {
	Balance     float64              `json:"balance"`
	Positions   map[string]*Position `json:"positions"`
	Iteration   int64                `json:"iteration"`
	UpdatedAt   time.Time            `json:"updated_at"`
	RiskControl risk.State           `json:"risk_control"`
}

// Session is owned by a single trading loop and is not safe for concurrent
// use.
type Session struct {
	Balance   float64
	Iteration int64
	Risk      risk.State

	positions map[string]*Position
}

// NewSession starts a flat session with the given cash balance.
func NewSession(balance float64) *Session {
	return &Session{Balance: balance, positions: make(map[string]*Position)}
}

// FromSnapshot restores a session. Positions with non-positive quantity are
// dropped.
func FromSnapshot(s Snapshot) *Session {
	sess := NewSession(s.Balance)
	sess.Iteration = s.Iteration
	sess.Risk = s.RiskControl
	for coin, p := range s.Positions {
		if p == nil || p.Quantity <= 0 {
			continue
		}
		sess.positions[normalizeCoin(coin)] = p
	}
	return sess
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot(now time.Time) Snapshot {
	positions := make(map[string]*Position, len(s.positions))
	for coin, p := range s.positions {
		cp := *p
		positions[coin] = &cp
	}
	return Snapshot{
		Balance:     s.Balance,
		Positions:   positions,
		Iteration:   s.Iteration,
		UpdatedAt:   now.UTC(),
		RiskControl: s.Risk,
	}
}

// Position returns the open position for coin, if any.
func (s *Session) Position(coin string) (*Position, bool) {
	p, ok := s.positions[normalizeCoin(coin)]
	return p, ok
}

// Open records a new position. It replaces nothing: callers must check
// Position first.
func (s *Session) Open(coin string, p *Position) bool {
	coin = normalizeCoin(coin)
	if _, exists := s.positions[coin]; exists || p == nil || p.Quantity <= 0 {
		return false
	}
	s.positions[coin] = p
	return true
}

// Remove deletes the position for coin.
func (s *Session) Remove(coin string) (*Position, bool) {
	coin = normalizeCoin(coin)
	p, ok := s.positions[coin]
	if ok {
		delete(s.positions, coin)
	}
	return p, ok
}

// Coins returns open position coins in sorted order.
func (s *Session) Coins() []string {
	out := make([]string, 0, len(s.positions))
	for coin := range s.positions {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}

// Positions returns the live map. Callers must not retain it across cycles.
func (s *Session) Positions() map[string]*Position { return s.positions }

// TotalMargin sums margin reserved by open positions.
func (s *Session) TotalMargin() float64 {
	var total float64
	for _, p := range s.positions {
		total += p.Margin
	}
	return total
}

// Equity is balance plus reserved margin plus unrealised PnL at the given
// prices. Coins without a price contribute margin only.
func (s *Session) Equity(prices map[string]float64) float64 {
	total := s.Balance + s.TotalMargin()
	for coin, p := range s.positions {
		if px, ok := prices[coin]; ok && px > 0 {
			total += p.GrossPnL(px)
		}
	}
	return total
}

func normalizeCoin(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin))
}
