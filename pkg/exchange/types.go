package exchange

import (
	"fmt"
	"strings"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide normalises free-form side text. Anything that is not "short" is long.
func ParseSide(raw string) Side {
	if strings.EqualFold(strings.TrimSpace(raw), string(SideShort)) {
		return SideShort
	}
	return SideLong
}

// Opposite returns the side that reduces a position of side s.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// IsBuy reports whether opening a position of side s is a buy.
func (s Side) IsBuy() bool { return s != SideShort }

// Liquidity is the expected fee class of an order.
type Liquidity string

const (
	LiquidityMaker Liquidity = "maker"
	LiquidityTaker Liquidity = "taker"
)

// ParseLiquidity defaults to taker for anything other than "maker".
func ParseLiquidity(raw string) Liquidity {
	if strings.EqualFold(strings.TrimSpace(raw), string(LiquidityMaker)) {
		return LiquidityMaker
	}
	return LiquidityTaker
}

// EntryRequest describes a sized entry handed to a venue.
type EntryRequest struct {
	Coin            string
	Side            Side
	Size            float64
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
	Leverage        float64
	Liquidity       Liquidity
}

// CloseRequest describes a position to flatten.
type CloseRequest struct {
	Coin          string
	Side          Side
	Size          float64
	FallbackPrice float64
}

// TPSLRequest replaces protective orders on an open position. Nil prices are left unchanged.
type TPSLRequest struct {
	Coin       string
	Side       Side
	Size       float64
	StopLoss   *float64
	TakeProfit *float64
}

// EntryResult is the normalised outcome of PlaceEntry.
type EntryResult struct {
	Backend  string         `json:"backend"`
	Success  bool           `json:"success"`
	Errors   []string       `json:"errors,omitempty"`
	EntryOID string         `json:"entry_oid,omitempty"`
	SLOID    string         `json:"sl_oid,omitempty"`
	TPOID    string         `json:"tp_oid,omitempty"`
	Raw      any            `json:"raw,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// CloseResult is the normalised outcome of ClosePosition.
type CloseResult struct {
	Backend  string         `json:"backend"`
	Success  bool           `json:"success"`
	Errors   []string       `json:"errors,omitempty"`
	CloseOID string         `json:"close_oid,omitempty"`
	Raw      any            `json:"raw,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// TPSLResult is the normalised outcome of UpdateTPSL.
type TPSLResult struct {
	Backend string         `json:"backend"`
	Success bool           `json:"success"`
	Errors  []string       `json:"errors,omitempty"`
	SLOID   string         `json:"sl_oid,omitempty"`
	TPOID   string         `json:"tp_oid,omitempty"`
	Raw     any            `json:"raw,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// ErrorSummary joins result errors, falling back to the raw payload when the list is empty.
func ErrorSummary(errs []string, raw any) string {
	if len(errs) > 0 {
		return strings.Join(errs, "; ")
	}
	return fmt.Sprintf("%v", raw)
}

// NoopClose is returned by adapters when asked to close a non-positive size.
func NoopClose(backend string) CloseResult {
	return CloseResult{
		Backend: backend,
		Success: true,
		Extra:   map[string]any{"reason": "no position size to close"},
	}
}
