// Package monitor closes positions whose stop-loss or take-profit was
// crossed by the latest candle. It runs every cycle regardless of model
// output or the kill-switch.
package monitor

import (
	"context"
	"sort"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
	"perpexec/pkg/market"
	"perpexec/pkg/state"
)

const (
	ReasonStopLoss   = "Stop loss hit"
	ReasonTakeProfit = "Take profit hit"
)

// Trigger is a threshold crossing found during a check.
type Trigger struct {
	Coin   string
	Reason string
	Price  float64
	Candle market.Candle
}

// CloseFunc exits coin at price with reason as justification.
type CloseFunc func(ctx context.Context, coin, reason string, price float64)

// Monitor checks open positions against their protective levels.
type Monitor struct {
	disabled bool
}

// New returns a monitor for the live backend. Hyperliquid positions carry
// venue-side bracket orders, so local checks are skipped there.
func New(liveBackend string) *Monitor {
	return &Monitor{disabled: liveBackend == exchange.BackendHyperliquid}
}

// Enabled reports whether Check does anything.
func (m *Monitor) Enabled() bool { return !m.disabled }

// Check inspects positions in coin order and calls closeFn at most once per
// coin. Coins without a candle are skipped this cycle.
func (m *Monitor) Check(ctx context.Context, positions map[string]*state.Position, fetch market.CandleFetcher, closeFn CloseFunc) []Trigger {
	if m.disabled || len(positions) == 0 {
		return nil
	}
	coins := make([]string, 0, len(positions))
	for coin := range positions {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	var fired []Trigger
	for _, coin := range coins {
		pos := positions[coin]
		if pos == nil {
			continue
		}
		candle, err := fetch.Latest(ctx, coin)
		if err != nil {
			logx.WithContext(ctx).Errorf("monitor: %s candle: %v", coin, err)
			continue
		}
		if candle == nil {
			continue
		}
		reason, price, ok := Evaluate(pos, *candle)
		if !ok {
			continue
		}
		logx.WithContext(ctx).Infof("monitor: %s %s at %g (high=%g low=%g)", coin, reason, price, candle.High, candle.Low)
		closeFn(ctx, coin, reason, price)
		fired = append(fired, Trigger{Coin: coin, Reason: reason, Price: price, Candle: *candle})
	}
	return fired
}

// Evaluate decides whether candle crosses a level of pos. The stop is
// checked before the target.
func Evaluate(pos *state.Position, c market.Candle) (string, float64, bool) {
	if pos.Side == exchange.SideShort {
		switch {
		case pos.StopLoss > 0 && c.High >= pos.StopLoss:
			return ReasonStopLoss, pos.StopLoss, true
		case pos.ProfitTarget > 0 && c.Low <= pos.ProfitTarget:
			return ReasonTakeProfit, pos.ProfitTarget, true
		}
		return "", 0, false
	}
	switch {
	case pos.StopLoss > 0 && c.Low <= pos.StopLoss:
		return ReasonStopLoss, pos.StopLoss, true
	case pos.ProfitTarget > 0 && c.High >= pos.ProfitTarget:
		return ReasonTakeProfit, pos.ProfitTarget, true
	}
	return "", 0, false
}
