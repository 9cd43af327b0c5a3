// Package planner sizes entries and prices exits. It performs no I/O and
// never mutates the session; rejections are returned as values.
package planner

import (
	"math"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
	"perpexec/pkg/executor"
	"perpexec/pkg/state"
)

// DefaultCloseReason is used when neither the decision nor the position
// carries a justification.
const DefaultCloseReason = "AI close signal"

var contradictoryPhrases = []string{
	"no entry",
	"no long entry",
	"no short entry",
	"do not enter",
	"avoid entry",
	"skip entry",
}

// Rejection explains why an entry was not planned.
type Rejection struct {
	Reason string
	Fields map[string]any
}

func (r *Rejection) Error() string { return r.Reason }

func reject(reason string, fields map[string]any) *Rejection {
	return &Rejection{Reason: reason, Fields: fields}
}

// EntryInput is everything PlanEntry needs.
type EntryInput struct {
	Coin     string
	Decision executor.EntryDecision
	Price    float64
	Balance  float64
	Live     bool
	// MinNotionalUSD is the venue minimum; zero disables the check.
	MinNotionalUSD float64
	Config         Config
}

// EntryPlan is a sized entry.
type EntryPlan struct {
	Side         exchange.Side
	Leverage     float64
	StopLoss     float64
	ProfitTarget float64
	RiskUSD      float64
	Quantity     float64
	Notional     float64
	Margin       float64
	Liquidity    exchange.Liquidity
	FeeRate      float64
	EntryFee     float64
	TotalCost    float64
	Reason       string
}

// PlanEntry validates and sizes an entry decision.
func PlanEntry(in EntryInput) (EntryPlan, *Rejection) {
	cfg := in.Config
	cfg.ApplyDefaults()
	d := in.Decision
	reason := normalizeSpace(d.Justification)

	if reason != "" {
		lower := strings.ToLower(reason)
		for _, phrase := range contradictoryPhrases {
			if strings.Contains(lower, phrase) {
				return EntryPlan{}, reject("justification contradicts entry signal", map[string]any{"justification": reason, "phrase": phrase})
			}
		}
	}

	var side exchange.Side
	switch strings.ToLower(strings.TrimSpace(d.Side)) {
	case "", "long":
		side = exchange.SideLong
	case "short":
		side = exchange.SideShort
	default:
		return EntryPlan{}, reject("invalid side", map[string]any{"side": d.Side})
	}
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return EntryPlan{}, reject("current price must be positive", map[string]any{"price": in.Price})
	}

	leverage := cfg.DefaultLeverage
	if d.Leverage != nil {
		lv, ok := executor.AsFloat(d.Leverage)
		if !ok || lv <= 0 {
			logx.Infof("planner: %s invalid leverage %v, defaulting to 1x", in.Coin, d.Leverage)
			lv = 1
		}
		leverage = lv
	}

	riskUSD, ok := executor.AsFloat(d.RiskUSD)
	if !ok || riskUSD <= 0 {
		if d.RiskUSD != nil {
			logx.Infof("planner: %s invalid risk_usd %v, defaulting to 1%% of balance", in.Coin, d.RiskUSD)
		}
		riskUSD = in.Balance * DefaultRiskFraction
	}

	if in.Live {
		if cfg.LiveMaxLeverage > 0 && leverage > cfg.LiveMaxLeverage {
			leverage = cfg.LiveMaxLeverage
		}
		if cfg.LiveMaxRiskUSD > 0 && riskUSD > cfg.LiveMaxRiskUSD {
			riskUSD = cfg.LiveMaxRiskUSD
		}
	}

	stop, okStop := executor.AsFloat(d.StopLoss)
	target, okTarget := executor.AsFloat(d.ProfitTarget)
	if !okStop || !okTarget {
		return EntryPlan{}, reject("invalid stop loss or profit target", map[string]any{"stop_loss": d.StopLoss, "profit_target": d.ProfitTarget})
	}
	if stop <= 0 || target <= 0 {
		return EntryPlan{}, reject("non-positive stop loss or profit target", map[string]any{"stop_loss": stop, "profit_target": target})
	}

	price := in.Price
	geometry := map[string]any{"side": string(side), "price": price, "stop_loss": stop, "profit_target": target}
	if side == exchange.SideLong {
		if stop >= price {
			return EntryPlan{}, reject("stop loss not below price for long", geometry)
		}
		if target <= price {
			return EntryPlan{}, reject("profit target not above price for long", geometry)
		}
	} else {
		if stop <= price {
			return EntryPlan{}, reject("stop loss not above price for short", geometry)
		}
		if target >= price {
			return EntryPlan{}, reject("profit target not below price for short", geometry)
		}
	}

	distance := math.Abs(price - stop)
	if distance == 0 {
		return EntryPlan{}, reject("zero stop distance", geometry)
	}

	qty := riskUSD / distance
	notional := qty * price
	margin := notional / leverage

	if in.Live && cfg.LiveMaxMarginUSD > 0 && margin > cfg.LiveMaxMarginUSD {
		logx.Infof("planner: %s margin %.2f exceeds live cap %.2f, scaling down", in.Coin, margin, cfg.LiveMaxMarginUSD)
		margin = cfg.LiveMaxMarginUSD
		notional = margin * leverage
		qty = notional / price
		if effective := qty * distance; effective < riskUSD {
			riskUSD = effective
		}
	}

	if in.MinNotionalUSD > 0 && notional < in.MinNotionalUSD {
		return EntryPlan{}, reject("notional below venue minimum", map[string]any{"notional": notional, "min_notional_usd": in.MinNotionalUSD})
	}

	liquidity := exchange.ParseLiquidity(d.Liquidity)
	feeRate := cfg.FeeRate(string(liquidity))
	if d.FeeRate != nil {
		if fr, ok := executor.AsFloat(d.FeeRate); ok {
			feeRate = fr
		} else {
			logx.Infof("planner: %s invalid fee_rate %v, using schedule", in.Coin, d.FeeRate)
		}
	}
	entryFee := notional * feeRate

	reward := qty * math.Abs(target-price)
	if reward < cfg.MinExpectedRewardUSD {
		return EntryPlan{}, reject("expected reward below minimum", map[string]any{"expected_reward": reward, "min_expected_reward_usd": cfg.MinExpectedRewardUSD})
	}
	if fees := entryFee * 2; fees > 0 && reward/fees < cfg.MinRewardFeeRatio {
		return EntryPlan{}, reject("reward/fee ratio below minimum", map[string]any{"ratio": reward / fees, "min_reward_fee_ratio": cfg.MinRewardFeeRatio})
	}

	total := margin + entryFee
	if total > in.Balance {
		return EntryPlan{}, reject("insufficient balance", map[string]any{"balance": in.Balance, "margin": margin, "entry_fee": entryFee})
	}

	return EntryPlan{
		Side:         side,
		Leverage:     leverage,
		StopLoss:     stop,
		ProfitTarget: target,
		RiskUSD:      riskUSD,
		Quantity:     qty,
		Notional:     notional,
		Margin:       margin,
		Liquidity:    liquidity,
		FeeRate:      feeRate,
		EntryFee:     entryFee,
		TotalCost:    total,
		Reason:       strings.TrimSpace(d.Justification),
	}, nil
}

// CloseInput prices the exit of an open position.
type CloseInput struct {
	Position      *state.Position
	Price         float64
	Justification string
	Config        Config
}

// ClosePlan is the priced exit.
type ClosePlan struct {
	RawReason string
	Reason    string
	GrossPnL  float64
	FeeRate   float64
	ExitFee   float64
	TotalFees float64
	NetPnL    float64
}

// PlanClose always succeeds.
func PlanClose(in CloseInput) ClosePlan {
	p := in.Position
	raw := strings.TrimSpace(in.Justification)
	if raw == "" {
		raw = strings.TrimSpace(p.LastJustification)
	}
	if raw == "" {
		raw = DefaultCloseReason
	}
	rate := p.FeeRate
	if rate <= 0 {
		rate = in.Config.TakerFeeRate
	}
	gross := GrossPnL(p, in.Price)
	exitFee := p.Quantity * in.Price * rate
	total := p.FeesPaid + exitFee
	return ClosePlan{
		RawReason: raw,
		Reason:    normalizeSpace(raw),
		GrossPnL:  gross,
		FeeRate:   rate,
		ExitFee:   exitFee,
		TotalFees: total,
		NetPnL:    gross - total,
	}
}

// GrossPnL is the price PnL of p at price, before fees.
func GrossPnL(p *state.Position, price float64) float64 {
	return p.GrossPnL(price)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
