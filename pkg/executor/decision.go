package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
)

// Signal names accepted from the model.
const (
	SignalEntry = "entry"
	SignalClose = "close"
	SignalHold  = "hold"
)

// Decision is one of EntryDecision, CloseDecision or HoldDecision.
type Decision interface {
	Signal() string
	CoinName() string
	Reason() string
}

// EntryDecision asks to open a position. Numeric fields hold the raw model
// value; the planner decides how to interpret missing or malformed values.
type EntryDecision struct {
	Coin                  string
	Side                  string
	Quantity              any
	StopLoss              any
	ProfitTarget          any
	Leverage              any
	RiskUSD               any
	FeeRate               any
	Liquidity             string
	Confidence            float64
	Justification         string
	InvalidationCondition string
	WaitForFill           bool
}

// CloseDecision asks to flatten the open position.
type CloseDecision struct {
	Coin          string
	Justification string
	Confidence    float64
}

// HoldDecision keeps the current state.
type HoldDecision struct {
	Coin          string
	Justification string
	Confidence    float64
	// Unknown is set when the model sent an unrecognised signal.
	Unknown string
}

func (EntryDecision) Signal() string { return SignalEntry }
func (d EntryDecision) CoinName() string { return d.Coin }
func (d EntryDecision) Reason() string { return d.Justification }
func (CloseDecision) Signal() string { return SignalClose }
func (d CloseDecision) CoinName() string { return d.Coin }
func (d CloseDecision) Reason() string { return d.Justification }
func (HoldDecision) Signal() string { return SignalHold }
func (d HoldDecision) CoinName() string { return d.Coin }
func (d HoldDecision) Reason() string { return d.Justification }

// Validate converts a raw decision map into its typed variant.
func Validate(coin string, raw map[string]any) Decision {
	signal := strings.ToLower(strings.TrimSpace(AsString(raw["signal"])))
	if signal == "" {
		signal = SignalHold
	}
	confidence, _ := AsFloat(raw["confidence"])
	justification := strings.TrimSpace(AsString(raw["justification"]))

	switch signal {
	case SignalEntry:
		side := strings.ToLower(strings.TrimSpace(AsString(raw["side"])))
		if side == "" {
			side = "long"
		}
		return EntryDecision{
			Coin:                  coin,
			Side:                  side,
			Quantity:              raw["quantity"],
			StopLoss:              raw["stop_loss"],
			ProfitTarget:          raw["profit_target"],
			Leverage:              raw["leverage"],
			RiskUSD:               raw["risk_usd"],
			FeeRate:               raw["fee_rate"],
			Liquidity:             strings.ToLower(strings.TrimSpace(AsString(raw["liquidity"]))),
			Confidence:            confidence,
			Justification:         justification,
			InvalidationCondition: strings.TrimSpace(AsString(raw["invalidation_condition"])),
			WaitForFill:           asBool(raw["wait_for_fill"]),
		}
	case SignalClose:
		return CloseDecision{Coin: coin, Justification: justification, Confidence: confidence}
	case SignalHold:
		return HoldDecision{Coin: coin, Justification: justification, Confidence: confidence}
	default:
		logx.Infof("executor: %s unknown signal %q, treating as hold", coin, signal)
		return HoldDecision{Coin: coin, Justification: justification, Confidence: confidence, Unknown: signal}
	}
}

// ValidateAll converts every parsed decision.
func ValidateAll(res *ParseResult) map[string]Decision {
	if res == nil {
		return nil
	}
	out := make(map[string]Decision, len(res.Decisions))
	for coin, raw := range res.Decisions {
		out[coin] = Validate(coin, raw)
	}
	return out
}

// AsFloat interprets JSON numbers and numeric strings. Booleans, nil,
// NaN, infinities and anything else report false.
func AsFloat(v any) (float64, bool) {
	f, ok := asNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsString renders scalars as text; nil becomes "".
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	default:
		return false
	}
}
