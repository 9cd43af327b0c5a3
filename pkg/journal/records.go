package journal

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// SystemCoin is the coin column value of risk events in the trade log.
const SystemCoin = "SYSTEM"

// TradeRecord is one row of the trade log. Risk events use SystemCoin and
// the event name as Action.
type TradeRecord struct {
	Timestamp    time.Time
	Coin         string
	Action       string
	Side         string
	Quantity     float64
	Price        float64
	ProfitTarget float64
	StopLoss     float64
	Leverage     float64
	Confidence   float64
	PnL          float64
	BalanceAfter float64
	Reason       string
}

// DecisionRecord is one row of the decision log.
type DecisionRecord struct {
	Timestamp  time.Time
	Coin       string
	Signal     string
	Reasoning  string
	Confidence float64
}

// Recorder receives trade and decision rows.
type Recorder interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

// Fanout writes to every recorder and joins their errors.
type Fanout []Recorder

// RecordTrade implements Recorder.
func (f Fanout) RecordTrade(ctx context.Context, rec TradeRecord) error {
	var errs []error
	for _, r := range f {
		if err := r.RecordTrade(ctx, rec); err != nil {
			logx.WithContext(ctx).Errorf("journal: record trade %s %s: %v", rec.Coin, rec.Action, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordDecision implements Recorder.
func (f Fanout) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	var errs []error
	for _, r := range f {
		if err := r.RecordDecision(ctx, rec); err != nil {
			logx.WithContext(ctx).Errorf("journal: record decision %s: %v", rec.Coin, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
