package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
	"perpexec/pkg/executor"
	"perpexec/pkg/journal"
	"perpexec/pkg/planner"
	"perpexec/pkg/risk"
	"perpexec/pkg/router"
	"perpexec/pkg/state"
)

// Action outcomes recorded in the cycle journal and order metrics.
const (
	outcomeOpened   = "opened"
	outcomeClosed   = "closed"
	outcomeHeld     = "held"
	outcomeRejected = "rejected"
	outcomeBlocked  = "blocked"
	outcomeFailed   = "failed"
	outcomeSkipped  = "skipped"
)

const noJustification = "No justification provided."

// execute applies decisions in coin order. Coins outside the universe are
// ignored; open positions without a decision are left to the monitor.
func (e *Engine) execute(ctx context.Context, decisions map[string]executor.Decision, verdict risk.Decision) {
	log := logx.WithContext(ctx)
	var orphans []string
	for _, coin := range e.session.Coins() {
		if !e.inUniverse(coin) {
			orphans = append(orphans, coin)
		}
	}
	if len(orphans) > 0 {
		log.Infof("manager: positions outside the universe get no decisions and stay under stop/target management: %v", orphans)
	}

	for _, coin := range sortedCoins(decisions) {
		if !e.inUniverse(coin) {
			continue
		}
		d := decisions[coin]
		e.recordDecision(ctx, d)

		candle, ok := e.candles[coin]
		if !ok {
			e.action(coin, d.Signal(), outcomeSkipped, "no market data", nil)
			continue
		}
		switch d := d.(type) {
		case executor.EntryDecision:
			if !verdict.AllowEntries {
				log.Infof("manager: %s entry blocked by risk control: %s", coin, verdict.Reason)
				e.action(coin, d.Signal(), outcomeBlocked, verdict.Reason, nil)
				metricOrders.Inc("entry", coin, outcomeBlocked)
				continue
			}
			e.openPosition(ctx, coin, d, candle.Price)
		case executor.CloseDecision:
			e.closePosition(ctx, coin, candle.Price, d.Justification, "decision")
		case executor.HoldDecision:
			e.hold(coin, d)
		}
	}
}

func (e *Engine) recordDecision(ctx context.Context, d executor.Decision) {
	var confidence float64
	switch v := d.(type) {
	case executor.EntryDecision:
		confidence = v.Confidence
	case executor.CloseDecision:
		confidence = v.Confidence
	case executor.HoldDecision:
		confidence = v.Confidence
	}
	_ = e.deps.Recorder.RecordDecision(ctx, journal.DecisionRecord{
		Timestamp:  e.now(),
		Coin:       d.CoinName(),
		Signal:     d.Signal(),
		Reasoning:  d.Reason(),
		Confidence: confidence,
	})
}

func (e *Engine) openPosition(ctx context.Context, coin string, d executor.EntryDecision, price float64) {
	log := logx.WithContext(ctx)
	if _, exists := e.session.Position(coin); exists {
		log.Infof("manager: %s already has a position, skipping entry", coin)
		e.action(coin, d.Signal(), outcomeSkipped, "position already open", nil)
		return
	}
	live := e.deps.Router.IsLive()
	plan, rej := planner.PlanEntry(planner.EntryInput{
		Coin:           coin,
		Decision:       d,
		Price:          price,
		Balance:        e.session.Balance,
		Live:           live,
		MinNotionalUSD: e.deps.MinNotionalUSD,
		Config:         e.deps.Planner,
	})
	if rej != nil {
		log.Infow(fmt.Sprintf("manager: %s entry rejected: %s", coin, rej.Reason), logx.Field("fields", rej.Fields))
		metricRejections.Inc(rej.Reason)
		metricOrders.Inc("entry", coin, outcomeRejected)
		e.action(coin, d.Signal(), outcomeRejected, rej.Reason, rej.Fields)
		e.deps.Notifier.Notify(ctx, fmt.Sprintf("%s entry rejected: %s", coin, rej.Reason), rej.Fields)
		return
	}

	pos := &state.Position{
		Side:                  plan.Side,
		Quantity:              plan.Quantity,
		EntryPrice:            price,
		StopLoss:              plan.StopLoss,
		ProfitTarget:          plan.ProfitTarget,
		Leverage:              plan.Leverage,
		Margin:                plan.Margin,
		FeeRate:               plan.FeeRate,
		FeesPaid:              plan.EntryFee,
		RiskUSD:               plan.RiskUSD,
		Liquidity:             string(plan.Liquidity),
		Confidence:            d.Confidence,
		EntryJustification:    plan.Reason,
		LastJustification:     plan.Reason,
		InvalidationCondition: d.InvalidationCondition,
		WaitForFill:           d.WaitForFill,
		OpenedAt:              e.now().UTC(),
	}

	res, routed := e.deps.Router.RouteEntry(ctx, router.EntryOrder{
		Coin:         coin,
		Side:         plan.Side,
		Quantity:     plan.Quantity,
		Price:        price,
		StopLoss:     plan.StopLoss,
		ProfitTarget: plan.ProfitTarget,
		Leverage:     plan.Leverage,
		Liquidity:    plan.Liquidity,
	})
	switch {
	case routed && res == nil:
		metricOrders.Inc("entry", coin, outcomeFailed)
		e.action(coin, d.Signal(), outcomeFailed, "live entry failed", nil)
		return
	case res != nil:
		pos.LiveBackend = res.Backend
		pos.EntryOID, pos.SLOID, pos.TPOID = res.EntryOID, res.SLOID, res.TPOID
	case e.deps.Paper != nil:
		paper := e.deps.Paper.PlaceEntry(ctx, exchange.EntryRequest{
			Coin:            coin,
			Side:            plan.Side,
			Size:            plan.Quantity,
			EntryPrice:      price,
			StopLossPrice:   plan.StopLoss,
			TakeProfitPrice: plan.ProfitTarget,
			Leverage:        plan.Leverage,
			Liquidity:       plan.Liquidity,
		})
		pos.EntryOID = paper.EntryOID
	}

	if !e.session.Open(coin, pos) {
		log.Errorf("manager: %s position could not be recorded", coin)
		e.action(coin, d.Signal(), outcomeFailed, "position not recorded", nil)
		return
	}
	e.session.Balance -= plan.TotalCost
	metricOrders.Inc("entry", coin, outcomeOpened)

	reason := plan.Reason
	if reason == "" {
		reason = "AI entry signal"
	}
	log.Infof("manager: %s ENTRY %s qty=%.6f @ %g sl=%g tp=%g lev=%gx margin=%.2f fee=%.4f",
		coin, plan.Side, plan.Quantity, price, plan.StopLoss, plan.ProfitTarget, plan.Leverage, plan.Margin, plan.EntryFee)
	e.trade(ctx, journal.TradeRecord{
		Coin:         coin,
		Action:       "ENTRY",
		Side:         string(plan.Side),
		Quantity:     plan.Quantity,
		Price:        price,
		ProfitTarget: plan.ProfitTarget,
		StopLoss:     plan.StopLoss,
		Leverage:     plan.Leverage,
		Confidence:   d.Confidence,
		Reason:       fmt.Sprintf("%s | Fees: $%.2f", reason, plan.EntryFee),
	})
	e.action(coin, d.Signal(), outcomeOpened, reason, map[string]any{
		"side": string(plan.Side), "quantity": plan.Quantity, "price": price, "margin": plan.Margin, "backend": e.backendName(),
	})
	e.deps.Notifier.Notify(ctx, fmt.Sprintf("%s ENTRY %s %.6f @ %g (SL %g / TP %g, %gx)",
		coin, strings.ToUpper(string(plan.Side)), plan.Quantity, price, plan.StopLoss, plan.ProfitTarget, plan.Leverage),
		map[string]any{"coin": coin, "margin": plan.Margin, "risk_usd": plan.RiskUSD, "entry_fee": plan.EntryFee, "reason": plan.Reason})
}

// closePosition flattens coin at price. source is "decision" or "monitor".
// A failed live close keeps the position for a later cycle.
func (e *Engine) closePosition(ctx context.Context, coin string, price float64, justification, source string) {
	log := logx.WithContext(ctx)
	signal := executor.SignalClose
	pos, ok := e.session.Position(coin)
	if !ok {
		log.Infof("manager: %s has no position to close", coin)
		e.action(coin, signal, outcomeSkipped, "no position", nil)
		return
	}
	plan := planner.PlanClose(planner.CloseInput{
		Position:      pos,
		Price:         price,
		Justification: justification,
		Config:        e.deps.Planner,
	})

	res, routed := e.deps.Router.RouteClose(ctx, router.CloseOrder{
		Coin:     coin,
		Side:     pos.Side,
		Quantity: pos.Quantity,
		Price:    price,
	})
	switch {
	case routed && res == nil:
		metricOrders.Inc("close", coin, outcomeFailed)
		e.action(coin, signal, outcomeFailed, "live close failed; position remains open", map[string]any{"source": source})
		return
	case res != nil:
		pos.CloseOID = res.CloseOID
	case e.deps.Paper != nil:
		paper := e.deps.Paper.ClosePosition(ctx, exchange.CloseRequest{Coin: coin, Side: pos.Side, Size: pos.Quantity, FallbackPrice: price})
		pos.CloseOID = paper.CloseOID
	}

	e.session.Balance += pos.Margin + plan.NetPnL
	e.session.Remove(coin)
	metricOrders.Inc("close", coin, outcomeClosed)

	log.Infof("manager: %s CLOSE %s qty=%.6f @ %g gross=%.2f fees=%.2f net=%.2f (%s: %s)",
		coin, pos.Side, pos.Quantity, price, plan.GrossPnL, plan.TotalFees, plan.NetPnL, source, plan.Reason)
	e.trade(ctx, journal.TradeRecord{
		Coin:     coin,
		Action:   "CLOSE",
		Side:     string(pos.Side),
		Quantity: pos.Quantity,
		Price:    price,
		Leverage: pos.Leverage,
		PnL:      plan.NetPnL,
		Reason:   fmt.Sprintf("%s | Gross: $%.2f | Fees: $%.2f", plan.Reason, plan.GrossPnL, plan.TotalFees),
	})
	e.action(coin, signal, outcomeClosed, plan.Reason, map[string]any{
		"source": source, "price": price, "gross_pnl": plan.GrossPnL, "net_pnl": plan.NetPnL,
	})
	e.deps.Notifier.Notify(ctx, fmt.Sprintf("%s CLOSE %s @ %g net PnL $%.2f: %s",
		coin, strings.ToUpper(string(pos.Side)), price, plan.NetPnL, plan.Reason),
		map[string]any{"coin": coin, "source": source, "gross_pnl": plan.GrossPnL, "fees": plan.TotalFees, "balance": e.session.Balance})
}

// hold refreshes the position's last justification.
func (e *Engine) hold(coin string, d executor.HoldDecision) {
	pos, ok := e.session.Position(coin)
	if !ok {
		e.action(coin, d.Signal(), outcomeHeld, "flat", nil)
		return
	}
	reason := strings.Join(strings.Fields(d.Justification), " ")
	switch {
	case reason == executor.MissingDataJustification:
		// A truncated response says nothing about the position.
	case reason != "":
		pos.LastJustification = reason
	case strings.TrimSpace(pos.LastJustification) == "":
		pos.LastJustification = noJustification
	}
	detail := pos.LastJustification
	if reason == executor.MissingDataJustification {
		detail = reason
	}
	if d.Unknown != "" {
		detail = fmt.Sprintf("unknown signal %q: %s", d.Unknown, detail)
	}
	e.action(coin, d.Signal(), outcomeHeld, detail, nil)
}
