// Package manager runs the trading loop. One Engine owns one session: it
// applies operator commands, evaluates risk, enforces stops, asks the model
// for decisions and executes them, strictly in that order.
package manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
	"perpexec/pkg/executor"
	"perpexec/pkg/journal"
	"perpexec/pkg/market"
	"perpexec/pkg/monitor"
	"perpexec/pkg/notify"
	"perpexec/pkg/planner"
	"perpexec/pkg/prompt"
	"perpexec/pkg/risk"
	"perpexec/pkg/router"
	"perpexec/pkg/state"
)

// Decider produces per-coin decisions for a cycle. *executor.Executor
// implements it.
type Decider interface {
	Decide(ctx context.Context, data prompt.CycleData, coins []string) (*executor.Round, error)
}

// Deps are the collaborators of an Engine. Decider, Market, Router, Risk and
// Store are required.
type Deps struct {
	Decider  Decider
	Market   market.CandleFetcher
	Router   *router.Router
	Risk     *risk.Controller
	Store    journal.StateStore
	Recorder journal.Recorder
	Cycles   *journal.CycleWriter
	Notifier notify.Notifier
	Inbox    CommandInbox
	// Paper records simulated fills when no live venue is selected.
	Paper          exchange.Client
	Planner        planner.Config
	MinNotionalUSD float64
}

// Engine is the single trading goroutine. It is not safe for concurrent use;
// other goroutines talk to it through the CommandInbox.
type Engine struct {
	cfg  *Config
	deps Deps

	monitor   *monitor.Monitor
	session   *state.Session
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	startedAt time.Time

	prices   map[string]float64
	candles  map[string]*market.Candle
	actions  []journal.CycleAction
	outcomes []CommandOutcome
}

// NewEngine validates deps and fills optional collaborators with no-ops.
func NewEngine(cfg *Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch {
	case deps.Decider == nil:
		return nil, errors.New("manager: decider is required")
	case deps.Market == nil:
		return nil, errors.New("manager: market fetcher is required")
	case deps.Router == nil:
		return nil, errors.New("manager: router is required")
	case deps.Risk == nil:
		return nil, errors.New("manager: risk controller is required")
	case deps.Store == nil:
		return nil, errors.New("manager: state store is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = journal.Fanout{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Inbox == nil {
		deps.Inbox = NewChanInbox(0)
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		monitor: monitor.New(deps.Router.Live()),
		now:     time.Now,
		sleep:   sleepCtx,
		prices:  make(map[string]float64),
	}, nil
}

// Inbox returns the queue the engine drains between iterations.
func (e *Engine) Inbox() CommandInbox { return e.deps.Inbox }

// Session returns the live session, nil before Restore.
func (e *Engine) Session() *state.Session { return e.session }

// Restore loads the persisted session or starts a fresh one with the
// configured capital.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.deps.Store.Load(ctx)
	switch {
	case errors.Is(err, journal.ErrNoState):
		capital := e.cfg.Capital(e.deps.Router.IsLive())
		logx.WithContext(ctx).Infof("manager: no saved state, starting with $%.2f", capital)
		e.session = state.NewSession(capital)
	case err != nil:
		return err
	default:
		e.session = state.FromSnapshot(snap)
		logx.WithContext(ctx).Infof("manager: restored iteration %d balance=%.2f positions=%v",
			e.session.Iteration, e.session.Balance, e.session.Coins())
	}
	e.startedAt = e.now()
	return nil
}

// Run loops until ctx is cancelled. Iteration failures are logged, state is
// persisted and the next attempt waits RetryBackoff instead of Interval.
func (e *Engine) Run(ctx context.Context) error {
	if e.session == nil {
		if err := e.Restore(ctx); err != nil {
			return err
		}
	}
	logx.WithContext(ctx).Infof("manager: trading %v every %s (backend=%s)", e.cfg.Coins, e.cfg.Interval, e.backendName())
	for {
		wait := e.cfg.Interval
		if err := e.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logx.WithContext(ctx).Errorf("manager: iteration %d failed: %v", e.session.Iteration, err)
			if perr := e.persist(ctx); perr != nil {
				logx.WithContext(ctx).Errorf("manager: %v", perr)
			}
			wait = e.cfg.RetryBackoff
		}
		if e.applyCommands(ctx) {
			if err := e.persist(ctx); err != nil {
				logx.WithContext(ctx).Errorf("manager: %v", err)
			}
		}
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunOnce executes a single iteration. A panic inside the iteration is
// recovered and returned as an error.
func (e *Engine) RunOnce(ctx context.Context) (err error) {
	if e.session == nil {
		if err := e.Restore(ctx); err != nil {
			return err
		}
	}
	start := e.now()
	e.session.Iteration++
	e.actions = nil
	rec := &journal.CycleRecord{
		CycleID:   uuid.NewString(),
		Iteration: e.session.Iteration,
		Timestamp: start.UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			logx.WithContext(ctx).Errorf("manager: iteration panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("manager: iteration panic: %v", r)
		}
		e.finish(ctx, rec, start, err)
	}()

	e.applyCommands(ctx)
	e.refreshMarket(ctx)

	equity := e.session.Equity(e.prices)
	verdict := e.deps.Risk.Evaluate(ctx, &e.session.Risk, equity, start)
	for _, ev := range verdict.Events {
		e.recordRiskEvent(ctx, ev, verdict.Reason)
	}
	rec.AllowEntries = verdict.AllowEntries
	rec.RiskReason = verdict.Reason

	e.monitor.Check(ctx, e.session.Positions(), e.cachedFetcher(), func(ctx context.Context, coin, reason string, price float64) {
		e.closePosition(ctx, coin, price, reason, "monitor")
	})

	round, err := e.deps.Decider.Decide(ctx, e.cycleData(start, verdict), e.cfg.Coins)
	if round != nil {
		rec.PromptDigest = round.PromptDigest
		rec.ResponseText = round.Excerpt(e.cfg.ResponseExcerpt)
		if round.Parsed != nil {
			rec.Recovered = round.Parsed.Recovered
			rec.MissingCoins = round.Parsed.Missing
		}
	}
	if err != nil {
		return err
	}
	e.execute(ctx, round.Decisions, verdict)
	return nil
}

func (e *Engine) finish(ctx context.Context, rec *journal.CycleRecord, start time.Time, runErr error) {
	rec.Prices = copyPrices(e.prices)
	rec.Balance = e.session.Balance
	rec.Equity = e.session.Equity(e.prices)
	rec.Actions = e.actions
	rec.Success = runErr == nil
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
		metricCycles.Inc("error")
	} else {
		metricCycles.Inc("ok")
		if err := e.persist(ctx); err != nil {
			logx.WithContext(ctx).Errorf("manager: %v", err)
		}
	}
	metricEquity.Set(rec.Balance, "balance")
	metricEquity.Set(rec.Equity, "equity")
	metricEquity.Set(e.session.TotalMargin(), "margin")
	metricOpenPositions.Set(float64(len(e.session.Positions())), e.backendName())

	if e.cfg.JournalEnabled && e.deps.Cycles != nil {
		if _, err := e.deps.Cycles.WriteCycle(rec); err != nil {
			logx.WithContext(ctx).Errorf("manager: %v", err)
		}
	}
	e.publishStatus(ctx)
	if took := e.now().Sub(start); took > e.cfg.Interval {
		logx.WithContext(ctx).Slowf("manager: iteration %d took %s, longer than the %s interval", rec.Iteration, took, e.cfg.Interval)
	}
	logx.WithContext(ctx).Infof("manager: iteration %d balance=%.2f equity=%.2f positions=%d",
		rec.Iteration, rec.Balance, rec.Equity, len(e.session.Positions()))
}

func (e *Engine) persist(ctx context.Context) error {
	return e.deps.Store.Save(ctx, e.session.Snapshot(e.now()))
}

// refreshMarket fetches one candle per coin of interest: the universe plus
// any open position outside it.
func (e *Engine) refreshMarket(ctx context.Context) {
	coins := append([]string(nil), e.cfg.Coins...)
	for _, coin := range e.session.Coins() {
		if !e.inUniverse(coin) {
			coins = append(coins, coin)
		}
	}
	candles := make(map[string]*market.Candle, len(coins))
	for _, coin := range coins {
		c, err := e.deps.Market.Latest(ctx, coin)
		if err != nil {
			logx.WithContext(ctx).Errorf("manager: %s market data: %v", coin, err)
			continue
		}
		if c == nil || c.Price <= 0 {
			continue
		}
		candles[coin] = c
		e.prices[coin] = c.Price
	}
	e.candles = candles
}

func (e *Engine) cachedFetcher() market.CandleFetcher {
	return market.FetcherFunc(func(_ context.Context, coin string) (*market.Candle, error) {
		return e.candles[coin], nil
	})
}

func (e *Engine) cycleData(now time.Time, verdict risk.Decision) prompt.CycleData {
	views := make([]prompt.CoinView, 0, len(e.cfg.Coins))
	for _, coin := range e.cfg.Coins {
		c, ok := e.candles[coin]
		if !ok {
			continue
		}
		v := prompt.CoinView{Coin: coin, Price: c.Price, High: c.High, Low: c.Low}
		if p, ok := e.session.Position(coin); ok {
			v.Position = &prompt.PositionView{
				Side:          p.Side,
				Quantity:      p.Quantity,
				EntryPrice:    p.EntryPrice,
				StopLoss:      p.StopLoss,
				ProfitTarget:  p.ProfitTarget,
				Leverage:      p.Leverage,
				UnrealizedPnL: p.GrossPnL(c.Price),
				Justification: p.LastJustification,
			}
		}
		views = append(views, v)
	}
	equity := e.session.Equity(e.prices)
	return prompt.CycleData{
		Now:            now.UTC(),
		Iteration:      e.session.Iteration,
		MinutesRunning: int64(now.Sub(e.startedAt) / time.Minute),
		Interval:       e.cfg.Interval.String(),
		AllowEntries:   verdict.AllowEntries,
		RiskReason:     verdict.Reason,
		Coins:          views,
		Balance:        e.session.Balance,
		Margin:         e.session.TotalMargin(),
		Equity:         equity,
		ReturnPct:      prompt.ReturnPct(equity, e.cfg.Capital(e.deps.Router.IsLive())),
	}
}

func (e *Engine) inUniverse(coin string) bool {
	for _, c := range e.cfg.Coins {
		if c == coin {
			return true
		}
	}
	return false
}

func (e *Engine) backendName() string {
	if live := e.deps.Router.Live(); live != "" {
		return live
	}
	return exchange.BackendPaper
}

func (e *Engine) action(coin, signal, outcome, detail string, extra map[string]any) {
	e.actions = append(e.actions, journal.CycleAction{Coin: coin, Signal: signal, Outcome: outcome, Detail: detail, Extra: extra})
}

// applyCommands drains the inbox and reports whether anything changed.
func (e *Engine) applyCommands(ctx context.Context) bool {
	cmds, err := e.deps.Inbox.Drain(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("manager: %v", err)
	}
	if len(cmds) == 0 {
		return false
	}
	changed := false
	for _, cmd := range cmds {
		out := e.applyCommand(ctx, cmd)
		logx.WithContext(ctx).Infof("manager: command %s -> %s %s", cmd.Kind, out.Outcome, out.Detail)
		e.outcomes = append(e.outcomes, out)
		if risk.Outcome(out.Outcome).Changed() || out.Outcome == tpslUpdated {
			changed = true
		}
	}
	e.publishStatus(ctx)
	return changed
}

const (
	tpslUpdated    = "TPSL_UPDATED"
	tpslFailed     = "TPSL_FAILED"
	statusReported = "STATUS"
)

func (e *Engine) applyCommand(ctx context.Context, cmd Command) CommandOutcome {
	now := e.now()
	switch cmd.Kind {
	case CmdStatus:
		return CommandOutcome{Kind: cmd.Kind, Outcome: statusReported}
	case CmdUpdateTPSL:
		return e.updateTPSL(ctx, cmd)
	}
	outcome, err := ApplyRisk(e.deps.Risk, e.session, cmd, e.session.Equity(e.prices), now)
	if err != nil {
		return CommandOutcome{Kind: cmd.Kind, Outcome: "INVALID", Detail: err.Error()}
	}
	if outcome.Changed() {
		detail := cmd.Reason
		if outcome == risk.OutcomeActivated && detail == "" {
			detail = e.session.Risk.KillSwitchReason
		}
		e.recordRiskEvent(ctx, outcome, detail)
	}
	return CommandOutcome{Kind: cmd.Kind, Outcome: string(outcome)}
}

// updateTPSL moves the protective levels of an open position. On a live
// venue the resting orders are replaced first; the local levels only change
// when the venue accepted the update.
func (e *Engine) updateTPSL(ctx context.Context, cmd Command) CommandOutcome {
	out := CommandOutcome{Kind: cmd.Kind}
	pos, ok := e.session.Position(cmd.Coin)
	if !ok {
		out.Outcome, out.Detail = tpslFailed, fmt.Sprintf("no open position for %s", cmd.Coin)
		return out
	}
	if cmd.StopLoss == nil && cmd.TakeProfit == nil {
		out.Outcome, out.Detail = tpslFailed, "no stop_loss or take_profit given"
		return out
	}
	if e.deps.Router.IsLive() {
		res, err := e.deps.Router.UpdateTPSL(ctx, exchange.TPSLRequest{
			Coin:       cmd.Coin,
			Side:       pos.Side,
			Size:       pos.Quantity,
			StopLoss:   cmd.StopLoss,
			TakeProfit: cmd.TakeProfit,
		})
		if err != nil {
			out.Outcome, out.Detail = tpslFailed, err.Error()
			return out
		}
		if !res.Success {
			out.Outcome, out.Detail = tpslFailed, exchange.ErrorSummary(res.Errors, res.Raw)
			return out
		}
		if res.SLOID != "" {
			pos.SLOID = res.SLOID
		}
		if res.TPOID != "" {
			pos.TPOID = res.TPOID
		}
	}
	if cmd.StopLoss != nil {
		pos.StopLoss = *cmd.StopLoss
	}
	if cmd.TakeProfit != nil {
		pos.ProfitTarget = *cmd.TakeProfit
	}
	out.Outcome = tpslUpdated
	out.Detail = fmt.Sprintf("%s sl=%g tp=%g", cmd.Coin, pos.StopLoss, pos.ProfitTarget)
	e.trade(ctx, journal.TradeRecord{
		Coin:         cmd.Coin,
		Action:       tpslUpdated,
		Side:         string(pos.Side),
		Quantity:     pos.Quantity,
		ProfitTarget: pos.ProfitTarget,
		StopLoss:     pos.StopLoss,
		Leverage:     pos.Leverage,
		Reason:       cmd.Reason,
	})
	return out
}

func (e *Engine) recordRiskEvent(ctx context.Context, ev risk.Outcome, reason string) {
	metricRiskEvents.Inc(string(ev))
	e.action(journal.SystemCoin, "risk", string(ev), reason, nil)
	e.trade(ctx, journal.TradeRecord{
		Coin:   journal.SystemCoin,
		Action: "RISK_" + string(ev),
		Reason: reason,
	})
}

func (e *Engine) trade(ctx context.Context, rec journal.TradeRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.now()
	}
	rec.BalanceAfter = e.session.Balance
	_ = e.deps.Recorder.RecordTrade(ctx, rec)
}

// CurrentStatus builds the operator snapshot from the live session.
func (e *Engine) CurrentStatus() Status {
	return Status{
		Iteration: e.session.Iteration,
		UpdatedAt: e.now().UTC(),
		Backend:   e.backendName(),
		Balance:   e.session.Balance,
		Equity:    e.session.Equity(e.prices),
		Positions: e.session.Coins(),
		Risk:      e.deps.Risk.Snapshot(e.session.Risk),
		Outcomes:  e.outcomes,
		Prices:    copyPrices(e.prices),
	}
}

func (e *Engine) publishStatus(ctx context.Context) {
	sink, ok := e.deps.Inbox.(StatusSink)
	if !ok {
		e.outcomes = nil
		return
	}
	if err := sink.PublishStatus(ctx, e.CurrentStatus()); err != nil {
		logx.WithContext(ctx).Errorf("manager: %v", err)
		return
	}
	e.outcomes = nil
}

func copyPrices(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedCoins(decisions map[string]executor.Decision) []string {
	coins := make([]string, 0, len(decisions))
	for c := range decisions {
		coins = append(coins, c)
	}
	sort.Strings(coins)
	return coins
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
