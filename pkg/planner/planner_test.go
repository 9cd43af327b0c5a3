package planner

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"perpexec/pkg/exchange"
	"perpexec/pkg/executor"
	"perpexec/pkg/state"
)

func longDecision() executor.EntryDecision {
	return executor.EntryDecision{
		Coin:          "BTC",
		Side:          "long",
		StopLoss:      90.0,
		ProfitTarget:  110.0,
		RiskUSD:       20.0,
		Leverage:      2.0,
		Justification: "breakout above range",
	}
}

func input(d executor.EntryDecision) EntryInput {
	return EntryInput{Coin: "BTC", Decision: d, Price: 100, Balance: 1000, Config: DefaultConfig()}
}

func TestPlanEntryScenario(t *testing.T) {
	plan, rej := PlanEntry(input(longDecision()))
	require.Nil(t, rej)
	assert.Equal(t, exchange.SideLong, plan.Side)
	assert.InDelta(t, 2, plan.Quantity, 1e-9)
	assert.InDelta(t, 200, plan.Notional, 1e-9)
	assert.InDelta(t, 100, plan.Margin, 1e-9)
	assert.InDelta(t, 200*DefaultTakerFeeRate, plan.EntryFee, 1e-12)
	assert.InDelta(t, plan.Margin+plan.EntryFee, plan.TotalCost, 1e-12)
	assert.Equal(t, exchange.LiquidityTaker, plan.Liquidity)
	assert.InDelta(t, plan.RiskUSD, plan.Quantity*10, 1e-9)

	d := longDecision()
	d.Leverage = 1.0
	plan, rej = PlanEntry(input(d))
	require.Nil(t, rej)
	assert.InDelta(t, 200, plan.Margin, 1e-9)
	assert.InDelta(t, plan.Notional, plan.Margin*plan.Leverage, 1e-9)
}

func TestPlanEntryInsufficientBalance(t *testing.T) {
	d := longDecision()
	d.RiskUSD = 200.0
	_, rej := PlanEntry(input(d))
	require.NotNil(t, rej)
	assert.Equal(t, "insufficient balance", rej.Reason)

	d.RiskUSD = 199.0
	plan, rej := PlanEntry(input(d))
	require.Nil(t, rej)
	assert.LessOrEqual(t, plan.TotalCost, 1000.0)
}

func TestPlanEntryShortGeometry(t *testing.T) {
	d := longDecision()
	d.Side = "SHORT"
	d.StopLoss = 110.0
	d.ProfitTarget = 90.0
	plan, rej := PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, exchange.SideShort, plan.Side)
	assert.InDelta(t, 2, plan.Quantity, 1e-9)
}

func TestPlanEntryRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*executor.EntryDecision)
		want   string
	}{
		{name: "contradictory phrase", mutate: func(d *executor.EntryDecision) { d.Justification = "Setup is weak,   DO NOT   enter yet" }, want: "contradicts"},
		{name: "bad side", mutate: func(d *executor.EntryDecision) { d.Side = "flat" }, want: "invalid side"},
		{name: "missing stop", mutate: func(d *executor.EntryDecision) { d.StopLoss = nil }, want: "invalid stop loss"},
		{name: "text target", mutate: func(d *executor.EntryDecision) { d.ProfitTarget = "moon" }, want: "invalid stop loss"},
		{name: "negative stop", mutate: func(d *executor.EntryDecision) { d.StopLoss = -1.0 }, want: "non-positive"},
		{name: "long stop above price", mutate: func(d *executor.EntryDecision) { d.StopLoss = 101.0 }, want: "stop loss not below"},
		{name: "long target below price", mutate: func(d *executor.EntryDecision) { d.ProfitTarget = 99.0 }, want: "profit target not above"},
		{name: "short stop below price", mutate: func(d *executor.EntryDecision) { d.Side = "short" }, want: "stop loss not above"},
		{name: "short target above price", mutate: func(d *executor.EntryDecision) {
			d.Side = "short"
			d.StopLoss = 120.0
		}, want: "profit target not below"},
		{name: "tiny reward", mutate: func(d *executor.EntryDecision) {
			d.RiskUSD = 0.5
			d.ProfitTarget = 100.5
		}, want: "expected reward"},
		{name: "fee ratio", mutate: func(d *executor.EntryDecision) {
			d.FeeRate = 0.01
			d.ProfitTarget = 102.0
		}, want: "reward/fee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := longDecision()
			tt.mutate(&d)
			_, rej := PlanEntry(input(d))
			require.NotNil(t, rej)
			assert.Contains(t, rej.Reason, tt.want)
			assert.Equal(t, rej.Reason, rej.Error())
		})
	}
}

func TestPlanEntryDefaults(t *testing.T) {
	d := longDecision()
	d.Leverage = nil
	d.RiskUSD = nil
	plan, rej := PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, DefaultLeverage, plan.Leverage)
	assert.InDelta(t, 10, plan.RiskUSD, 1e-9, "1% of balance")

	d.Leverage = "ten"
	d.RiskUSD = -5.0
	plan, rej = PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, 1.0, plan.Leverage)
	assert.InDelta(t, 10, plan.RiskUSD, 1e-9)

	d.Leverage = 0.0
	d.RiskUSD = "15"
	plan, rej = PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, 1.0, plan.Leverage)
	assert.InDelta(t, 15, plan.RiskUSD, 1e-9)
}

func TestPlanEntryNonFiniteInputs(t *testing.T) {
	for _, raw := range []string{"NaN", "Inf", "-Inf"} {
		t.Run(raw, func(t *testing.T) {
			d := longDecision()
			d.StopLoss = raw
			_, rej := PlanEntry(input(d))
			require.NotNil(t, rej)
			assert.Equal(t, "invalid stop loss or profit target", rej.Reason)

			d = longDecision()
			d.ProfitTarget = raw
			_, rej = PlanEntry(input(d))
			require.NotNil(t, rej)
			assert.Equal(t, "invalid stop loss or profit target", rej.Reason)

			d = longDecision()
			d.Leverage = raw
			d.RiskUSD = raw
			d.FeeRate = raw
			plan, rej := PlanEntry(input(d))
			require.Nil(t, rej)
			assert.Equal(t, 1.0, plan.Leverage)
			assert.InDelta(t, 10, plan.RiskUSD, 1e-9)
			assert.Equal(t, DefaultTakerFeeRate, plan.FeeRate)
			assert.False(t, math.IsNaN(plan.TotalCost))
			assert.LessOrEqual(t, plan.TotalCost, 1000.0)
		})
	}

	in := input(longDecision())
	in.Price = math.NaN()
	_, rej := PlanEntry(in)
	require.NotNil(t, rej)
	assert.Equal(t, "current price must be positive", rej.Reason)
}

func TestPlanEntryFees(t *testing.T) {
	d := longDecision()
	d.Liquidity = "maker"
	plan, rej := PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, exchange.LiquidityMaker, plan.Liquidity)
	assert.Equal(t, 0.0, plan.EntryFee)

	d.FeeRate = "0.001"
	plan, rej = PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, 0.001, plan.FeeRate)

	d.FeeRate = "cheap"
	plan, rej = PlanEntry(input(d))
	require.Nil(t, rej)
	assert.Equal(t, 0.0, plan.FeeRate, "unparseable override falls back to the schedule")
}

func TestPlanEntryLiveCaps(t *testing.T) {
	in := input(longDecision())
	in.Decision.Leverage = 50.0
	in.Decision.RiskUSD = 100.0
	in.Live = true
	in.Config.LiveMaxLeverage = 5
	in.Config.LiveMaxRiskUSD = 40
	in.Config.LiveMaxMarginUSD = 50

	plan, rej := PlanEntry(in)
	require.Nil(t, rej)
	assert.Equal(t, 5.0, plan.Leverage)
	assert.InDelta(t, 50, plan.Margin, 1e-9)
	assert.InDelta(t, 250, plan.Notional, 1e-9)
	assert.InDelta(t, 2.5, plan.Quantity, 1e-9)
	assert.InDelta(t, 25, plan.RiskUSD, 1e-9)
	assert.InDelta(t, plan.Notional, plan.Margin*plan.Leverage, 1e-9)

	in.Live = false
	plan, rej = PlanEntry(in)
	require.Nil(t, rej)
	assert.Equal(t, 50.0, plan.Leverage, "caps only apply on live backends")
}

func TestPlanEntryMinNotional(t *testing.T) {
	in := input(longDecision())
	in.MinNotionalUSD = 500
	_, rej := PlanEntry(in)
	require.NotNil(t, rej)
	assert.Equal(t, "notional below venue minimum", rej.Reason)
	assert.Equal(t, 500.0, rej.Fields["min_notional_usd"])
}

func TestPlanClose(t *testing.T) {
	pos := &state.Position{Side: exchange.SideLong, Quantity: 1, EntryPrice: 100, FeesPaid: 1, FeeRate: 0.001, LastJustification: "trend intact"}
	plan := PlanClose(CloseInput{Position: pos, Price: 120, Config: DefaultConfig()})
	assert.InDelta(t, 20, plan.GrossPnL, 1e-9)
	assert.InDelta(t, 0.12, plan.ExitFee, 1e-9)
	assert.InDelta(t, 1.12, plan.TotalFees, 1e-9)
	assert.InDelta(t, 18.88, plan.NetPnL, 1e-9)
	assert.Equal(t, "trend intact", plan.Reason)

	plan = PlanClose(CloseInput{Position: pos, Price: 120, Justification: "  take\n profit ", Config: DefaultConfig()})
	assert.Equal(t, "take profit", plan.Reason)

	pos.LastJustification = ""
	pos.FeeRate = 0
	plan = PlanClose(CloseInput{Position: pos, Price: 80, Config: DefaultConfig()})
	assert.Equal(t, DefaultCloseReason, plan.Reason)
	assert.Equal(t, DefaultTakerFeeRate, plan.FeeRate)
	assert.InDelta(t, -20, plan.GrossPnL, 1e-9)

	short := &state.Position{Side: exchange.SideShort, Quantity: 2, EntryPrice: 100}
	assert.InDelta(t, 20, GrossPnL(short, 90), 1e-9)
}

func TestConfigYAMLKeepsDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.NewDecoder(strings.NewReader("live_max_leverage: 3\n")).Decode(&cfg))
	assert.Equal(t, 3.0, cfg.LiveMaxLeverage)
	assert.Equal(t, DefaultTakerFeeRate, cfg.TakerFeeRate)
	assert.Equal(t, DefaultLeverage, cfg.DefaultLeverage)
	require.NoError(t, cfg.Validate())

	cfg.TakerFeeRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader("default_leverage: 0\nlive_max_margin_usd: 50\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLeverage, cfg.DefaultLeverage)
	assert.Equal(t, 50.0, cfg.LiveMaxMarginUSD)
	assert.Equal(t, DefaultMinRewardFeeRatio, cfg.MinRewardFeeRatio)

	_, err = LoadConfigFromReader(strings.NewReader("maker_fee_rate: -0.1\n"))
	assert.EqualError(t, err, "planner config: maker_fee_rate must be within [0,1)")
}
