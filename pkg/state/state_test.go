package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexec/pkg/exchange"
	"perpexec/pkg/risk"
)

func TestSessionOpenRemove(t *testing.T) {
	s := NewSession(1000)
	require.True(t, s.Open("btc", &Position{Side: exchange.SideLong, Quantity: 1, EntryPrice: 100, Margin: 10}))
	assert.False(t, s.Open("BTC", &Position{Quantity: 2}), "one position per coin")
	assert.False(t, s.Open("ETH", &Position{Quantity: 0}))

	p, ok := s.Position(" Btc ")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Quantity)

	require.True(t, s.Open("ETH", &Position{Side: exchange.SideShort, Quantity: 2, EntryPrice: 50, Margin: 20}))
	assert.Equal(t, []string{"BTC", "ETH"}, s.Coins())
	assert.Equal(t, 30.0, s.TotalMargin())

	removed, ok := s.Remove("BTC")
	require.True(t, ok)
	assert.Equal(t, 100.0, removed.EntryPrice)
	_, ok = s.Position("BTC")
	assert.False(t, ok)
	_, ok = s.Remove("BTC")
	assert.False(t, ok)
}

func TestGrossPnL(t *testing.T) {
	long := &Position{Side: exchange.SideLong, Quantity: 1, EntryPrice: 100}
	short := &Position{Side: exchange.SideShort, Quantity: 2, EntryPrice: 100}
	assert.Equal(t, 20.0, long.GrossPnL(120))
	assert.Equal(t, -40.0, short.GrossPnL(120))
	assert.Equal(t, 200.0, short.Notional())
}

func TestEquity(t *testing.T) {
	s := NewSession(900)
	s.Open("BTC", &Position{Side: exchange.SideLong, Quantity: 1, EntryPrice: 100, Margin: 50})
	s.Open("ETH", &Position{Side: exchange.SideShort, Quantity: 1, EntryPrice: 10, Margin: 5})
	assert.Equal(t, 900+55+10.0, s.Equity(map[string]float64{"BTC": 110}))
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession(500)
	s.Iteration = 7
	s.Risk = risk.State{KillSwitchActive: true, KillSwitchReason: "manual"}
	s.Open("SOL", &Position{Side: exchange.SideLong, Quantity: 3, EntryPrice: 20})

	snap := s.Snapshot(now)
	snap.Positions["SOL"].Quantity = 99
	p, _ := s.Position("SOL")
	assert.Equal(t, 3.0, p.Quantity, "snapshot copies positions")

	snap.Positions["DUST"] = &Position{Quantity: 0}
	snap.Positions["sol"] = snap.Positions["SOL"]
	delete(snap.Positions, "SOL")
	restored := FromSnapshot(snap)
	assert.Equal(t, int64(7), restored.Iteration)
	assert.Equal(t, "manual", restored.Risk.KillSwitchReason)
	assert.Equal(t, []string{"SOL"}, restored.Coins())
	assert.Equal(t, now, snap.UpdatedAt)
}
