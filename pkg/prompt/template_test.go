package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexec/pkg/exchange"
)

func TestTemplateRenderFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("hello {{ .Name }} - {{ toUpper .Role }}"), 0o600))

	tpl, err := NewTemplate(path, template.FuncMap{"toUpper": strings.ToUpper})
	require.NoError(t, err)
	out, err := tpl.Render(map[string]any{"Name": "desk", "Role": "trader"})
	require.NoError(t, err)
	assert.Equal(t, "hello desk - TRADER", out)
}

func TestTemplateReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reload.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))
	tpl, err := NewTemplate(path, nil)
	require.NoError(t, err)
	d1 := tpl.Digest()
	assert.Equal(t, Digest("v1"), d1)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))
	require.NoError(t, tpl.Reload())
	out, err := tpl.Render(nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", out)
	assert.NotEqual(t, d1, tpl.Digest())
}

func TestTemplateErrors(t *testing.T) {
	_, err := NewTemplate("", nil)
	assert.Error(t, err)
	_, err = NewTemplate(filepath.Join(t.TempDir(), "missing.tmpl"), nil)
	assert.Error(t, err)
	_, err = Parse("bad", "{{ .Broken ", nil)
	assert.Error(t, err)

	tpl, err := Parse("strict", "{{ .Missing }}", nil)
	require.NoError(t, err)
	_, err = tpl.Render(map[string]any{})
	assert.Error(t, err, "missing keys are errors")
}

func TestBuilderDefaults(t *testing.T) {
	b, err := NewBuilder("", "")
	require.NoError(t, err)

	sys, err := b.System()
	require.NoError(t, err)
	assert.Contains(t, sys, "single JSON object keyed by coin")

	out, err := b.Cycle(CycleData{
		Now:            time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Iteration:      3,
		MinutesRunning: 9,
		Interval:       "3m",
		AllowEntries:   false,
		RiskReason:     "daily_loss_limit: -6.00% <= -5%",
		Coins: []CoinView{
			{Coin: "BTC", Price: 60000, High: 60100, Low: 59900},
			{Coin: "ETH", Price: 3000.5, High: 3010, Low: 2990, Position: &PositionView{
				Side: exchange.SideShort, Quantity: 0.5, EntryPrice: 3050, StopLoss: 3100, ProfitTarget: 2900, Leverage: 3, UnrealizedPnL: 24.75, Justification: "lower highs",
			}},
		},
		Balance:   900,
		Margin:    508.33,
		Equity:    1433.08,
		ReturnPct: ReturnPct(1433.08, 1000),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "invocation 3")
	assert.Contains(t, out, "2024-05-01T12:00:00Z")
	assert.Contains(t, out, "NEW ENTRIES ARE SUSPENDED (daily_loss_limit: -6.00% <= -5%)")
	assert.Contains(t, out, "BTC: price=60000 high=60100 low=59900")
	assert.Contains(t, out, "OPEN short qty=0.5 entry=3050")
	assert.Contains(t, out, "unrealized=$24.75")
	assert.Contains(t, out, "Total return: 43.31%")
}

func TestBuilderFromFiles(t *testing.T) {
	dir := t.TempDir()
	sysPath := filepath.Join(dir, "sys.tmpl")
	cyclePath := filepath.Join(dir, "cycle.tmpl")
	require.NoError(t, os.WriteFile(sysPath, []byte("custom rules"), 0o600))
	require.NoError(t, os.WriteFile(cyclePath, []byte("{{ len .Coins }} coins, equity {{ usd .Equity }}"), 0o600))

	b, err := NewBuilder(sysPath, cyclePath)
	require.NoError(t, err)
	sys, err := b.System()
	require.NoError(t, err)
	assert.Equal(t, "custom rules", sys)
	out, err := b.Cycle(CycleData{Coins: []CoinView{{Coin: "BTC"}}, Equity: 10})
	require.NoError(t, err)
	assert.Equal(t, "1 coins, equity $10.00", out)
}

func TestReturnPct(t *testing.T) {
	assert.Equal(t, 0.0, ReturnPct(100, 0))
	assert.Equal(t, -5.0, ReturnPct(950, 1000))
}
