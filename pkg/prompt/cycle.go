package prompt

import (
	"embed"
	"fmt"
	"math"
	"strconv"
	"text/template"
	"time"

	"perpexec/pkg/exchange"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// CycleData is rendered into the user prompt of each iteration.
type CycleData struct {
	Now            time.Time
	Iteration      int64
	MinutesRunning int64
	Interval       string
	AllowEntries   bool
	RiskReason     string
	Coins          []CoinView
	Balance        float64
	Margin         float64
	Equity         float64
	ReturnPct      float64
}

// CoinView is one coin's market line, with its open position if any.
type CoinView struct {
	Coin     string
	Price    float64
	High     float64
	Low      float64
	Position *PositionView
}

// PositionView is the prompt-facing summary of an open position.
type PositionView struct {
	Side          exchange.Side
	Quantity      float64
	EntryPrice    float64
	StopLoss      float64
	ProfitTarget  float64
	Leverage      float64
	UnrealizedPnL float64
	Justification string
}

// Funcs are the helpers available to cycle templates.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
		"usd": func(v float64) string { return fmt.Sprintf("$%.2f", v) },
		"pct": func(v float64) string { return fmt.Sprintf("%.2f%%", v) },
	}
}

// Builder renders the system and user prompts.
type Builder struct {
	system *Template
	cycle  *Template
}

// NewBuilder loads templates from the given paths; an empty path selects
// the embedded default.
func NewBuilder(systemPath, cyclePath string) (*Builder, error) {
	system, err := load(systemPath, "templates/system.tmpl")
	if err != nil {
		return nil, err
	}
	cycle, err := load(cyclePath, "templates/cycle.tmpl")
	if err != nil {
		return nil, err
	}
	return &Builder{system: system, cycle: cycle}, nil
}

func load(path, embedded string) (*Template, error) {
	if path != "" {
		return NewTemplate(path, Funcs())
	}
	data, err := templatesFS.ReadFile(embedded)
	if err != nil {
		return nil, fmt.Errorf("read embedded template %s: %w", embedded, err)
	}
	return Parse(embedded, string(data), Funcs())
}

// System renders the trading rules.
func (b *Builder) System() (string, error) { return b.system.Render(nil) }

// Cycle renders the per-iteration market prompt.
func (b *Builder) Cycle(data CycleData) (string, error) { return b.cycle.Render(data) }

// ReturnPct is the percentage change of equity against start.
func ReturnPct(equity, start float64) float64 {
	if start <= 0 {
		return 0
	}
	return math.Round((equity-start)/start*10000) / 100
}
