package router

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
)

// Settings decide which backend, if any, receives live orders.
type Settings struct {
	Backend         string `json:",default=paper"`
	HyperliquidLive bool   `json:",optional"`
	BinanceLive     bool   `json:",optional"`
	BackpackLive    bool   `json:",optional"`
}

// EnvSettings are the environment switches layered over Settings.
type EnvSettings struct {
	Backend            string `envconfig:"TRADING_BACKEND"`
	LiveTradingEnabled *bool  `envconfig:"LIVE_TRADING_ENABLED"`
	HyperliquidLive    *bool  `envconfig:"HYPERLIQUID_LIVE_TRADING"`
	BinanceLive        *bool  `envconfig:"BINANCE_FUTURES_LIVE"`
	BackpackLive       *bool  `envconfig:"BACKPACK_FUTURES_LIVE"`
}

// ReadEnvSettings parses the routing variables.
func ReadEnvSettings() (EnvSettings, error) {
	var e EnvSettings
	if err := envconfig.Process("", &e); err != nil {
		return EnvSettings{}, fmt.Errorf("router config: env settings: %w", err)
	}
	return e, nil
}

// Apply layers env on top of s. When LIVE_TRADING_ENABLED is set it replaces
// every per-backend flag: only the selected backend can be live.
func (e EnvSettings) Apply(s Settings) Settings {
	if b := strings.TrimSpace(e.Backend); b != "" {
		s.Backend = b
	}
	s.Backend = normaliseBackend(s.Backend)
	if e.LiveTradingEnabled != nil {
		on := *e.LiveTradingEnabled
		s.HyperliquidLive = on && s.Backend == exchange.BackendHyperliquid
		s.BinanceLive = on && s.Backend == exchange.BackendBinance
		s.BackpackLive = on && s.Backend == exchange.BackendBackpack
		return s
	}
	if e.HyperliquidLive != nil {
		s.HyperliquidLive = *e.HyperliquidLive
	}
	if e.BinanceLive != nil {
		s.BinanceLive = *e.BinanceLive
	}
	if e.BackpackLive != nil {
		s.BackpackLive = *e.BackpackLive
	}
	return s
}

func normaliseBackend(raw string) string {
	b := exchange.CanonicalName(raw)
	switch b {
	case "":
		return exchange.BackendPaper
	case exchange.BackendPaper, exchange.BackendHyperliquid, exchange.BackendBinance, exchange.BackendBackpack:
		return b
	default:
		logx.Errorf("router: unsupported trading backend %q; using %s", raw, exchange.BackendPaper)
		return exchange.BackendPaper
	}
}

// Select returns the live backend name, or "" for paper trading.
func Select(s Settings) string {
	switch normaliseBackend(s.Backend) {
	case exchange.BackendBinance:
		if s.BinanceLive {
			return exchange.BackendBinance
		}
	case exchange.BackendBackpack:
		if s.BackpackLive {
			return exchange.BackendBackpack
		}
	case exchange.BackendHyperliquid:
		if s.HyperliquidLive {
			return exchange.BackendHyperliquid
		}
	}
	return ""
}
