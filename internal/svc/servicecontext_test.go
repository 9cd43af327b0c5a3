package svc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexec/internal/config"
	"perpexec/pkg/confkit"
	exchangepkg "perpexec/pkg/exchange"
	managerpkg "perpexec/pkg/manager"
	"perpexec/pkg/router"
)

func TestNewServiceContextPaper(t *testing.T) {
	mgr := managerpkg.DefaultConfig()
	mgr.StatePath = filepath.Join(t.TempDir(), "state.json")
	c := config.Config{Env: "dev", Manager: confkit.Section[managerpkg.Config]{Value: mgr}}

	svc, err := NewServiceContext(c)
	require.NoError(t, err)
	assert.Empty(t, svc.Live)
	assert.False(t, svc.Router.IsLive())
	assert.Zero(t, svc.MinNotionalUSD())
	assert.Equal(t, mgr.StatePath, svc.Store.Path())
	assert.IsType(t, &managerpkg.ChanInbox{}, svc.Inbox)
	assert.Nil(t, svc.Status)
	assert.True(t, svc.Risk.Config().Enabled)

	_, err = svc.BuildEngine(context.Background())
	assert.EqualError(t, err, "svc: llm config is required")
}

func TestNewServiceContextLiveTestnet(t *testing.T) {
	exCfg := &exchangepkg.Config{Backends: map[string]*exchangepkg.BackendConfig{
		exchangepkg.BackendBinance: {APIKey: "k", APISecret: "s", MinNotionalUSD: 5},
	}}
	c := config.Config{
		Env:      "test",
		Trading:  router.Settings{Backend: "binance", BinanceLive: true},
		Exchange: confkit.Section[exchangepkg.Config]{Value: exCfg},
	}

	svc, err := NewServiceContext(c)
	require.NoError(t, err)
	assert.Equal(t, exchangepkg.BackendBinance, svc.Live)
	assert.Equal(t, 5.0, svc.MinNotionalUSD())
	assert.True(t, exCfg.Backends[exchangepkg.BackendBinance].Testnet, "test env forces testnet")
	assert.Equal(t, "data/portfolio_state.json", svc.Store.Path())
}
