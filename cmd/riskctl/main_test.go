package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexec/internal/config"
	"perpexec/internal/svc"
	"perpexec/pkg/confkit"
	managerpkg "perpexec/pkg/manager"
)

func offlineContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	mgr := managerpkg.DefaultConfig()
	mgr.StatePath = filepath.Join(t.TempDir(), "state.json")
	sc, err := svc.NewServiceContext(config.Config{Env: "dev", Manager: confkit.Section[managerpkg.Config]{Value: mgr}})
	require.NoError(t, err)
	return sc
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand([]string{"update-tpsl", "-coin", "BTC", "-sl", "91.5"})
	require.NoError(t, err)
	assert.Equal(t, managerpkg.CmdUpdateTPSL, cmd.Kind)
	require.NotNil(t, cmd.StopLoss)
	assert.Equal(t, 91.5, *cmd.StopLoss)
	assert.Nil(t, cmd.TakeProfit)

	cmd, err = parseCommand([]string{"kill", "-reason", "exchange outage"})
	require.NoError(t, err)
	assert.Equal(t, "exchange outage", cmd.Reason)

	_, err = parseCommand(nil)
	assert.Error(t, err)
	_, err = parseCommand([]string{"update-tpsl", "-coin", "BTC"})
	assert.Error(t, err)
	_, err = parseCommand([]string{"kill", "-sl", "abc"})
	assert.Error(t, err)
}

func TestOfflineKillResumeFlow(t *testing.T) {
	sc := offlineContext(t)
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, run(ctx, sc, []string{"kill", "-reason", "desk"}, &out))
	assert.Equal(t, "kill: KILL_SWITCH_ACTIVATED\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, sc, []string{"status"}, &out))
	var st managerpkg.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.True(t, st.Risk.KillSwitchActive)
	assert.Equal(t, "desk", st.Risk.KillSwitchReason)
	assert.False(t, st.Risk.AllowEntries)
	assert.Equal(t, managerpkg.DefaultPaperCapital, st.Balance)

	out.Reset()
	require.NoError(t, run(ctx, sc, []string{"confirm"}, &out))
	assert.Equal(t, "confirm: NO_PENDING_RESUME\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, sc, []string{"resume"}, &out))
	require.NoError(t, run(ctx, sc, []string{"confirm"}, &out))
	assert.Equal(t, "resume: RESUME_PENDING_CONFIRM\nconfirm: KILL_SWITCH_DEACTIVATED\n", out.String())

	snap, err := sc.Store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, snap.RiskControl.KillSwitchActive)
}

func TestOfflineUpdateTPSLNeedsTrader(t *testing.T) {
	sc := offlineContext(t)
	err := run(context.Background(), sc, []string{"update-tpsl", "-coin", "BTC", "-tp", "130"}, &bytes.Buffer{})
	assert.EqualError(t, err, "update-tpsl needs a running trader; configure Redis")
}
