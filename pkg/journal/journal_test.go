package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cycles")
	w, err := NewCycleWriter(dir)
	require.NoError(t, err)
	w.nowFn = func() time.Time { return time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC) }

	path, err := w.WriteCycle(&CycleRecord{
		CycleID:      "abc",
		Iteration:    7,
		MissingCoins: []string{"SOL"},
		Actions:      []CycleAction{{Coin: "BTC", Signal: "entry", Outcome: "opened"}},
		Success:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cycle_20240501_091500_000007.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "abc", got["cycle_id"])
	assert.Equal(t, []any{"SOL"}, got["missing_coins"])
	assert.Equal(t, true, got["success"])

	_, err = w.WriteCycle(nil)
	assert.Error(t, err)
}
