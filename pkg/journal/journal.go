package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CycleAction records what the engine did for one coin in a cycle.
type CycleAction struct {
	Coin    string         `json:"coin"`
	Signal  string         `json:"signal"`
	Outcome string         `json:"outcome"`
	Detail  string         `json:"detail,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// CycleRecord captures one trading iteration for diagnostics.
type CycleRecord struct {
	CycleID      string             `json:"cycle_id"`
	Iteration    int64              `json:"iteration"`
	Timestamp    time.Time          `json:"timestamp"`
	PromptDigest string             `json:"prompt_digest,omitempty"`
	ResponseText string             `json:"response_excerpt,omitempty"`
	Recovered    bool               `json:"recovered,omitempty"`
	MissingCoins []string           `json:"missing_coins,omitempty"`
	Prices       map[string]float64 `json:"prices,omitempty"`
	Balance      float64            `json:"balance"`
	Equity       float64            `json:"equity"`
	AllowEntries bool               `json:"allow_entries"`
	RiskReason   string             `json:"risk_reason,omitempty"`
	Actions      []CycleAction      `json:"actions,omitempty"`
	Success      bool               `json:"success"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// CycleWriter persists cycle records as one JSON file each.
type CycleWriter struct {
	dir   string
	nowFn func() time.Time

	mu sync.Mutex
}

// NewCycleWriter writes into dir, creating it when needed.
func NewCycleWriter(dir string) (*CycleWriter, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: cycle dir: %w", err)
	}
	return &CycleWriter{dir: dir, nowFn: time.Now}, nil
}

// WriteCycle writes rec and returns the file path.
func (w *CycleWriter) WriteCycle(rec *CycleRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	name := fmt.Sprintf("cycle_%s_%06d.json", rec.Timestamp.UTC().Format("20060102_150405"), rec.Iteration)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("journal: encode cycle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("journal: write cycle: %w", err)
	}
	return path, nil
}
