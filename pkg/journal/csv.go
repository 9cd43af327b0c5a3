package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	tradeHeader = []string{
		"timestamp", "coin", "action", "side", "quantity", "price",
		"profit_target", "stop_loss", "leverage", "confidence", "pnl",
		"balance_after", "reason",
	}
	decisionHeader = []string{"timestamp", "coin", "signal", "reasoning", "confidence"}
)

// CSVLog appends trade and decision rows to two CSV files. The header is
// written when a file is created.
type CSVLog struct {
	mu           sync.Mutex
	tradePath    string
	decisionPath string
}

// NewCSVLog returns a recorder for the given files.
func NewCSVLog(tradePath, decisionPath string) *CSVLog {
	return &CSVLog{tradePath: tradePath, decisionPath: decisionPath}
}

// RecordTrade implements Recorder.
func (l *CSVLog) RecordTrade(_ context.Context, r TradeRecord) error {
	return l.append(l.tradePath, tradeHeader, []string{
		formatTime(r.Timestamp),
		r.Coin,
		r.Action,
		r.Side,
		formatFloat(r.Quantity),
		formatFloat(r.Price),
		formatFloat(r.ProfitTarget),
		formatFloat(r.StopLoss),
		formatFloat(r.Leverage),
		formatFloat(r.Confidence),
		formatFloat(r.PnL),
		formatFloat(r.BalanceAfter),
		r.Reason,
	})
}

// RecordDecision implements Recorder.
func (l *CSVLog) RecordDecision(_ context.Context, r DecisionRecord) error {
	return l.append(l.decisionPath, decisionHeader, []string{
		formatTime(r.Timestamp),
		r.Coin,
		r.Signal,
		r.Reasoning,
		formatFloat(r.Confidence),
	})
}

func (l *CSVLog) append(path string, header, row []string) error {
	if path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("journal: csv dir: %w", err)
	}
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("journal: write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("journal: write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
