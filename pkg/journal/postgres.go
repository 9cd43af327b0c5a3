package journal

import (
	"context"
	_ "embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertTradeSQL = `INSERT INTO trade_log
    (ts, coin, action, side, quantity, price, profit_target, stop_loss, leverage, confidence, pnl, balance_after, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	insertDecisionSQL = `INSERT INTO decision_log (ts, coin, signal, reasoning, confidence)
VALUES ($1, $2, $3, $4, $5)`
)

// Postgres mirrors the trade and decision logs into Postgres.
type Postgres struct {
	conn sqlx.SqlConn
}

// NewPostgres opens a pgx-backed connection for dsn.
func NewPostgres(dsn string) *Postgres {
	return NewPostgresWithConn(sqlx.NewSqlConn("pgx", dsn))
}

// NewPostgresWithConn wraps an existing connection.
func NewPostgresWithConn(conn sqlx.SqlConn) *Postgres {
	return &Postgres{conn: conn}
}

// EnsureSchema creates the log tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn.ExecCtx(ctx, schemaSQL); err != nil {
		return fmt.Errorf("journal: postgres schema: %w", err)
	}
	return nil
}

// RecordTrade implements Recorder.
func (p *Postgres) RecordTrade(ctx context.Context, r TradeRecord) error {
	_, err := p.conn.ExecCtx(ctx, insertTradeSQL,
		r.Timestamp.UTC(), r.Coin, r.Action, r.Side, r.Quantity, r.Price,
		r.ProfitTarget, r.StopLoss, r.Leverage, r.Confidence, r.PnL, r.BalanceAfter, r.Reason)
	if err != nil {
		return fmt.Errorf("journal: postgres insert trade: %w", err)
	}
	return nil
}

// RecordDecision implements Recorder.
func (p *Postgres) RecordDecision(ctx context.Context, r DecisionRecord) error {
	_, err := p.conn.ExecCtx(ctx, insertDecisionSQL,
		r.Timestamp.UTC(), r.Coin, r.Signal, r.Reasoning, r.Confidence)
	if err != nil {
		return fmt.Errorf("journal: postgres insert decision: %w", err)
	}
	return nil
}
