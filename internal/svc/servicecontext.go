package svc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"perpexec/internal/cache"
	"perpexec/internal/config"
	exchangepkg "perpexec/pkg/exchange"
	_ "perpexec/pkg/exchange/backpack"
	_ "perpexec/pkg/exchange/binance"
	_ "perpexec/pkg/exchange/hyperliquid"
	"perpexec/pkg/exchange/sim"
	executorpkg "perpexec/pkg/executor"
	"perpexec/pkg/journal"
	llmpkg "perpexec/pkg/llm"
	managerpkg "perpexec/pkg/manager"
	_ "perpexec/pkg/market/binance"
	_ "perpexec/pkg/market/hyperliquid"
	"perpexec/pkg/notify"
	plannerpkg "perpexec/pkg/planner"
	"perpexec/pkg/prompt"
	riskpkg "perpexec/pkg/risk"
	"perpexec/pkg/router"
)

// ServiceContext holds what both the trader and riskctl need: state, risk
// control, routing and the command inbox. BuildEngine adds the decision
// path on top.
type ServiceContext struct {
	Config config.Config

	ManagerConfig  *managerpkg.Config
	ExchangeConfig *exchangepkg.Config
	PlannerConfig  plannerpkg.Config
	Live           string

	Notifier notify.Notifier
	Risk     *riskpkg.Controller
	Router   *router.Router
	Store    *journal.FileStore
	Inbox    managerpkg.CommandInbox
	// Status is nil when no Redis is configured.
	Status managerpkg.StatusSource
	Redis  *redis.Redis
}

func NewServiceContext(c config.Config) (*ServiceContext, error) {
	svc := &ServiceContext{
		Config:         c,
		ManagerConfig:  c.Manager.Or(managerpkg.DefaultConfig()),
		ExchangeConfig: c.Exchange.Or(&exchangepkg.Config{}),
		PlannerConfig:  *c.Planner.Or(ptr(plannerpkg.DefaultConfig())),
		Notifier:       notify.New(c.Notify),
	}

	// Apply test environment defaults: use testnet endpoints for every venue
	if c.IsTestEnv() {
		for _, backend := range svc.ExchangeConfig.Backends {
			backend.Testnet = true
		}
	}

	overrides, err := riskpkg.ReadEnvOverrides()
	if err != nil {
		return nil, err
	}
	svc.Risk = riskpkg.NewController(*c.Risk.Or(ptr(riskpkg.DefaultConfig())), overrides, svc.Notifier)

	env, err := router.ReadEnvSettings()
	if err != nil {
		return nil, err
	}
	svc.Live = router.Select(env.Apply(c.Trading))
	svc.Router = router.FromConfig(svc.Live, svc.ExchangeConfig, router.WithNotifier(svc.Notifier))

	svc.Store = journal.NewFileStore(svc.ManagerConfig.StatePath)

	if c.HasRedis() {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		inbox := managerpkg.NewRedisInbox(rds,
			cache.CommandQueueKey(c.Commands.Scope), cache.StatusKey(c.Commands.Scope), svc.ManagerConfig.StatusTTL)
		svc.Redis, svc.Inbox, svc.Status = rds, inbox, inbox
	} else {
		svc.Inbox = managerpkg.NewChanInbox(0)
	}
	return svc, nil
}

// MinNotionalUSD is the live venue's smallest accepted entry, zero for paper.
func (s *ServiceContext) MinNotionalUSD() float64 {
	if s.Live == "" {
		return 0
	}
	if b := s.ExchangeConfig.Backend(s.Live); b != nil {
		return b.MinNotionalUSD
	}
	return 0
}

// BuildEngine wires the LLM round trip, market data and journals into a
// trading engine.
func (s *ServiceContext) BuildEngine(ctx context.Context) (*managerpkg.Engine, error) {
	c := s.Config
	if c.LLM.Value == nil {
		return nil, errors.New("svc: llm config is required")
	}
	if c.Market.Value == nil {
		return nil, errors.New("svc: market config is required")
	}

	client, err := llmpkg.NewClient(c.LLM.Value)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	execCfg := c.Executor.Or(executorpkg.DefaultConfig())
	prompts, err := prompt.NewBuilder(execCfg.SystemPromptPath, execCfg.CyclePromptPath)
	if err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}
	decider, err := executorpkg.NewExecutor(execCfg, client, prompts)
	if err != nil {
		return nil, err
	}

	fetcher, err := c.Market.Value.Build(s.ManagerConfig.MarketSource)
	if err != nil {
		return nil, fmt.Errorf("build market source: %w", err)
	}

	recorder := journal.Fanout{journal.NewCSVLog(s.ManagerConfig.TradeLogPath, s.ManagerConfig.DecisionLogPath)}
	if dsn := strings.TrimSpace(c.Postgres.DSN); dsn != "" {
		pg := journal.NewPostgres(dsn)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare postgres journal: %w", err)
		}
		recorder = append(recorder, pg)
	}

	var cycles *journal.CycleWriter
	if s.ManagerConfig.JournalEnabled {
		if cycles, err = journal.NewCycleWriter(s.ManagerConfig.JournalDir); err != nil {
			return nil, err
		}
	}

	logx.WithContext(ctx).Infof("svc: backend=%s model=%s market=%s",
		backendLabel(s.Live), client.Model(), sourceLabel(s.ManagerConfig.MarketSource))

	return managerpkg.NewEngine(s.ManagerConfig, managerpkg.Deps{
		Decider:        decider,
		Market:         fetcher,
		Router:         s.Router,
		Risk:           s.Risk,
		Store:          s.Store,
		Recorder:       recorder,
		Cycles:         cycles,
		Notifier:       s.Notifier,
		Inbox:          s.Inbox,
		Paper:          sim.New(),
		Planner:        s.PlannerConfig,
		MinNotionalUSD: s.MinNotionalUSD(),
	})
}

func backendLabel(live string) string {
	if live == "" {
		return exchangepkg.BackendPaper
	}
	return live
}

func sourceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

func ptr[T any](v T) *T { return &v }
