package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/internal/config"
	"perpexec/pkg/confkit"
	"perpexec/pkg/router"
)

// ConfigSummaryLines returns human readable lines describing the loaded app
// config. Secrets are reported only as present or absent.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	env := cfg.Env
	if cfg.EnvDefaulted() {
		env += " (Env unset; venues use testnet)"
	}
	lines := []string{
		fmt.Sprintf("Environment: %s", env),
		fmt.Sprintf("Trading backend: %s (live=%s)", cfg.Trading.Backend, liveLabel(router.Select(cfg.Trading))),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(cfg.HasRedis())),
		fmt.Sprintf("Command scope: %s", cfg.Commands.Scope),
		fmt.Sprintf("Webhook notifier: %s", presence(cfg.Notify.WebhookURL != "")),
		sectionLine("LLM config", cfg.LLM),
		sectionLine("Executor config", cfg.Executor),
		sectionLine("Manager config", cfg.Manager),
		sectionLine("Exchange config", cfg.Exchange),
		sectionLine("Market config", cfg.Market),
		sectionLine("Risk config", cfg.Risk),
		sectionLine("Planner config", cfg.Planner),
	}
	if llm := cfg.LLM.Value; llm != nil {
		lines = append(lines,
			fmt.Sprintf("LLM: model=%s base_url=%s api_key=%s", llm.Model, llm.BaseURL, presence(llm.APIKey != "")))
	}
	if mgr := cfg.Manager.Value; mgr != nil {
		lines = append(lines, fmt.Sprintf("Universe: %s every %s", strings.Join(mgr.Coins, ","), mgr.Interval))
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func liveLabel(live string) string {
	if live == "" {
		return "off"
	}
	return live
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
