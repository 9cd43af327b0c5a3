package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/llm"
	"perpexec/pkg/prompt"
)

// ErrNoDecisions is returned when nothing could be recovered from the model
// output.
var ErrNoDecisions = errors.New("executor: no decisions recovered from model output")

// Round is one prompt/response exchange and what was made of it.
type Round struct {
	SystemPrompt string
	UserPrompt   string
	PromptDigest string
	Response     *llm.ChatResponse
	Parsed       *ParseResult
	Decisions    map[string]Decision
	Duration     time.Duration
}

// Excerpt returns at most n runes of the model output.
func (r *Round) Excerpt(n int) string {
	if r == nil || r.Response == nil {
		return ""
	}
	s := r.Response.Content
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// Executor turns a cycle snapshot into validated per-coin decisions.
type Executor struct {
	cfg     *Config
	llm     llm.Chatter
	prompts *prompt.Builder
}

// NewExecutor wires the chat client and prompt builder.
func NewExecutor(cfg *Config, client llm.Chatter, prompts *prompt.Builder) (*Executor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if client == nil {
		return nil, errors.New("executor: llm client is required")
	}
	if prompts == nil {
		var err error
		if prompts, err = prompt.NewBuilder(cfg.SystemPromptPath, cfg.CyclePromptPath); err != nil {
			return nil, err
		}
	}
	return &Executor{cfg: cfg, llm: client, prompts: prompts}, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() *Config { return e.cfg }

// Decide renders the prompts, asks the model and recovers decisions for
// coins. The returned Round is non-nil whenever the prompt rendered, so
// callers can journal failed exchanges too.
func (e *Executor) Decide(ctx context.Context, data prompt.CycleData, coins []string) (*Round, error) {
	system, err := e.prompts.System()
	if err != nil {
		return nil, err
	}
	user, err := e.prompts.Cycle(data)
	if err != nil {
		return nil, err
	}
	round := &Round{
		SystemPrompt: system,
		UserPrompt:   user,
		PromptDigest: prompt.Digest(system + "\n" + user),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()
	start := time.Now()
	resp, err := e.llm.Chat(callCtx, &llm.ChatRequest{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	round.Duration = time.Since(start)
	if err != nil {
		return round, fmt.Errorf("executor: decision request: %w", err)
	}
	round.Response = resp

	log := logx.WithContext(ctx)
	if resp.Truncated() {
		log.Infof("executor: model output hit the token limit (%d completion tokens); attempting recovery", resp.Usage.CompletionTokens)
	}
	parsed, ok := ParseDecisions(resp.Content, coins)
	if !ok {
		log.Errorf("executor: unparseable model output: %s", round.Excerpt(300))
		return round, ErrNoDecisions
	}
	round.Parsed = parsed
	if parsed.Recovered {
		log.Infof("executor: recovered partial decisions; missing coins: %s", strings.Join(parsed.Missing, ", "))
	}
	round.Decisions = ValidateAll(parsed)
	log.Infof("executor: decisions %s", Summary(round.Decisions))
	return round, nil
}

// Summary formats decisions as "BTC: ENTRY long | ETH: HOLD" in coin order.
func Summary(decisions map[string]Decision) string {
	coins := make([]string, 0, len(decisions))
	for c := range decisions {
		coins = append(coins, c)
	}
	sort.Strings(coins)
	parts := make([]string, 0, len(coins))
	for _, c := range coins {
		switch d := decisions[c].(type) {
		case EntryDecision:
			parts = append(parts, fmt.Sprintf("%s: ENTRY %s sl=%v tp=%v", c, d.Side, d.StopLoss, d.ProfitTarget))
		case CloseDecision:
			parts = append(parts, c+": CLOSE")
		default:
			parts = append(parts, c+": HOLD")
		}
	}
	return strings.Join(parts, " | ")
}
