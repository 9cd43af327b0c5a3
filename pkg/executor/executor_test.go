package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexec/pkg/llm"
	"perpexec/pkg/prompt"
)

type fakeChatter struct {
	content string
	finish  string
	err     error
	got     *llm.ChatRequest
	wait    time.Duration
}

func (f *fakeChatter) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.got = req
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{ID: "r1", Content: f.content, FinishReason: f.finish}, nil
}

func newTestExecutor(t *testing.T, chat llm.Chatter, mutate func(*Config)) *Executor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	e, err := NewExecutor(cfg, chat, nil)
	require.NoError(t, err)
	return e
}

var cycle = prompt.CycleData{
	Now:          time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	Iteration:    1,
	Interval:     "3m",
	AllowEntries: true,
	Coins:        []prompt.CoinView{{Coin: "BTC", Price: 100}, {Coin: "ETH", Price: 10}},
	Balance:      1000,
	Equity:       1000,
}

func TestDecideFullResponse(t *testing.T) {
	chat := &fakeChatter{content: "```json\n" + `{"BTC":{"signal":"entry","side":"long","stop_loss":90,"profit_target":120,"justification":"trend"},"ETH":{"signal":"close"}}` + "\n```"}
	e := newTestExecutor(t, chat, func(c *Config) { c.Model = "openai/gpt-4o" })

	round, err := e.Decide(context.Background(), cycle, []string{"BTC", "ETH"})
	require.NoError(t, err)
	require.Len(t, chat.got.Messages, 2)
	assert.Equal(t, llm.RoleSystem, chat.got.Messages[0].Role)
	assert.Contains(t, chat.got.Messages[1].Content, "BTC: price=100")
	assert.Equal(t, "openai/gpt-4o", chat.got.Model)
	assert.Len(t, round.PromptDigest, 64)

	entry, ok := round.Decisions["BTC"].(EntryDecision)
	require.True(t, ok)
	assert.Equal(t, "long", entry.Side)
	_, ok = round.Decisions["ETH"].(CloseDecision)
	assert.True(t, ok)
	assert.False(t, round.Parsed.Recovered)
	assert.Equal(t, "BTC: ENTRY long sl=90 tp=120 | ETH: CLOSE", Summary(round.Decisions))
}

func TestDecideTruncatedResponse(t *testing.T) {
	chat := &fakeChatter{finish: "length", content: `{"BTC":{"signal":"hold","justification":"range"},"ETH":{"signal":"entry","side":"sh`}
	e := newTestExecutor(t, chat, nil)

	round, err := e.Decide(context.Background(), cycle, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.True(t, round.Parsed.Recovered)
	assert.Equal(t, []string{"ETH"}, round.Parsed.Missing)
	hold, ok := round.Decisions["ETH"].(HoldDecision)
	require.True(t, ok)
	assert.Equal(t, MissingDataJustification, hold.Justification)
	assert.Zero(t, hold.Confidence)
}

func TestDecideFailures(t *testing.T) {
	e := newTestExecutor(t, &fakeChatter{content: "I cannot help with that."}, nil)
	round, err := e.Decide(context.Background(), cycle, []string{"BTC"})
	assert.ErrorIs(t, err, ErrNoDecisions)
	require.NotNil(t, round)
	assert.Equal(t, "I cannot", round.Excerpt(8)[:len("I cannot")])

	boom := errors.New("upstream down")
	e = newTestExecutor(t, &fakeChatter{err: boom}, nil)
	round, err = e.Decide(context.Background(), cycle, []string{"BTC"})
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, round)
	assert.Nil(t, round.Response)
	assert.Empty(t, round.Excerpt(10))
}

func TestDecideTimeout(t *testing.T) {
	chat := &fakeChatter{wait: time.Second, content: "{}"}
	e := newTestExecutor(t, chat, func(c *Config) { c.DecisionTimeout = 20 * time.Millisecond })
	_, err := e.Decide(context.Background(), cycle, []string{"BTC"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRoundExcerpt(t *testing.T) {
	r := &Round{Response: &llm.ChatResponse{Content: strings.Repeat("é", 10)}}
	assert.Equal(t, strings.Repeat("é", 4)+"…", r.Excerpt(4))
	assert.Equal(t, strings.Repeat("é", 10), r.Excerpt(0))
}

func TestNewExecutorRequiresClient(t *testing.T) {
	_, err := NewExecutor(nil, nil, nil)
	assert.Error(t, err)
}

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader("decision_timeout: 45s\nmodel: x\n"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.DecisionTimeout)
	assert.Equal(t, defaultExcerptChars, cfg.ExcerptChars)
	assert.Equal(t, "x", cfg.Model)

	_, err = LoadConfigFromReader(strings.NewReader("decision_timeout: -1s\n"))
	assert.Error(t, err)
	_, err = LoadConfigFromReader(strings.NewReader("decision_timeout: later\n"))
	assert.Error(t, err)
}
