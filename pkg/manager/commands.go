package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"perpexec/pkg/risk"
	"perpexec/pkg/state"
)

// CommandKind names an operator action.
type CommandKind string

const (
	CmdKill          CommandKind = "kill"
	CmdResume        CommandKind = "resume"
	CmdConfirm       CommandKind = "confirm"
	CmdForceResume   CommandKind = "force-resume"
	CmdResetBaseline CommandKind = "reset-baseline"
	CmdStatus        CommandKind = "status"
	CmdUpdateTPSL    CommandKind = "update-tpsl"
)

// ErrInboxFull is returned by ChanInbox.Push when the buffer is full.
var ErrInboxFull = errors.New("manager: command inbox full")

// ParseCommandKind accepts the CLI spelling of a command.
func ParseCommandKind(raw string) (CommandKind, error) {
	k := CommandKind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case CmdKill, CmdResume, CmdConfirm, CmdForceResume, CmdResetBaseline, CmdStatus, CmdUpdateTPSL:
		return k, nil
	}
	return "", fmt.Errorf("manager: unknown command %q", raw)
}

// Command is an operator request applied at an iteration boundary.
type Command struct {
	Kind       CommandKind `json:"kind"`
	Reason     string      `json:"reason,omitempty"`
	Coin       string      `json:"coin,omitempty"`
	StopLoss   *float64    `json:"stop_loss,omitempty"`
	TakeProfit *float64    `json:"take_profit,omitempty"`
	IssuedAt   time.Time   `json:"issued_at"`
}

// CommandInbox queues commands for the trading loop.
type CommandInbox interface {
	Push(ctx context.Context, cmd Command) error
	// Drain returns every queued command in arrival order.
	Drain(ctx context.Context) ([]Command, error)
}

// ChanInbox is an in-process inbox backed by a buffered channel.
type ChanInbox struct {
	ch chan Command
}

// NewChanInbox returns an inbox holding up to size commands.
func NewChanInbox(size int) *ChanInbox {
	if size <= 0 {
		size = 16
	}
	return &ChanInbox{ch: make(chan Command, size)}
}

// Push implements CommandInbox. It never blocks.
func (c *ChanInbox) Push(_ context.Context, cmd Command) error {
	select {
	case c.ch <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}

// Drain implements CommandInbox.
func (c *ChanInbox) Drain(context.Context) ([]Command, error) {
	var out []Command
	for {
		select {
		case cmd := <-c.ch:
			out = append(out, cmd)
		default:
			return out, nil
		}
	}
}

// Status is the operator view published after commands and iterations.
type Status struct {
	Iteration int64              `json:"iteration"`
	UpdatedAt time.Time          `json:"updated_at"`
	Backend   string             `json:"backend"`
	Balance   float64            `json:"balance"`
	Equity    float64            `json:"equity"`
	Positions []string           `json:"positions"`
	Risk      risk.Status        `json:"risk"`
	Outcomes  []CommandOutcome   `json:"outcomes,omitempty"`
	Prices    map[string]float64 `json:"prices,omitempty"`
}

// CommandOutcome reports what a command did.
type CommandOutcome struct {
	Kind    CommandKind `json:"kind"`
	Outcome string      `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
}

// StatusSink receives status snapshots. RedisInbox implements it.
type StatusSink interface {
	PublishStatus(ctx context.Context, st Status) error
}

// StatusSource reads back the last published snapshot.
type StatusSource interface {
	LastStatus(ctx context.Context) (*Status, error)
}

// ApplyRisk runs a risk command against the session. It is shared by the
// engine and offline edits of the state file. Status and update-tpsl are not
// risk commands and report an error.
func ApplyRisk(ctrl *risk.Controller, sess *state.Session, cmd Command, equity float64, now time.Time) (risk.Outcome, error) {
	st := &sess.Risk
	switch cmd.Kind {
	case CmdKill:
		return ctrl.Activate(st, cmd.Reason, now), nil
	case CmdResume:
		return ctrl.RequestResume(st), nil
	case CmdConfirm:
		return ctrl.ConfirmResume(st, false), nil
	case CmdForceResume:
		// A force resume needs no separate request.
		if st.KillSwitchActive && !st.ResumePending {
			ctrl.RequestResume(st)
		}
		return ctrl.ConfirmResume(st, true), nil
	case CmdResetBaseline:
		return ctrl.ResetBaseline(st, equity, now), nil
	}
	return "", fmt.Errorf("manager: %s is not a risk command", cmd.Kind)
}
