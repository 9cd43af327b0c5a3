package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/notify"
)

// Outcome codes returned by operator actions and recorded in the trade log.
type Outcome string

const (
	OutcomeActivated          Outcome = "KILL_SWITCH_ACTIVATED"
	OutcomeAlreadyActive      Outcome = "ALREADY_ACTIVE"
	OutcomeResumePending      Outcome = "RESUME_PENDING_CONFIRM"
	OutcomeNotActive          Outcome = "NOT_ACTIVE"
	OutcomeNoPendingResume    Outcome = "NO_PENDING_RESUME"
	OutcomeResumeBlocked      Outcome = "RESUME_BLOCKED_DAILY_LOSS"
	OutcomeDeactivated        Outcome = "KILL_SWITCH_DEACTIVATED"
	OutcomeBaselineReset      Outcome = "DAILY_BASELINE_RESET"
	OutcomeDailyLossTriggered Outcome = "DAILY_LOSS_LIMIT_TRIGGERED"
)

// ReasonEnvKillSwitch marks activations forced by KILL_SWITCH=true.
const ReasonEnvKillSwitch = "env:KILL_SWITCH"

// Changed reports whether the outcome mutated state.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeActivated, OutcomeResumePending, OutcomeDeactivated, OutcomeBaselineReset, OutcomeDailyLossTriggered:
		return true
	}
	return false
}

// Decision is the per-cycle verdict.
type Decision struct {
	AllowEntries bool
	Reason       string
	// Events lists the outcomes produced during this evaluation.
	Events []Outcome
}

// Controller evaluates the kill-switch and daily loss limit. It holds no
// state of its own; callers own the State.
type Controller struct {
	cfg       Config
	forceKill bool
	notifier  notify.Notifier
}

// NewController builds a controller. A nil notifier drops notifications.
func NewController(cfg Config, env EnvOverrides, n notify.Notifier) *Controller {
	env.Apply(&cfg)
	if n == nil {
		n = notify.Nop{}
	}
	return &Controller{cfg: cfg, forceKill: env.KillSwitchForced(), notifier: n}
}

// Config returns the effective configuration after overrides.
func (c *Controller) Config() Config { return c.cfg }

// Evaluate updates st for the current equity and decides whether new entries
// are allowed. It never blocks exits.
func (c *Controller) Evaluate(ctx context.Context, st *State, equity float64, now time.Time) Decision {
	if !c.cfg.Enabled {
		return Decision{AllowEntries: true, Reason: "risk control disabled"}
	}
	var events []Outcome
	if c.forceKill && !st.KillSwitchActive {
		st.activate(ReasonEnvKillSwitch, now)
		events = append(events, OutcomeActivated)
		logx.WithContext(ctx).Infof("risk: kill switch activated by environment")
	}

	today := now.UTC().Format(DateLayout)
	if st.DailyBaselineDate != today {
		logx.WithContext(ctx).Infof("risk: new daily baseline %s equity=%.2f (was %s)", today, equity, st.DailyBaselineDate)
		st.DailyBaselineDate = today
		st.DailyBaselineEquity = equity
		st.DailyLossPct = 0
	}
	if st.DailyBaselineEquity > 0 {
		st.DailyLossPct = (equity - st.DailyBaselineEquity) / st.DailyBaselineEquity * 100
	} else {
		st.DailyLossPct = 0
	}

	if c.cfg.DailyLossLimitEnabled && st.DailyLossPct <= -c.cfg.DailyLossLimitPct && !st.KillSwitchActive {
		reason := fmt.Sprintf("daily_loss_limit: %.2f%% <= -%g%%", st.DailyLossPct, c.cfg.DailyLossLimitPct)
		st.activate(reason, now)
		st.DailyLossTriggered = true
		events = append(events, OutcomeDailyLossTriggered)
		logx.WithContext(ctx).Errorf("risk: %s, entries suspended", reason)
		c.notifier.Notify(ctx, "Kill-switch activated: "+reason, map[string]any{
			"daily_loss_pct":        st.DailyLossPct,
			"daily_baseline_equity": st.DailyBaselineEquity,
			"equity":                equity,
		})
	}

	d := Decision{AllowEntries: !st.KillSwitchActive, Events: events}
	if st.KillSwitchActive {
		d.Reason = st.KillSwitchReason
	}
	return d
}

// Activate turns the kill-switch on.
func (c *Controller) Activate(st *State, reason string, now time.Time) Outcome {
	if st.KillSwitchActive {
		return OutcomeAlreadyActive
	}
	if reason == "" {
		reason = "manual"
	}
	st.activate(reason, now)
	return OutcomeActivated
}

// RequestResume is the first step of a two-step resume.
func (c *Controller) RequestResume(st *State) Outcome {
	if !st.KillSwitchActive {
		return OutcomeNotActive
	}
	st.ResumePending = true
	return OutcomeResumePending
}

// ConfirmResume completes a pending resume. Without force a triggered daily
// loss limit keeps the switch on.
func (c *Controller) ConfirmResume(st *State, force bool) Outcome {
	if !st.ResumePending {
		return OutcomeNoPendingResume
	}
	if st.DailyLossTriggered && !force {
		return OutcomeResumeBlocked
	}
	st.deactivate()
	if force {
		st.DailyLossTriggered = false
	}
	return OutcomeDeactivated
}

// ResetBaseline restarts daily loss tracking from equity. The kill-switch is
// left as is.
func (c *Controller) ResetBaseline(st *State, equity float64, now time.Time) Outcome {
	st.DailyLossTriggered = false
	st.DailyLossPct = 0
	st.DailyBaselineEquity = equity
	st.DailyBaselineDate = now.UTC().Format(DateLayout)
	return OutcomeBaselineReset
}

// Snapshot reports the current state without changing it.
func (c *Controller) Snapshot(st State) Status {
	return Status{
		State:                 st,
		Enabled:               c.cfg.Enabled,
		DailyLossLimitEnabled: c.cfg.DailyLossLimitEnabled,
		DailyLossLimitPct:     c.cfg.DailyLossLimitPct,
		AllowEntries:          !c.cfg.Enabled || !st.KillSwitchActive,
	}
}
