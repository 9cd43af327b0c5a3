package risk

import "time"

// DateLayout is the UTC day key of the daily baseline.
const DateLayout = "2006-01-02"

// State is the persisted kill-switch and daily loss record.
type State struct {
	KillSwitchActive      bool       `json:"kill_switch_active"`
	KillSwitchReason      string     `json:"kill_switch_reason,omitempty"`
	KillSwitchTriggeredAt *time.Time `json:"kill_switch_triggered_at,omitempty"`
	DailyBaselineEquity   float64    `json:"daily_baseline_equity"`
	DailyBaselineDate     string     `json:"daily_baseline_date,omitempty"`
	DailyLossPct          float64    `json:"daily_loss_pct"`
	DailyLossTriggered    bool       `json:"daily_loss_triggered"`
	ResumePending         bool       `json:"resume_pending,omitempty"`
}

// Status is a read-only view for operators.
type Status struct {
	State
	Enabled               bool    `json:"enabled"`
	DailyLossLimitEnabled bool    `json:"daily_loss_limit_enabled"`
	DailyLossLimitPct     float64 `json:"daily_loss_limit_pct"`
	AllowEntries          bool    `json:"allow_entries"`
}

func (s *State) activate(reason string, now time.Time) {
	at := now.UTC()
	s.KillSwitchActive = true
	s.KillSwitchReason = reason
	s.KillSwitchTriggeredAt = &at
	s.ResumePending = false
}

func (s *State) deactivate() {
	s.KillSwitchActive = false
	s.KillSwitchReason = ""
	s.KillSwitchTriggeredAt = nil
	s.ResumePending = false
}
