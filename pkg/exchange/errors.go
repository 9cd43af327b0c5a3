package exchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
)

var (
	// ErrUnknownBackend is returned by New for names missing from the registry.
	ErrUnknownBackend = errors.New("exchange: unknown backend")
	// ErrMissingCredentials is returned by builders when required keys are absent.
	ErrMissingCredentials = errors.New("exchange: missing credentials")
)

// ErrorList accumulates labelled venue errors, dropping duplicates while
// keeping first-seen order.
type ErrorList struct {
	items []string
	seen  map[string]struct{}
}

// Add appends msg unless it is blank or already present.
func (l *ErrorList) Add(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, ok := l.seen[msg]; ok {
		return
	}
	l.seen[msg] = struct{}{}
	l.items = append(l.items, msg)
}

// Addf formats and appends a message.
func (l *ErrorList) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...))
}

// Labelled appends "label: msg".
func (l *ErrorList) Labelled(label, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	l.Add(label + ": " + msg)
}

// Len reports how many distinct errors were collected.
func (l *ErrorList) Len() int { return len(l.items) }

// Items returns a copy of the collected errors, nil when empty.
func (l *ErrorList) Items() []string {
	if len(l.items) == 0 {
		return nil
	}
	out := make([]string, len(l.items))
	copy(out, l.items)
	return out
}

// Dedupe removes blank and repeated entries while keeping order.
func Dedupe(in []string) []string {
	var l ErrorList
	for _, s := range in {
		l.Add(s)
	}
	return l.Items()
}

// RecoverEntry converts a panic inside an adapter into a failed entry result.
// Use as: defer exchange.RecoverEntry(name, &res).
func RecoverEntry(backend string, res *EntryResult) {
	if r := recover(); r != nil {
		logx.Errorf("exchange %s: recovered panic during entry: %v", backend, r)
		*res = EntryResult{Backend: backend, Errors: []string{fmt.Sprintf("entry: %v", r)}}
	}
}

// RecoverClose converts a panic inside an adapter into a failed close result.
func RecoverClose(backend string, res *CloseResult) {
	if r := recover(); r != nil {
		logx.Errorf("exchange %s: recovered panic during close: %v", backend, r)
		*res = CloseResult{Backend: backend, Errors: []string{fmt.Sprintf("close: %v", r)}}
	}
}

// RecoverTPSL converts a panic inside an adapter into a failed TP/SL result.
func RecoverTPSL(backend string, res *TPSLResult) {
	if r := recover(); r != nil {
		logx.Errorf("exchange %s: recovered panic during tpsl update: %v", backend, r)
		*res = TPSLResult{Backend: backend, Errors: []string{fmt.Sprintf("tpsl: %v", r)}}
	}
}
