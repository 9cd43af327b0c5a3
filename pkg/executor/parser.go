package executor

import (
	"encoding/json"
	"strings"
)

// MissingDataJustification is attached to the hold default of a coin whose
// decision could not be recovered.
const MissingDataJustification = "Missing data from truncated AI response; defaulting to hold."

// ParseResult carries raw per-coin decisions recovered from model output.
type ParseResult struct {
	Decisions map[string]map[string]any
	// Missing lists coins defaulted to hold, in first-seen order.
	Missing []string
	// Recovered is true when the strict decode failed and per-coin recovery
	// was used instead.
	Recovered bool
	// DecodeError holds the strict decode failure, if any.
	DecodeError string
}

// ParseDecisions extracts per-coin decisions from text. It first decodes the
// span between the first '{' and the last '}'; when that fails each coin's
// object is located and decoded on its own. The bool is false when nothing
// could be recovered.
func ParseDecisions(text string, coins []string) (*ParseResult, bool) {
	text = stripCodeFence(sanitizeResponse(text))
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	span := text[start:]
	if end := strings.LastIndexByte(text, '}'); end > start {
		span = text[start : end+1]
	}

	var full map[string]map[string]any
	err := json.Unmarshal([]byte(span), &full)
	if err == nil {
		res := &ParseResult{Decisions: make(map[string]map[string]any, len(coins))}
		for _, coin := range uniqueCoins(coins) {
			if d, ok := full[coin]; ok && d != nil {
				res.Decisions[coin] = d
				continue
			}
			res.Missing = append(res.Missing, coin)
			res.Decisions[coin] = holdDefault()
		}
		return res, true
	}

	res := recoverPartial(span, coins)
	if res == nil {
		return nil, false
	}
	res.DecodeError = err.Error()
	return res, true
}

func recoverPartial(text string, coins []string) *ParseResult {
	recovered := make(map[string]map[string]any, len(coins))
	var missing []string
	for _, coin := range uniqueCoins(coins) {
		block, ok := findCoinObject(text, coin)
		if !ok {
			missing = append(missing, coin)
			continue
		}
		var d map[string]any
		if err := json.Unmarshal([]byte(block), &d); err != nil || d == nil {
			missing = append(missing, coin)
			continue
		}
		recovered[coin] = d
	}
	if len(recovered) == 0 {
		return nil
	}
	for _, coin := range missing {
		recovered[coin] = holdDefault()
	}
	return &ParseResult{Decisions: recovered, Missing: missing, Recovered: true}
}

type scanState int

const (
	scanNormal scanState = iota
	scanInString
	scanEscaped
)

// findCoinObject returns the balanced object following the first "COIN" key.
func findCoinObject(text, coin string) (string, bool) {
	marker := strings.Index(text, `"`+coin+`"`)
	if marker < 0 {
		return "", false
	}
	open := strings.IndexByte(text[marker:], '{')
	if open < 0 {
		return "", false
	}
	open += marker

	depth := 0
	state := scanNormal
	for i := open; i < len(text); i++ {
		c := text[i]
		switch state {
		case scanEscaped:
			state = scanInString
		case scanInString:
			switch c {
			case '\\':
				state = scanEscaped
			case '"':
				state = scanNormal
			}
		case scanNormal:
			switch c {
			case '"':
				state = scanInString
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[open : i+1], true
				}
			}
		}
	}
	return "", false
}

func holdDefault() map[string]any {
	return map[string]any{
		"signal":        "hold",
		"confidence":    0.0,
		"justification": MissingDataJustification,
	}
}

func uniqueCoins(coins []string) []string {
	seen := make(map[string]struct{}, len(coins))
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func sanitizeResponse(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimPrefix(s, "\uFEFF")
}

// stripCodeFence removes a surrounding ```json fence if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
