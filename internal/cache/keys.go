package cache

import "strings"

// Namespace is the Redis key prefix for the perpexec application.
const Namespace = "perpexec"

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Operator Commands ------------------------------------------------------

// CommandQueueKey is the list riskctl pushes operator commands onto and the
// trader drains at each iteration boundary.
func CommandQueueKey(scope string) string {
	return formatKey("trader", scope, "commands")
}

// StatusKey holds the last status snapshot published by the trader.
func StatusKey(scope string) string {
	return formatKey("trader", scope, "status")
}
