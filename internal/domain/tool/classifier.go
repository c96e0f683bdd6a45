package tool

import (
	"strings"
)

// highPatterns contains patterns indicating destructive operations, system
// commands, or network writes.
var highPatterns = []string{
	"delete", "remove", "drop", "destroy", "execute", "exec",
	"shell", "command", "truncate", "push", "write", "send",
	"upload", "deploy", "install",
}

// mediumPatterns contains patterns indicating state-changing but
// non-destructive operations.
var mediumPatterns = []string{
	"create", "update", "modify", "commit", "post", "put",
	"generate", "export",
}

// ClassifyRisk infers a risk level from a tool name. Catalog entries that
// declare risk_level explicitly never pass through here; this is the
// fallback for entries that omit it.
//
// Classification is case-insensitive substring matching, so "undelete"
// matches "delete". Explicit catalog values address such edge cases.
func ClassifyRisk(name string) RiskLevel {
	lower := strings.ToLower(name)

	for _, pattern := range highPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelHigh
		}
	}
	for _, pattern := range mediumPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}
