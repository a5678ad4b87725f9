package domain

import "strings"

// Severity ranks how urgently a suggestion needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
)

// Suggestion is a single prioritized advisory item derived from a snapshot.
// The ID is deterministic (sensor id + condition) so re-evaluating the same
// snapshot is idempotent; each evaluation's output supersedes the previous
// list wholesale.
type Suggestion struct {
	ID                 string   `json:"id"`
	Severity           Severity `json:"severity"`
	Title              string   `json:"title"`
	Message            string   `json:"message"`
	RecommendedActions []string `json:"recommendedActions"`
	Confidence         float64  `json:"confidence"`
}

// containsFold reports whether s contains substr, ignoring case.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
