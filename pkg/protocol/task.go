package protocol

import "time"

// TaskRecord links a tracker issue to the chat that created it.
type TaskRecord struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Owner     ChatID    `json:"owner"`
	Summary   string    `json:"summary"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueKind is the category chosen from the menu.
type IssueKind string

const (
	IssueTask IssueKind = "task"
	IssueBug  IssueKind = "bug"
)

// Severity is one of the three fixed labels offered on the severity keyboard.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Severities lists the labels in keyboard order.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// Valid reports whether s is one of the fixed labels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Priority maps a severity to the tracker's priority name. Unknown values
// fall back to Medium.
func (s Severity) Priority() string {
	if s.Valid() {
		return string(s)
	}
	return string(SeverityMedium)
}
