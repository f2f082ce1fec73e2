package protocol

// UnknownStatus is shown for tracker statuses missing from the display map.
const UnknownStatus = "📄 Unknown status"

// InitialStatus is the raw tracker status assigned to freshly created issues.
const InitialStatus = "To Do"

var displayStatuses = map[string]string{
	"To Do":        "📝 To Do",
	"In Progress":  "🚧 In Progress",
	"In Review":    "🔍 In Review",
	"Done":         "✅ Done",
	"Blocked":      "⛔ Blocked",
	"Reopened":     "♻️ Reopened",
	"Closed":       "🔒 Closed",
	"Cancelled":    "❌ Cancelled",
	"Test":         "🧪 Testing",
	"Ready for QA": "📦 Ready for QA",
	"Deployed":     "🚀 Deployed",
}

// DisplayStatus translates a raw tracker status into the label shown to users
// and stored on TaskRecord.
func DisplayStatus(raw string) string {
	if s, ok := displayStatuses[raw]; ok {
		return s
	}
	return UnknownStatus
}
