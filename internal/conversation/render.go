package conversation

import (
	"fmt"
	"strings"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/connector/telegram"
	"github.com/h1v3-io/helpdesk/internal/submission"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Button payloads.
const (
	ActionCreateTask     = "create_task"
	ActionCreateBug      = "create_bug"
	ActionMyTasks        = "my_tasks"
	ActionUnblockUser    = "unblock_user"
	ActionContinuePhotos = "continue_after_photos"
	actionSeverityPrefix = "sev_"
)

// User-facing texts.
const (
	msgMenu             = "Hi! Choose an action:"
	msgPassword         = "🔐 Enter the password to get access:"
	msgAccessGranted    = "✅ Access granted. Welcome!"
	msgWrongPassword    = "❌ Wrong password. Attempts left: %d"
	msgLockedOut        = "🚫 You entered a wrong password 5 times. Access is blocked."
	msgNoAccess         = "🚫 You do not have access to this bot."
	msgTitle            = "Enter a title:"
	msgTitleEmpty       = "The title cannot be empty. Please enter a title."
	msgDescription      = "Send a description."
	msgDescriptionEmpty = "The description cannot be empty. Please describe the problem."
	msgPhotos           = "Description saved. You can attach photos now. When you are done, press \"Continue\"."
	msgPhotoAdded       = "Photo added (%d). Attach more or press \"Continue\"."
	msgSeverity         = "Now choose the severity:"
	msgAuthor           = "Enter your full name and phone number (e.g. Jane Doe, +15551234567):"
	msgAuthorEmpty      = "Please enter your name and phone number."
	msgSubmitFailed     = "Could not create the ticket. Please start again from the menu."
	msgNoTasks          = "You have no tasks yet 📭"
	msgUnblockPrompt    = "Enter the username of the user to unblock, without the @:"
	msgUnblocked        = "User @%s has been unblocked."
	msgUnblockNotFound  = "User %s was not found among blocked users."
	msgForbidden        = "You are not allowed to do that."
	msgCancelled        = "Cancelled."
	msgInternalError    = "Something went wrong. Please try again later."
)

// CreatedAtLayout formats task creation times in the task list.
const CreatedAtLayout = "02 January 2006, 15:04"

var severityLabels = map[protocol.Severity]string{
	protocol.SeverityHigh:   "🔴 High",
	protocol.SeverityMedium: "🟠 Medium",
	protocol.SeverityLow:    "🟢 Low",
}

func plain(id protocol.ChatID, text string, buttons ...[]connector.Button) connector.OutboundMessage {
	return connector.OutboundMessage{ChatID: id, Text: text, Buttons: buttons}
}

func menuKeyboard(admin bool) [][]connector.Button {
	rows := [][]connector.Button{
		{{Label: "📝 Create task", Data: ActionCreateTask}, {Label: "🐞 Report bug", Data: ActionCreateBug}},
		{{Label: "📋 My tasks", Data: ActionMyTasks}},
	}
	if admin {
		rows = append(rows, []connector.Button{{Label: "🔓 Unblock user", Data: ActionUnblockUser}})
	}
	return rows
}

func continueKeyboard() []connector.Button {
	return []connector.Button{{Label: "✅ Continue", Data: ActionContinuePhotos}}
}

func severityKeyboard() []connector.Button {
	row := make([]connector.Button, 0, len(protocol.Severities))
	for _, s := range protocol.Severities {
		row = append(row, connector.Button{
			Label: severityLabels[s],
			Data:  actionSeverityPrefix + strings.ToLower(string(s)),
		})
	}
	return row
}

// parseSeverity decodes a severity button payload.
func parseSeverity(data string) (protocol.Severity, bool) {
	rest, ok := strings.CutPrefix(data, actionSeverityPrefix)
	if !ok {
		return "", false
	}
	for _, s := range protocol.Severities {
		if strings.EqualFold(rest, string(s)) {
			return s, true
		}
	}
	return "", false
}

func kindLabel(k protocol.IssueKind) string {
	if k == protocol.IssueBug {
		return "Bug"
	}
	return "Task"
}

// confirmation renders the MarkdownV2 success message. The photo count is
// the number of photos accepted into the session, not the number uploaded.
func confirmation(sess Session, res *submission.Result) string {
	esc := telegram.EscapeMarkdownV2
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s %s created\\!\n\n", kindLabel(sess.Kind), esc(res.Key))
	fmt.Fprintf(&b, "*Title:* %s\n", esc(sess.Title))
	fmt.Fprintf(&b, "*Description:* %s\n", esc(sess.Description))
	fmt.Fprintf(&b, "*Author:* %s\n", esc(sess.AuthorInfo))
	fmt.Fprintf(&b, "*Severity:* %s\n", esc(string(sess.Severity)))
	fmt.Fprintf(&b, "*Photos attached:* %d\n", len(sess.Photos))
	if res.URL != "" {
		fmt.Fprintf(&b, "*Link:* %s\n", esc(res.URL))
	}
	b.WriteString("\nAll your tickets are listed under \"My tasks\"\\.")
	return b.String()
}

// taskList renders tasks in the order given, in MarkdownV2.
func taskList(tasks []protocol.TaskRecord) string {
	esc := telegram.EscapeMarkdownV2
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "*%d\\. %s*\n", i+1, esc(t.Key))
		fmt.Fprintf(&b, "📌 _%s_\n", esc(t.Summary))
		fmt.Fprintf(&b, "📅 %s \\| 🏷️ *%s*\n",
			esc(t.CreatedAt.Local().Format(CreatedAtLayout)), esc(t.Status))
	}
	return b.String()
}
