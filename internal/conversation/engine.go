// Package conversation drives the per-chat dialogue: password challenge,
// the main menu, multi-step ticket creation, and the admin unblock flow.
//
// The engine is not reentrant per chat. Callers must deliver updates for
// one chat sequentially (see internal/dispatch).
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/h1v3-io/helpdesk/internal/access"
	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/submission"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Gate is the access-control surface the engine consults.
type Gate interface {
	Admit(ctx context.Context, id protocol.ChatID) (access.Admission, error)
	Challenge(ctx context.Context, id protocol.ChatID, handle, submitted string) (access.Verdict, error)
	Unblock(ctx context.Context, actor protocol.ChatID, handle string) (access.UnblockResult, error)
	IsAdmin(id protocol.ChatID) bool
}

// Submitter runs the ticket submission workflow.
type Submitter interface {
	Submit(ctx context.Context, d submission.Draft) (*submission.Result, error)
}

// TaskLister reads a chat's tasks in creation order.
type TaskLister interface {
	TasksByOwner(ctx context.Context, owner protocol.ChatID) ([]protocol.TaskRecord, error)
}

// Engine is the conversation state machine.
type Engine struct {
	gate      Gate
	submitter Submitter
	tasks     TaskLister
	sender    connector.Sender
	sessions  *SessionStore
	logger    *slog.Logger
}

// New creates an Engine. A nil sessions store gets a fresh one.
func New(gate Gate, sub Submitter, tasks TaskLister, sender connector.Sender, sessions *SessionStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = NewSessionStore()
	}
	return &Engine{
		gate:      gate,
		submitter: sub,
		tasks:     tasks,
		sender:    sender,
		sessions:  sessions,
		logger:    logger,
	}
}

// Sessions exposes the session store, e.g. for the idle sweep.
func (e *Engine) Sessions() *SessionStore { return e.sessions }

// Handle processes one inbound update. A returned error means the update
// failed; the user has already been sent a generic notice.
func (e *Engine) Handle(ctx context.Context, upd connector.Update) error {
	if err := e.handle(ctx, upd); err != nil {
		if sendErr := e.send(ctx, plain(upd.ChatID, msgInternalError)); sendErr != nil {
			e.logger.Warn("error notice not delivered", "chat_id", int64(upd.ChatID), "error", sendErr)
		}
		return err
	}
	return nil
}

func (e *Engine) handle(ctx context.Context, upd connector.Update) error {
	adm, err := e.gate.Admit(ctx, upd.ChatID)
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}

	switch adm {
	case access.Excluded:
		e.logger.Debug("update from excluded chat dropped", "chat_id", int64(upd.ChatID))
		return nil
	case access.Blocked:
		e.sessions.Delete(upd.ChatID)
		return e.send(ctx, plain(upd.ChatID, msgNoAccess))
	case access.Unauthenticated:
		return e.authenticate(ctx, upd)
	}

	switch upd.Kind {
	case connector.KindCommand:
		return e.command(ctx, upd)
	case connector.KindButton:
		return e.button(ctx, upd)
	}

	sess, ok := e.sessions.Get(upd.ChatID)
	if !ok || sess.State == StateAwaitingPassword {
		// No dialogue in progress: behave as /start.
		e.sessions.Delete(upd.ChatID)
		return e.menu(ctx, upd.ChatID)
	}
	return e.step(ctx, upd, sess)
}

func (e *Engine) authenticate(ctx context.Context, upd connector.Update) error {
	id := upd.ChatID
	sess, ok := e.sessions.Get(id)
	if !ok || sess.State != StateAwaitingPassword || upd.Kind != connector.KindText {
		e.sessions.Put(id, Session{State: StateAwaitingPassword})
		return e.send(ctx, plain(id, msgPassword))
	}

	v, err := e.gate.Challenge(ctx, id, upd.Handle, upd.Text)
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}

	switch v.Outcome {
	case access.Accepted:
		e.sessions.Delete(id)
		if err := e.send(ctx, plain(id, msgAccessGranted)); err != nil {
			return err
		}
		return e.menu(ctx, id)
	case access.Rejected:
		e.sessions.Put(id, sess)
		return e.send(ctx, plain(id, fmt.Sprintf(msgWrongPassword, v.Remaining)))
	default:
		e.sessions.Delete(id)
		return e.send(ctx, plain(id, msgLockedOut))
	}
}

func (e *Engine) command(ctx context.Context, upd connector.Update) error {
	id := upd.ChatID
	switch upd.Text {
	case "start":
		e.sessions.Delete(id)
		return e.menu(ctx, id)
	case "cancel":
		e.sessions.Delete(id)
		if err := e.send(ctx, plain(id, msgCancelled)); err != nil {
			return err
		}
		return e.menu(ctx, id)
	}
	return e.reprompt(ctx, id)
}

func (e *Engine) button(ctx context.Context, upd connector.Update) error {
	id := upd.ChatID
	switch upd.Data {
	case ActionCreateTask, ActionCreateBug:
		kind := protocol.IssueTask
		if upd.Data == ActionCreateBug {
			kind = protocol.IssueBug
		}
		e.sessions.Put(id, Session{State: StateTitle, Kind: kind})
		e.logger.Debug("ticket dialogue started", "chat_id", int64(id), "kind", string(kind))
		return e.send(ctx, plain(id, msgTitle))

	case ActionMyTasks:
		return e.listTasks(ctx, id)

	case ActionUnblockUser:
		if !e.gate.IsAdmin(id) {
			return e.send(ctx, plain(id, msgForbidden))
		}
		e.sessions.Put(id, Session{State: StateUnblockHandle})
		return e.send(ctx, plain(id, msgUnblockPrompt))
	}

	sess, ok := e.sessions.Get(id)
	if !ok {
		return e.menu(ctx, id)
	}

	switch {
	case upd.Data == ActionContinuePhotos && sess.State == StatePhotos:
		sess.State = StateSeverity
		e.sessions.Put(id, sess)
		return e.send(ctx, plain(id, msgSeverity, severityKeyboard()))

	case sess.State == StateSeverity:
		sev, ok := parseSeverity(upd.Data)
		if !ok {
			return e.reprompt(ctx, id)
		}
		sess.Severity = sev
		sess.State = StateAuthorInfo
		e.sessions.Put(id, sess)
		return e.send(ctx, plain(id, msgAuthor))
	}
	return e.reprompt(ctx, id)
}

// step advances the dialogue with a text or photo message.
func (e *Engine) step(ctx context.Context, upd connector.Update, sess Session) error {
	id := upd.ChatID
	text := strings.TrimSpace(upd.Text)

	switch sess.State {
	case StateTitle:
		if upd.Kind != connector.KindText {
			return e.reprompt(ctx, id)
		}
		if text == "" {
			return e.send(ctx, plain(id, msgTitleEmpty))
		}
		sess.Title = text
		sess.State = StateDescription
		e.sessions.Put(id, sess)
		return e.send(ctx, plain(id, msgDescription))

	case StateDescription:
		if upd.Kind != connector.KindText {
			return e.reprompt(ctx, id)
		}
		if text == "" {
			return e.send(ctx, plain(id, msgDescriptionEmpty))
		}
		sess.Description = text
		sess.State = StatePhotos
		e.sessions.Put(id, sess)
		return e.send(ctx, plain(id, msgPhotos, continueKeyboard()))

	case StatePhotos:
		if upd.Kind != connector.KindPhoto || upd.Photo == nil {
			return e.reprompt(ctx, id)
		}
		sess.Photos = append(sess.Photos, *upd.Photo)
		e.sessions.Put(id, sess)
		return e.send(ctx, plain(id, fmt.Sprintf(msgPhotoAdded, len(sess.Photos)), continueKeyboard()))

	case StateAuthorInfo:
		if upd.Kind != connector.KindText {
			return e.reprompt(ctx, id)
		}
		if text == "" {
			return e.send(ctx, plain(id, msgAuthorEmpty))
		}
		sess.AuthorInfo = text
		return e.submit(ctx, id, sess)

	case StateUnblockHandle:
		if !e.gate.IsAdmin(id) {
			e.sessions.Delete(id)
			return e.menu(ctx, id)
		}
		if upd.Kind != connector.KindText {
			return e.reprompt(ctx, id)
		}
		e.sessions.Delete(id)
		return e.unblock(ctx, id, text)
	}

	return e.reprompt(ctx, id)
}

// submit runs the workflow synchronously. The session is cleared whatever
// the outcome; there is no retry from here.
func (e *Engine) submit(ctx context.Context, id protocol.ChatID, sess Session) error {
	e.sessions.Delete(id)

	res, err := e.submitter.Submit(ctx, submission.Draft{
		Owner:       id,
		Kind:        sess.Kind,
		Title:       sess.Title,
		Description: sess.Description,
		Photos:      sess.Photos,
		Severity:    sess.Severity,
		AuthorInfo:  sess.AuthorInfo,
	})
	if err != nil {
		e.logger.Error("ticket submission failed", "chat_id", int64(id), "error", err)
		if err := e.send(ctx, plain(id, msgSubmitFailed)); err != nil {
			return err
		}
		return e.menu(ctx, id)
	}

	msg := connector.OutboundMessage{
		ChatID: id,
		Text:   confirmation(sess, res),
		Format: connector.MarkdownV2,
	}
	if err := e.send(ctx, msg); err != nil {
		return err
	}
	return e.menu(ctx, id)
}

func (e *Engine) unblock(ctx context.Context, id protocol.ChatID, handle string) error {
	res, err := e.gate.Unblock(ctx, id, handle)
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	name := access.NormalizeHandle(handle)
	switch res {
	case access.Removed:
		err = e.send(ctx, plain(id, fmt.Sprintf(msgUnblocked, name)))
	case access.NotFound:
		err = e.send(ctx, plain(id, fmt.Sprintf(msgUnblockNotFound, name)))
	}
	if err != nil {
		return err
	}
	return e.menu(ctx, id)
}

func (e *Engine) listTasks(ctx context.Context, id protocol.ChatID) error {
	tasks, err := e.tasks.TasksByOwner(ctx, id)
	if err != nil {
		return fmt.Errorf("conversation: list tasks: %w", err)
	}
	kb := menuKeyboard(e.gate.IsAdmin(id))
	if len(tasks) == 0 {
		return e.send(ctx, plain(id, msgNoTasks, kb...))
	}
	return e.send(ctx, connector.OutboundMessage{
		ChatID:  id,
		Text:    taskList(tasks),
		Format:  connector.MarkdownV2,
		Buttons: kb,
	})
}

func (e *Engine) menu(ctx context.Context, id protocol.ChatID) error {
	return e.send(ctx, plain(id, msgMenu, menuKeyboard(e.gate.IsAdmin(id))...))
}

// reprompt repeats the current step's question without advancing.
func (e *Engine) reprompt(ctx context.Context, id protocol.ChatID) error {
	sess, ok := e.sessions.Get(id)
	if !ok {
		return e.menu(ctx, id)
	}
	switch sess.State {
	case StateTitle:
		return e.send(ctx, plain(id, msgTitle))
	case StateDescription:
		return e.send(ctx, plain(id, msgDescription))
	case StatePhotos:
		return e.send(ctx, plain(id, msgPhotos, continueKeyboard()))
	case StateSeverity:
		return e.send(ctx, plain(id, msgSeverity, severityKeyboard()))
	case StateAuthorInfo:
		return e.send(ctx, plain(id, msgAuthor))
	case StateUnblockHandle:
		return e.send(ctx, plain(id, msgUnblockPrompt))
	}
	e.sessions.Delete(id)
	return e.menu(ctx, id)
}

func (e *Engine) send(ctx context.Context, msg connector.OutboundMessage) error {
	if err := e.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	return nil
}
