package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Verify Connector implements connector.Connector at compile time.
var _ connector.Connector = (*Connector)(nil)

func TestToUpdateText(t *testing.T) {
	upd, ok := toUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 42, UserName: "chatname"},
		From: &tgbotapi.User{ID: 7, UserName: "alice"},
		Text: "hello",
	}})
	if !ok {
		t.Fatal("expected update")
	}
	if upd.Kind != connector.KindText || upd.Text != "hello" {
		t.Errorf("got kind=%s text=%q", upd.Kind, upd.Text)
	}
	if upd.ChatID != protocol.ChatID(42) {
		t.Errorf("chat id = %d", upd.ChatID)
	}
	if upd.Handle != "alice" {
		t.Errorf("handle = %q, want sender username", upd.Handle)
	}
}

func TestToUpdateHandleFallsBackToChat(t *testing.T) {
	upd, _ := toUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 42, UserName: "chatname"},
		From: &tgbotapi.User{ID: 7},
		Text: "hi",
	}})
	if upd.Handle != "chatname" {
		t.Errorf("handle = %q", upd.Handle)
	}
}

func TestToUpdateCommand(t *testing.T) {
	upd, ok := toUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "/start",
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: 6},
		},
	}})
	if !ok {
		t.Fatal("expected update")
	}
	if upd.Kind != connector.KindCommand || upd.Text != "start" {
		t.Errorf("got kind=%s text=%q", upd.Kind, upd.Text)
	}
}

func TestToUpdatePhotoPicksLargest(t *testing.T) {
	upd, ok := toUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "medium", Width: 320},
			{FileID: "large", Width: 1280},
		},
	}})
	if !ok {
		t.Fatal("expected update")
	}
	if upd.Kind != connector.KindPhoto {
		t.Fatalf("kind = %s", upd.Kind)
	}
	if upd.Photo == nil || upd.Photo.FileID != "large" {
		t.Errorf("photo = %+v", upd.Photo)
	}
}

func TestToUpdateCallback(t *testing.T) {
	upd, ok := toUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 9, UserName: "bob"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 9}},
		Data:    "create_task",
	}})
	if !ok {
		t.Fatal("expected update")
	}
	if upd.Kind != connector.KindButton || upd.Data != "create_task" || upd.Handle != "bob" {
		t.Errorf("got %+v", upd)
	}
}

func TestToUpdateIgnoresEmpty(t *testing.T) {
	if _, ok := toUpdate(tgbotapi.Update{}); ok {
		t.Error("empty update must be ignored")
	}
	if _, ok := toUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{Data: "x"}}); ok {
		t.Error("callback without message must be ignored")
	}
}

func TestKeyboard(t *testing.T) {
	if keyboard(nil) != nil {
		t.Error("expected nil keyboard for no buttons")
	}

	kb := keyboard([][]connector.Button{
		{{Label: "Task", Data: "create_task"}, {Label: "Bug", Data: "create_bug"}},
		{{Label: "My tasks", Data: "my_tasks"}},
	})
	if kb == nil || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("rows = %+v", kb)
	}
	if len(kb.InlineKeyboard[0]) != 2 {
		t.Errorf("first row = %d buttons", len(kb.InlineKeyboard[0]))
	}
	b := kb.InlineKeyboard[1][0]
	if b.Text != "My tasks" || b.CallbackData == nil || *b.CallbackData != "my_tasks" {
		t.Errorf("button = %+v", b)
	}
}
