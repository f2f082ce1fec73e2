package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/dispatch"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// newBotAPI fakes the Bot API endpoints the connector touches. getFile
// blocks until release is closed.
func newBotAPI(t *testing.T, release <-chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch path.Base(r.URL.Path) {
		case "getMe":
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Helpdesk","username":"helpdesk_bot"}}`))
		case "getFile":
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			w.Write([]byte(`{"ok":true,"result":{"file_id":"AgAD1","file_path":"photos/file_1.jpg"}}`))
		case "file_1.jpg":
			w.Write([]byte("fake jpeg data"))
		default:
			w.Write([]byte(`{"ok":true,"result":true}`))
		}
	}))
}

func TestSlowFileLookupDoesNotBlockOtherChats(t *testing.T) {
	release := make(chan struct{})
	api := newBotAPI(t, release)
	defer api.Close()

	handled := make(chan protocol.ChatID, 2)
	var conn *Connector
	disp := dispatch.New(func(ctx context.Context, upd connector.Update) error {
		if upd.Kind == connector.KindPhoto {
			if upd.Photo.URL != "" {
				t.Errorf("photo URL resolved on the poll loop: %q", upd.Photo.URL)
			}
			if _, name, err := conn.Downloader(api.Client()).Download(ctx, *upd.Photo); err != nil || name != "file_1.jpg" {
				t.Errorf("download: name=%q err=%v", name, err)
			}
		}
		handled <- upd.ChatID
		return nil
	}, nil)

	var err error
	conn, err = New(Config{
		Token:        "T0K",
		Endpoint:     api.URL + "/bot%s/%s",
		FileEndpoint: api.URL + "/file/bot%s/%s",
	}, disp.Dispatch, nil)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}

	ctx := context.Background()
	conn.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 1},
		Photo: []tgbotapi.PhotoSize{{FileID: "AgAD1", Width: 800, Height: 600}},
	}})
	start := time.Now()
	conn.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 2},
		Text: "hello",
	}})

	select {
	case id := <-handled:
		if id != 2 {
			t.Fatalf("first handled chat = %d, want 2", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("chat 2 still waiting after %s on chat 1's file lookup", time.Since(start))
	}

	close(release)
	select {
	case id := <-handled:
		if id != 1 {
			t.Fatalf("handled chat = %d, want 1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("photo update never completed")
	}
	disp.Wait()
}

func TestNewAppliesDefaults(t *testing.T) {
	release := make(chan struct{})
	close(release)
	api := newBotAPI(t, release)
	defer api.Close()

	conn, err := New(Config{Token: "T0K", Endpoint: api.URL + "/bot%s/%s"}, nil, nil)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	if conn.config.Timeout != 60*time.Second {
		t.Errorf("timeout = %s", conn.config.Timeout)
	}
	if conn.config.Timeout <= pollTimeout*time.Second {
		t.Error("request timeout must exceed the long-poll window")
	}
	if conn.config.FileEndpoint != tgbotapi.FileEndpoint {
		t.Errorf("file endpoint = %q", conn.config.FileEndpoint)
	}
	if conn.bot.Self.UserName != "helpdesk_bot" {
		t.Errorf("bot = %q", conn.bot.Self.UserName)
	}
}
