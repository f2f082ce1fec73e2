package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/helpdesk/internal/access"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

var _ access.Notifier = (*Slack)(nil)

func TestBlockedPostsMessage(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C123", "ts": "1700000000.000100"})
	}))
	defer srv.Close()

	s, err := NewSlack(Config{Token: "xoxb-test", Channel: "C123", APIURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	err = s.Blocked(context.Background(), protocol.BlockEntry{
		ChatID:    42,
		Handle:    "mallory",
		Reason:    access.BlockReason,
		CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NotNil(t, form)
	assert.Equal(t, []string{"C123"}, form["channel"])
	assert.Equal(t, []string{"xoxb-test"}, form["token"])
	assert.Contains(t, form["text"][0], "@mallory (42)")
	assert.True(t, strings.Contains(form["blocks"][0], "too many failed attempts"))
	assert.True(t, strings.Contains(form["blocks"][0], "2025-05-01T10:00:00Z"))
}

func TestBlockedSurfacesSlackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	s, err := NewSlack(Config{Token: "xoxb-test", Channel: "nope", APIURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	err = s.Blocked(context.Background(), protocol.BlockEntry{ChatID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestNewSlackValidates(t *testing.T) {
	_, err := NewSlack(Config{Channel: "C1"}, nil)
	assert.Error(t, err)
	_, err = NewSlack(Config{Token: "x"}, nil)
	assert.Error(t, err)
}
