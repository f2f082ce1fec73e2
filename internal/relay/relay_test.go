package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/internal/events"
	"github.com/h1v3-io/helpdesk/internal/store"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []connector.OutboundMessage
}

func (s *recordingSender) Send(_ context.Context, msg connector.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func setup(t *testing.T) (*Relay, *store.SQLiteStore, *recordingSender, *recordingPublisher) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.SaveTask(context.Background(), &protocol.TaskRecord{
		Key:       "HD-1",
		Owner:     42,
		Summary:   "Printer jam",
		Status:    protocol.DisplayStatus("To Do"),
		CreatedAt: time.Now(),
	}))

	sender := &recordingSender{}
	pub := &recordingPublisher{}
	return New(st, sender, pub, nil), st, sender, pub
}

func decode(t *testing.T, body string) *Payload {
	t.Helper()
	p, err := Decode(strings.NewReader(body))
	require.NoError(t, err)
	return p
}

const statusEvent = `{
  "webhookEvent": "jira:issue_updated",
  "issue": {"key": "%s", "fields": {"labels": %s}},
  "changelog": {"id": "1", "items": [
    {"field": "assignee", "fromString": "a", "toString": "b"},
    {"field": "status", "fromString": "To Do", "toString": "In Progress"}
  ]}
}`

func statusPayload(t *testing.T, key, labels string) *Payload {
	t.Helper()
	return decode(t, fmt.Sprintf(statusEvent, key, labels))
}

func TestStatusChangeForKnownKey(t *testing.T) {
	r, st, sender, pub := setup(t)
	ctx := context.Background()

	out, err := r.Handle(ctx, statusPayload(t, "HD-1", `[]`))
	require.NoError(t, err)
	assert.Equal(t, Delivered, out)

	require.Len(t, sender.msgs, 1)
	assert.Equal(t, protocol.ChatID(42), sender.msgs[0].ChatID)
	assert.Equal(t, "Status of HD-1 changed: 📝 To Do → 🚧 In Progress", sender.msgs[0].Text)

	rec, err := st.TaskByKey(ctx, "HD-1")
	require.NoError(t, err)
	assert.Equal(t, "🚧 In Progress", rec.Status)

	require.Len(t, pub.envs, 1)
	assert.Equal(t, events.TaskStatusChanged, pub.envs[0].Meta.Type)
}

func TestUnknownKeyWithoutLabelIsDropped(t *testing.T) {
	r, st, sender, pub := setup(t)
	ctx := context.Background()

	out, err := r.Handle(ctx, statusPayload(t, "HD-99", `["team:ops"]`))
	require.NoError(t, err)
	assert.Equal(t, Dropped, out)
	assert.Empty(t, sender.msgs)
	assert.Empty(t, pub.envs)

	_, err = st.TaskByKey(ctx, "HD-99")
	assert.ErrorIs(t, err, store.ErrNotFound)
	tasks, _ := st.ListTasks(ctx, 0)
	require.Len(t, tasks, 1)
	assert.Equal(t, protocol.DisplayStatus("To Do"), tasks[0].Status, "other records untouched")
}

func TestUnknownKeyFallsBackToLabel(t *testing.T) {
	r, st, sender, _ := setup(t)

	out, err := r.Handle(context.Background(), statusPayload(t, "HD-7", `["team:ops","user_id:77"]`))
	require.NoError(t, err)
	assert.Equal(t, Delivered, out)
	require.Len(t, sender.msgs, 1)
	assert.Equal(t, protocol.ChatID(77), sender.msgs[0].ChatID)

	_, err = st.TaskByKey(context.Background(), "HD-7")
	assert.ErrorIs(t, err, store.ErrNotFound, "fallback never creates a record")
}

func TestLocalRecordBeatsLabel(t *testing.T) {
	r, _, sender, _ := setup(t)

	_, err := r.Handle(context.Background(), statusPayload(t, "HD-1", `["user_id:77"]`))
	require.NoError(t, err)
	require.Len(t, sender.msgs, 1)
	assert.Equal(t, protocol.ChatID(42), sender.msgs[0].ChatID)
}

func TestCommentEvent(t *testing.T) {
	r, st, sender, _ := setup(t)

	p := decode(t, `{
	  "webhookEvent": "comment_created",
	  "issue": {"key": "HD-1", "fields": {}},
	  "comment": {"id": "100", "body": "Replaced the roller."},
	  "changelog": {"items": [{"field": "status", "fromString": "To Do", "toString": "Done"}]}
	}`)
	out, err := r.Handle(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Delivered, out)
	require.Len(t, sender.msgs, 1)
	assert.Equal(t, "New comment on HD-1:\nReplaced the roller.", sender.msgs[0].Text)

	rec, _ := st.TaskByKey(context.Background(), "HD-1")
	assert.Equal(t, protocol.DisplayStatus("To Do"), rec.Status, "comment wins over changelog")
}

func TestNonStatusChangeIgnored(t *testing.T) {
	r, _, sender, _ := setup(t)

	p := decode(t, `{"issue": {"key": "HD-1"}, "changelog": {"items": [{"field": "priority", "fromString": "Low", "toString": "High"}]}}`)
	out, err := r.Handle(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)
	assert.Empty(t, sender.msgs)
}

func TestUnknownStatusLabel(t *testing.T) {
	r, st, sender, _ := setup(t)

	p := decode(t, `{"issue": {"key": "HD-1"}, "changelog": {"items": [{"field": "status", "fromString": "Triage", "toString": "Parked"}]}}`)
	_, err := r.Handle(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "Status of HD-1 changed: 📄 Unknown status → 📄 Unknown status", sender.msgs[0].Text)

	rec, _ := st.TaskByKey(context.Background(), "HD-1")
	assert.Equal(t, protocol.UnknownStatus, rec.Status)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode(strings.NewReader(`not json`))
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = Decode(strings.NewReader(`{"issue": {}}`))
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestLabelOwner(t *testing.T) {
	p := &Payload{}
	p.Issue.Fields.Labels = []string{"user_id:abc", "user_id:0", "user_id:5", "user_id:6"}
	id, ok := p.LabelOwner()
	assert.True(t, ok)
	assert.Equal(t, protocol.ChatID(5), id)

	p.Issue.Fields.Labels = nil
	_, ok = p.LabelOwner()
	assert.False(t, ok)
}
