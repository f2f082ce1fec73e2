package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJira struct {
	mu          sync.Mutex
	created     []map[string]any
	attachments map[string][]string
	failCreate  bool
}

func newFakeJira(t *testing.T) (*fakeJira, *httptest.Server) {
	t.Helper()
	f := &fakeJira{attachments: map[string][]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer pat" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/api/2/issue":
			if f.failCreate {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"errorMessages":["project is required"]}`)
				return
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.created = append(f.created, body)
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"id":"10001","key":"HD-1","self":"x"}`)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/attachments"):
			key := strings.Split(r.URL.Path, "/")[5]
			if r.Header.Get("X-Atlassian-Token") != "nocheck" {
				t.Errorf("missing XSRF header")
			}
			_, fh, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.attachments[key] = append(f.attachments[key], fh.Filename)
			io.WriteString(w, `[]`)

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestCreateIssue(t *testing.T) {
	f, srv := newFakeJira(t)
	c, err := New(srv.URL, "pat", nil, nil)
	require.NoError(t, err)

	key, err := c.CreateIssue(context.Background(), IssueRequest{
		Project:     "HD",
		Summary:     "Printer jam",
		Description: "Tray 2",
		Type:        "Bug",
		Priority:    "High",
		Labels:      []string{"user_id:42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "HD-1", key)

	require.Len(t, f.created, 1)
	fields := f.created[0]["fields"].(map[string]any)
	assert.Equal(t, "Printer jam", fields["summary"])
	assert.Equal(t, "HD", fields["project"].(map[string]any)["key"])
	assert.Equal(t, "Bug", fields["issuetype"].(map[string]any)["name"])
	assert.Equal(t, "High", fields["priority"].(map[string]any)["name"])
	assert.Equal(t, []any{"user_id:42"}, fields["labels"])
}

func TestCreateIssueFailure(t *testing.T) {
	f, srv := newFakeJira(t)
	f.failCreate = true
	c, err := New(srv.URL, "pat", nil, nil)
	require.NoError(t, err)

	_, err = c.CreateIssue(context.Background(), IssueRequest{Project: "HD", Summary: "x", Type: "Task"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestUploadAttachment(t *testing.T) {
	f, srv := newFakeJira(t)
	c, err := New(srv.URL, "pat", nil, nil)
	require.NoError(t, err)

	err = c.UploadAttachment(context.Background(), "HD-7", strings.NewReader("jpeg"), "photo_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"photo_1.jpg"}, f.attachments["HD-7"])
}

func TestBrowseURL(t *testing.T) {
	c, err := New("https://jira.example.com/", "pat", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://jira.example.com/browse/HD-3", c.BrowseURL("HD-3"))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("", "pat", nil, nil)
	assert.Error(t, err)
}
