// Package submission turns a completed ticket dialogue into a Jira issue,
// its attachments, and the local ownership record.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/h1v3-io/helpdesk/internal/events"
	"github.com/h1v3-io/helpdesk/internal/tracker"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// OwnerLabelPrefix prefixes the label that embeds the owning chat in the issue.
const OwnerLabelPrefix = "user_id:"

// OwnerLabel returns the label embedding id.
func OwnerLabel(id protocol.ChatID) string {
	return OwnerLabelPrefix + id.String()
}

// Tracker is the subset of the issue tracker the workflow drives.
// *tracker.Client implements it.
type Tracker interface {
	CreateIssue(ctx context.Context, req tracker.IssueRequest) (string, error)
	UploadAttachment(ctx context.Context, key string, r io.Reader, filename string) error
	BrowseURL(key string) string
}

// Downloader fetches an attached photo. name may be empty when the
// downloader does not know the file name.
type Downloader interface {
	Download(ctx context.Context, ref protocol.PhotoRef) (data []byte, name string, err error)
}

// TaskSaver persists the ownership record.
type TaskSaver interface {
	SaveTask(ctx context.Context, t *protocol.TaskRecord) error
}

// Draft is everything collected from the user.
type Draft struct {
	Owner       protocol.ChatID
	Kind        protocol.IssueKind
	Title       string
	Description string
	Photos      []protocol.PhotoRef
	Severity    protocol.Severity
	AuthorInfo  string
}

// Result describes a successful submission.
type Result struct {
	Key      string
	URL      string
	Uploaded int
	Record   protocol.TaskRecord
}

// Config names the Jira project and the issue types per kind.
type Config struct {
	Project  string
	TaskType string
	BugType  string
}

// Workflow runs submissions. It is safe for concurrent use when its
// collaborators are.
type Workflow struct {
	cfg        Config
	tracker    Tracker
	downloader Downloader
	store      TaskSaver
	publisher  events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Workflow. A nil publisher discards events.
func New(cfg Config, tr Tracker, dl Downloader, st TaskSaver, pub events.Publisher, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "Task"
	}
	if cfg.BugType == "" {
		cfg.BugType = "Bug"
	}
	return &Workflow{
		cfg:        cfg,
		tracker:    tr,
		downloader: dl,
		store:      st,
		publisher:  pub,
		logger:     logger,
		now:        time.Now,
	}
}

// ErrCreate wraps every failure of the issue creation step.
var ErrCreate = errors.New("submission: create issue failed")

// Submit creates the issue, uploads photos best-effort, and records the
// task. Only a creation or persistence failure is returned; photo failures
// are logged and skipped.
func (w *Workflow) Submit(ctx context.Context, d Draft) (*Result, error) {
	key, err := w.tracker.CreateIssue(ctx, tracker.IssueRequest{
		Project:     w.cfg.Project,
		Summary:     d.Title,
		Description: Body(d),
		Type:        w.typeName(d.Kind),
		Priority:    d.Severity.Priority(),
		Labels:      []string{OwnerLabel(d.Owner)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	uploaded := w.attach(ctx, key, d.Photos)

	rec := protocol.TaskRecord{
		Key:       key,
		Owner:     d.Owner,
		Summary:   d.Title,
		Status:    protocol.DisplayStatus(protocol.InitialStatus),
		CreatedAt: w.now().UTC(),
	}
	if err := w.store.SaveTask(ctx, &rec); err != nil {
		return nil, fmt.Errorf("submission: save %s: %w", key, err)
	}

	w.logger.Info("ticket submitted",
		"key", key,
		"chat_id", int64(d.Owner),
		"photos", len(d.Photos),
		"uploaded", uploaded,
	)

	env := events.NewEnvelope(events.TaskCreated, events.TaskCreatedData{
		Key:       key,
		Owner:     d.Owner,
		Summary:   d.Title,
		IssueKind: string(d.Kind),
		Severity:  string(d.Severity),
		Photos:    len(d.Photos),
		Uploaded:  uploaded,
	})
	if err := w.publisher.Publish(ctx, events.TaskCreated, env); err != nil {
		w.logger.Warn("publish task event failed", "key", key, "error", err)
	}

	return &Result{
		Key:      key,
		URL:      w.tracker.BrowseURL(key),
		Uploaded: uploaded,
		Record:   rec,
	}, nil
}

// attach downloads and uploads each photo independently, returning how many
// made it.
func (w *Workflow) attach(ctx context.Context, key string, photos []protocol.PhotoRef) int {
	uploaded := 0
	for i, p := range photos {
		data, name, err := w.downloader.Download(ctx, p)
		if err != nil {
			w.logger.Warn("photo download failed", "key", key, "file_id", p.FileID, "error", err)
			continue
		}
		if name == "" {
			name = fileName(p.URL, i)
		}
		if err := w.tracker.UploadAttachment(ctx, key, bytes.NewReader(data), name); err != nil {
			w.logger.Warn("photo upload failed", "key", key, "file", name, "error", err)
			continue
		}
		uploaded++
	}
	return uploaded
}

func (w *Workflow) typeName(k protocol.IssueKind) string {
	if k == protocol.IssueBug {
		return w.cfg.BugType
	}
	return w.cfg.TaskType
}

// Body renders the issue description in Jira wiki markup.
func Body(d Draft) string {
	var b strings.Builder
	b.WriteString(d.Description)
	b.WriteString("\n\n*Author:* ")
	b.WriteString(d.AuthorInfo)
	b.WriteString("\n*Severity:* ")
	b.WriteString(string(d.Severity))
	return b.String()
}

// fileName takes the last path segment of the download URL, or numbers the
// photo when there is none.
func fileName(raw string, i int) string {
	if u, err := url.Parse(raw); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return fmt.Sprintf("photo_%d.jpg", i+1)
}
