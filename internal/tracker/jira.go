// Package tracker talks to the Jira REST API.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	jira "github.com/andygrunwald/go-jira"
)

// IssueRequest describes an issue to create.
type IssueRequest struct {
	Project     string
	Summary     string
	Description string
	Type        string // issue type name, e.g. "Task" or "Bug"
	Priority    string // priority name, e.g. "High"
	Labels      []string
}

// Client creates issues and uploads attachments.
type Client struct {
	jira    *jira.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a Jira client authenticated with a personal access token.
// A nil httpClient uses the default transport.
func New(baseURL, token string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		return nil, errors.New("tracker: base url is required")
	}

	tp := jira.BearerAuthTransport{Token: token}
	if httpClient != nil {
		tp.Transport = httpClient.Transport
	}

	jc, err := jira.NewClient(tp.Client(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: init client: %w", err)
	}

	return &Client{
		jira:    jc,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// CreateIssue creates the issue and returns its key. It is not retried:
// a repeated create would open a duplicate.
func (c *Client) CreateIssue(ctx context.Context, req IssueRequest) (string, error) {
	fields := &jira.IssueFields{
		Project:     jira.Project{Key: req.Project},
		Summary:     req.Summary,
		Description: req.Description,
		Type:        jira.IssueType{Name: req.Type},
		Labels:      req.Labels,
	}
	if req.Priority != "" {
		fields.Priority = &jira.Priority{Name: req.Priority}
	}

	issue, resp, err := c.jira.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return "", fmt.Errorf("tracker: create issue: %w", describe(resp, err))
	}
	if issue.Key == "" {
		return "", errors.New("tracker: create issue: response has no key")
	}

	c.logger.Info("jira issue created", "key", issue.Key, "type", req.Type)
	return issue.Key, nil
}

// UploadAttachment attaches r to the issue under filename.
func (c *Client) UploadAttachment(ctx context.Context, key string, r io.Reader, filename string) error {
	_, resp, err := c.jira.Issue.PostAttachmentWithContext(ctx, key, r, filename)
	if err != nil {
		return fmt.Errorf("tracker: upload %s to %s: %w", filename, key, describe(resp, err))
	}
	return nil
}

// BrowseURL returns the human-facing link for an issue.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// describe folds the HTTP status into err when Jira answered at all.
func describe(resp *jira.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return err
	}
	return fmt.Errorf("status %d: %w", resp.StatusCode, err)
}
