package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	jira "github.com/andygrunwald/go-jira"

	"github.com/h1v3-io/helpdesk/internal/submission"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// ErrBadPayload is returned for webhook bodies the relay cannot act on.
var ErrBadPayload = errors.New("relay: bad payload")

// Payload is the subset of a Jira issue webhook the relay consumes.
type Payload struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key    string `json:"key"`
		Fields struct {
			Labels []string `json:"labels"`
		} `json:"fields"`
	} `json:"issue"`
	Comment   *jira.Comment          `json:"comment,omitempty"`
	Changelog *jira.ChangelogHistory `json:"changelog,omitempty"`
}

// Decode parses a webhook body.
func Decode(r io.Reader) (*Payload, error) {
	var p Payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	if p.Issue.Key == "" {
		return nil, fmt.Errorf("%w: missing issue key", ErrBadPayload)
	}
	return &p, nil
}

// LabelOwner returns the chat embedded in the first owner label, if any.
func (p *Payload) LabelOwner() (protocol.ChatID, bool) {
	for _, l := range p.Issue.Fields.Labels {
		rest, ok := strings.CutPrefix(l, submission.OwnerLabelPrefix)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		return protocol.ChatID(n), true
	}
	return 0, false
}

// StatusChange returns the first status transition in the changelog.
func (p *Payload) StatusChange() (jira.ChangelogItems, bool) {
	if p.Changelog == nil {
		return jira.ChangelogItems{}, false
	}
	for _, item := range p.Changelog.Items {
		if strings.EqualFold(item.Field, "status") {
			return item, true
		}
	}
	return jira.ChangelogItems{}, false
}
