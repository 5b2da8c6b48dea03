// Package gmail implements the mail-client capability on the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Header length caps applied before anything is persisted.
const (
	maxSubjectLen = 500
	maxSenderLen  = 255
)

// Client reads receipt messages from a Gmail mailbox.
type Client struct {
	client *gmail.Service
	query  string
	logger *slog.Logger

	mu       sync.Mutex
	labelIDs map[string]string
}

// Config holds configuration for the Gmail client.
type Config struct {
	// Query selects candidate messages, e.g.
	// "in:inbox has:attachment -label:receipt/processed".
	Query string
}

// New creates a Gmail client from an authenticated HTTP client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := gmail.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Client{
		client:   client,
		query:    cfg.Query,
		logger:   logger.With("component", "gmail_client"),
		labelIDs: make(map[string]string),
	}, nil
}

// ListNewMessages returns IDs of messages matching the configured query,
// newest first, up to max.
func (c *Client) ListNewMessages(ctx context.Context, max int64) ([]string, error) {
	call := c.client.Users.Messages.List("me").Q(c.query).Context(ctx)
	if max > 0 {
		call = call.MaxResults(max)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	c.logger.Debug("listed candidate messages", "count", len(ids))
	return ids, nil
}

// GetMessage fetches a message and normalizes its headers, body text and
// attachment references.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*api.Message, error) {
	msg, err := c.client.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}

	out := &api.Message{ID: messageID}
	if msg.Payload == nil {
		return out, nil
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			out.Subject = truncate(header.Value, maxSubjectLen)
		case "From":
			out.Sender = truncate(header.Value, maxSenderLen)
		case "Date":
			if t, err := mail.ParseDate(header.Value); err == nil {
				out.ReceivedAt = t
			}
		}
	}
	if out.ReceivedAt.IsZero() && msg.InternalDate > 0 {
		out.ReceivedAt = time.Unix(msg.InternalDate/1000, 0)
	}

	out.BodyText = extractBody(msg.Payload)
	out.Attachments = collectAttachments(msg.Payload)
	return out, nil
}

// GetAttachment downloads and decodes one attachment body.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	att, err := c.client.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting attachment: %w", err)
	}
	data, err := base64.URLEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment data: %w", err)
	}
	return data, nil
}

// ApplyLabel tags the message with a user label, creating the label first
// when it does not exist yet.
func (c *Client) ApplyLabel(ctx context.Context, messageID, label string) error {
	labelID, err := c.ensureLabel(ctx, label)
	if err != nil {
		return fmt.Errorf("ensuring label %q: %w", label, err)
	}

	_, err = c.client.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("applying label %q to %s: %w", label, messageID, err)
	}
	return nil
}

// Archive removes the message from the inbox.
func (c *Client) Archive(ctx context.Context, messageID string) error {
	_, err := c.client.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("archiving message %s: %w", messageID, err)
	}
	return nil
}

// ensureLabel resolves a label name to its ID, creating it when missing.
// Creation races with other instances; a conflict response means someone
// else created it, so the list is consulted again.
func (c *Client) ensureLabel(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.labelIDs[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := c.findLabel(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		created, err := c.client.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		switch {
		case err == nil:
			id = created.Id
		case isConflict(err):
			id, err = c.findLabel(ctx, name)
			if err != nil {
				return "", err
			}
			if id == "" {
				return "", fmt.Errorf("label %q conflicted on create but is not listed", name)
			}
		default:
			return "", fmt.Errorf("creating label: %w", err)
		}
	}

	c.mu.Lock()
	c.labelIDs[name] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) findLabel(ctx context.Context, name string) (string, error) {
	resp, err := c.client.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("listing labels: %w", err)
	}
	for _, l := range resp.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}
	return "", nil
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

// extractBody walks the part tree depth-first and returns the first
// text/plain part. Single-part messages carry the body on the payload
// itself.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	stack := []*gmail.MessagePart{payload}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
				return string(data)
			}
		}

		// Push children in reverse so the leftmost part is visited first.
		for i := len(part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, part.Parts[i])
		}
	}

	if payload.Body != nil && payload.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(data)
		}
	}
	return ""
}

// collectAttachments gathers PDF attachment references from every level of
// the part tree. Octet-stream parts count when their filename says PDF.
func collectAttachments(payload *gmail.MessagePart) []api.AttachmentRef {
	if payload == nil {
		return nil
	}

	var refs []api.AttachmentRef
	stack := []*gmail.MessagePart{payload}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			isPDF := part.MimeType == "application/pdf" ||
				(part.MimeType == "application/octet-stream" &&
					strings.HasSuffix(strings.ToLower(part.Filename), ".pdf"))
			if isPDF {
				refs = append(refs, api.AttachmentRef{
					Filename:     part.Filename,
					AttachmentID: part.Body.AttachmentId,
					Size:         part.Body.Size,
				})
			}
		}

		for i := len(part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, part.Parts[i])
		}
	}
	return refs
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
