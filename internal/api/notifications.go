package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/warranty-notify/internal/model"
)

// DecodeWarning records a per-record decode problem that did not prevent
// the record from being used.
type DecodeWarning struct {
	ID  int64
	Err error
}

// Notifications wraps the /notifications endpoints.
type Notifications struct {
	client *Client
}

// NewNotifications returns the notification endpoints bound to c.
func NewNotifications(c *Client) *Notifications {
	return &Notifications{client: c}
}

type listResponse struct {
	Notifications []WireNotification `json:"notifications"`
}

type countResponse struct {
	Count flexInt `json:"count"`
}

// List fetches the active feed, or the full history when includeCleared
// is set. Malformed metadata on a record is reported as a warning and the
// record is returned with nil metadata.
func (n *Notifications) List(
	ctx context.Context,
	includeCleared bool,
) ([]model.Notification, []DecodeWarning, error) {
	path := "/notifications"
	if includeCleared {
		path += "?includeCleared=true"
	}

	var resp listResponse
	if err := n.client.Get(ctx, path, &resp); err != nil {
		return nil, nil, err
	}

	records := make([]model.Notification, 0, len(resp.Notifications))
	var warnings []DecodeWarning
	for _, w := range resp.Notifications {
		rec, err := w.Notification()
		if err != nil {
			warnings = append(warnings, DecodeWarning{ID: rec.ID, Err: err})
		}
		records = append(records, rec)
	}

	return records, warnings, nil
}

// UnreadCount fetches the server-side unread counter.
func (n *Notifications) UnreadCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := n.client.Get(ctx, "/notifications/unread-count", &resp); err != nil {
		return 0, err
	}
	if resp.Count < 0 {
		return 0, nil
	}
	return int(resp.Count), nil
}

// MarkRead acknowledges a single notification.
func (n *Notifications) MarkRead(ctx context.Context, id int64) error {
	return n.client.Patch(ctx, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

// MarkAllRead acknowledges every notification of the session user.
func (n *Notifications) MarkAllRead(ctx context.Context) error {
	return n.client.Patch(ctx, "/notifications/read-all", nil, nil)
}

// ClearAll removes every notification from the default view.
func (n *Notifications) ClearAll(ctx context.Context) error {
	return n.client.Delete(ctx, "/notifications", nil)
}

// Dismiss removes one notification from the default view.
func (n *Notifications) Dismiss(ctx context.Context, id int64) error {
	return n.client.Delete(ctx, fmt.Sprintf("/notifications/%d", id), nil)
}

// Restore undoes a prior Dismiss.
func (n *Notifications) Restore(ctx context.Context, id int64) error {
	return n.client.Patch(ctx, fmt.Sprintf("/notifications/%d/restore", id), nil, nil)
}

// WireNotification is a notification as serialized by the backend, over
// REST and over the push channel. Booleans may arrive as 0/1 (MySQL
// TINYINT) and metadata may be an object or a JSON-encoded string.
type WireNotification struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Link      *string         `json:"link"`
	Metadata  json.RawMessage `json:"metadata"`
	IsRead    flexBool        `json:"is_read"`
	IsCleared flexBool        `json:"is_cleared"`
	CreatedAt flexTime        `json:"created_at"`
}

// Notification converts w into the client model. The returned record is
// always usable; a non-nil error only reports that its metadata was
// dropped.
func (w WireNotification) Notification() (model.Notification, error) {
	n := model.Notification{
		ID:        w.ID,
		Title:     w.Title,
		Message:   w.Message,
		Type:      model.Type(w.Type),
		IsRead:    bool(w.IsRead),
		IsCleared: bool(w.IsCleared),
		CreatedAt: time.Time(w.CreatedAt),
	}
	if w.Link != nil {
		n.Link = *w.Link
	}

	md, err := model.DecodeMetadata(w.Metadata)
	if err != nil {
		return n, fmt.Errorf("notification %d: %w", w.ID, err)
	}
	n.Metadata = md
	return n, nil
}

// flexBool accepts true/false, 0/1 and "0"/"1".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch s {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

// flexInt accepts a JSON number or a numeric string (COUNT(*) may be
// serialized as a string by some drivers).
type flexInt int64

func (i *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*i = flexInt(v)
	return nil
}

// timeLayouts are tried in order when decoding created_at.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// flexTime accepts RFC 3339 timestamps and MySQL DATETIME strings (UTC).
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			*t = flexTime(time.Time{})
			return nil
		}
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if s == "" {
		*t = flexTime(time.Time{})
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t flexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t))
}
