package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"kilit.org/internal/auth"
	"kilit.org/internal/obs"
	"kilit.org/internal/stream"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

var (
	feedMu sync.RWMutex
	feed   *stream.Hub
)

// SetFeed attaches a live event hub. Every entry written by LogEvent is
// also published there; a nil hub detaches the feed.
func SetFeed(h *stream.Hub) {
	feedMu.Lock()
	feed = h
	feedMu.Unlock()
}

func currentFeed() *stream.Hub {
	feedMu.RLock()
	defer feedMu.RUnlock()
	return feed
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
// The acting user and the organization context of their session are recorded
// whenever a resolved actor is attached.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	now := time.Now().UTC()
	rid := requestIDFromContext(ctx)
	var userID, orgID string
	if actor := auth.ActorFromContext(ctx); !actor.Anonymous() {
		userID = actor.Identity.UserID
		orgID = actor.Identity.OrgID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}

	entry := map[string]any{
		"ts":     now.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event,
		"fields": copyFields,
	}
	if rid != "" {
		entry["request_id"] = rid
	}
	if userID != "" {
		entry["user_id"] = userID
		entry["org_id"] = orgID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))

	if h := currentFeed(); h != nil {
		h.Publish(stream.Event{
			Timestamp: now,
			Event:     event,
			RequestID: rid,
			UserID:    userID,
			OrgID:     orgID,
			Fields:    copyFields,
		})
	}
	return nil
}
