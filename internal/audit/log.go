// Package audit emits structured audit entries for mutations that concern a
// child's record: grants issued or revoked, missions assigned, notes removed.
// Entries carry the acting user and the request id so a guardian dispute can
// be traced back to a single request.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/obs"
)

type requestIDKey struct{}

// WithRequestID stores the request id for later audit entries. Blank ids are
// ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// LogEvent writes one audit line. The actor and request id are picked up from
// the context when present; fields carries event-specific detail.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event,
		"fields": map[string]any{},
	}
	if ctx != nil {
		if rid, ok := ctx.Value(requestIDKey{}).(string); ok && rid != "" {
			entry["request_id"] = rid
		}
		if actor, ok := access.ActorFromContext(ctx); ok {
			entry["user_id"] = actor.UserID
			entry["role"] = string(actor.Role)
		}
	}
	if len(fields) > 0 {
		detail := make(map[string]any, len(fields))
		for k, v := range fields {
			detail[k] = v
		}
		entry["fields"] = detail
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
