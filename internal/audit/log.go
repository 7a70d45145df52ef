package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"sauda.org/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorKey     ctxKey = "audit_actor"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithActor attaches the acting account address to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

func fromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
// Settlement operations (create, bid, cancel, finalize) record every terminal
// decision here.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	zfields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := fromContext(ctx, requestIDKey); rid != "" {
		zfields = append(zfields, zap.String("request_id", rid))
	}
	if actor := fromContext(ctx, actorKey); actor != "" {
		zfields = append(zfields, zap.String("actor", actor))
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		zfields = append(zfields, zap.Any("fields", copyFields))
	} else {
		zfields = append(zfields, zap.Any("fields", map[string]any{}))
	}

	obs.Logger().Info(event, zfields...)
	return nil
}
