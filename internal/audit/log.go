package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"ecompulse.app/internal/auth"
	"ecompulse.app/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names emitted by the domain services.
const (
	EventProfileCreated   = "profile.created"
	EventCreditDeducted   = "credits.deducted"
	EventFavoriteAdded    = "favorite.added"
	EventFavoriteRemoved  = "favorite.removed"
	EventSubscribed       = "subscription.saved"
	EventUnsubscribed     = "subscription.unsubscribed"
	EventRanksRefreshed   = "ranks.refreshed"
	EventContentPublished = "content.published"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", userID))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))

	obs.Logger().Info("audit", zf...)
	return nil
}

// Record is LogEvent for callers that cannot act on a failure.
func Record(ctx context.Context, event string, fields map[string]any) {
	if err := LogEvent(ctx, event, fields); err != nil {
		obs.Logger().Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}
