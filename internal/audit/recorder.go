package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mpfm-monitor/internal/auth"
)

// Recorder fills identity and request details before delegating to a Logger.
// Failures are logged and swallowed so auditing never blocks a business operation.
type Recorder struct {
	logger Logger
	log    *zap.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder. A nil logger makes Record a no-op.
func NewRecorder(logger Logger, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{logger: logger, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Record writes entry, completing tenant, actor, role and request fields from ctx.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.logger == nil {
		return
	}
	if entry.TenantID == "" {
		entry.TenantID = auth.TenantIDFromContext(ctx)
	}
	if entry.Actor == "" {
		entry.Actor = auth.SubjectFromContext(ctx)
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.Role == "" {
		entry.Role = string(auth.RoleFromContext(ctx))
	}
	req := requestFromContext(ctx)
	if entry.IP == "" {
		entry.IP = req.ip
	}
	if entry.UserAgent == "" {
		entry.UserAgent = req.userAgent
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if err := r.logger.Log(ctx, entry); err != nil {
		r.log.Warn("audit log failed",
			zap.String("action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
	}
}
