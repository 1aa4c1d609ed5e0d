package storage

import (
	"context"
	"time"

	logx "meetbot/pkg/logx"
)

// Auditor appends audit entries on behalf of one actor. Write failures are logged,
// never returned: auditing must not fail the action it records.
type Auditor struct {
	Store Store
	Actor string
	Log   logx.Logger
}

func (a Auditor) Record(ctx context.Context, action, target string, err error) {
	if a.Store == nil {
		return
	}
	e := AuditEntry{At: time.Now(), Actor: a.Actor, Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if werr := a.Store.AppendAudit(ctx, e); werr != nil && !a.Log.IsZero() {
		a.Log.Warn("audit append failed", logx.String("action", action), logx.Err(werr))
	}
}
