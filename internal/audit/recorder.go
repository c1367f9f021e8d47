package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"sgadmin.org/internal/auth"
	"sgadmin.org/internal/ids"
	"sgadmin.org/internal/obs"
)

const appendTimeout = 5 * time.Second

// Recorder appends access-log rows without ever blocking or failing the flow
// that emitted them. Each Record call runs on its own goroutine with a
// detached context; append errors are logged and dropped.
type Recorder struct {
	logs auth.AccessLogStore
	now  func() time.Time

	wg sync.WaitGroup
}

var _ auth.AuditRecorder = (*Recorder)(nil)

// NewRecorder wraps an access-log store.
func NewRecorder(logs auth.AccessLogStore) *Recorder {
	return &Recorder{logs: logs, now: time.Now}
}

// Record appends one audit entry asynchronously. The primary operation's
// context cancellation does not abort the append.
func (r *Recorder) Record(ctx context.Context, userID, action string, success bool, details string) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	entry := &auth.AccessLog{
		ID:        ids.New(),
		UserID:    strings.TrimSpace(userID),
		Action:    action,
		Success:   success,
		Details:   details,
		CreatedAt: r.now().UTC(),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
		defer cancel()
		if err := r.logs.Append(appendCtx, entry); err != nil {
			obs.Error("audit append failed", err, map[string]any{
				"action":  entry.Action,
				"user_id": entry.UserID,
			})
		}
	}()
}

// Flush waits for in-flight appends. Intended for shutdown and tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}
