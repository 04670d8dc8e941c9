// Package tasks holds the engine's recurring background tasks.
package tasks

import (
	"context"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/scheduler"
)

const defaultSyncSchedule = "0 */2 * * * *"

// MailSync runs one mailbox sync pass per tick.
type MailSync struct {
	syncer   *scheduler.Syncer
	schedule string
	timeout  time.Duration
}

func NewMailSync(syncer *scheduler.Syncer, schedule string, timeout time.Duration) *MailSync {
	if schedule == "" {
		schedule = defaultSyncSchedule
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &MailSync{syncer: syncer, schedule: schedule, timeout: timeout}
}

func (t *MailSync) Name() string           { return "mail-sync" }
func (t *MailSync) Schedule() string       { return t.schedule }
func (t *MailSync) Timeout() time.Duration { return t.timeout }

func (t *MailSync) Run(ctx context.Context) error {
	_, err := t.syncer.RunPass(ctx)
	return err
}
