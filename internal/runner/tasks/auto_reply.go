package tasks

import (
	"context"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/autoreply"
)

const defaultReplySchedule = "30 */2 * * * *"

// AutoReply drafts and dispatches replies to pending messages. It runs
// offset from the sync task so freshly ingested mail is picked up promptly.
type AutoReply struct {
	service  *autoreply.Service
	schedule string
}

func NewAutoReply(service *autoreply.Service, schedule string) *AutoReply {
	if schedule == "" {
		schedule = defaultReplySchedule
	}
	return &AutoReply{service: service, schedule: schedule}
}

func (t *AutoReply) Name() string           { return "auto-reply" }
func (t *AutoReply) Schedule() string       { return t.schedule }
func (t *AutoReply) Timeout() time.Duration { return 5 * time.Minute }

func (t *AutoReply) Run(ctx context.Context) error {
	_, err := t.service.RunPass(ctx)
	return err
}
