package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type tickTask struct {
	name     string
	schedule string
	runs     atomic.Int32
	err      error
	panics   bool
}

func (t *tickTask) Name() string           { return t.name }
func (t *tickTask) Schedule() string       { return t.schedule }
func (t *tickTask) Timeout() time.Duration { return time.Second }

func (t *tickTask) Run(_ context.Context) error {
	t.runs.Add(1)
	if t.panics {
		panic("task exploded")
	}
	return t.err
}

func TestRunnerExecutesOnSchedule(t *testing.T) {
	task := &tickTask{name: "tick", schedule: "* * * * * *"}
	r := New()
	require.NoError(t, r.Register(task))

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	require.GreaterOrEqual(t, task.runs.Load(), int32(1))
}

func TestRunnerSurvivesFailingAndPanickingTasks(t *testing.T) {
	failing := &tickTask{name: "fail", schedule: "* * * * * *", err: errors.New("boom")}
	panicking := &tickTask{name: "panic", schedule: "* * * * * *", panics: true}
	healthy := &tickTask{name: "ok", schedule: "* * * * * *"}

	r := New()
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(panicking))
	require.NoError(t, r.Register(healthy))

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	require.GreaterOrEqual(t, healthy.runs.Load(), int32(1))
}

func TestRunnerRejectsBadSchedule(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&tickTask{name: "bad", schedule: "not-cron"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
}

func TestRunnerRejectsNilTask(t *testing.T) {
	require.Error(t, New().Register(nil))
}
