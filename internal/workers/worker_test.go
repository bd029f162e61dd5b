package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wakeline/internal/logs"
)

type tickWorker struct {
	name  string
	runs  atomic.Int32
	err   error
	every time.Duration
}

func (w *tickWorker) Name() string            { return w.name }
func (w *tickWorker) Interval() time.Duration { return w.every }
func (w *tickWorker) Run(context.Context) error {
	w.runs.Add(1)
	return w.err
}

func TestWorkerManagerRunsAndStops(t *testing.T) {
	ok := &tickWorker{name: "ok", every: 10 * time.Millisecond}
	bad := &tickWorker{name: "bad", every: time.Hour, err: errors.New("boom")}

	wm := NewWorkerManager(time.Second, logs.Discard())
	wm.RegisterWorker(ok)
	wm.RegisterWorker(bad)
	wm.Start()

	assert.Eventually(t, func() bool { return ok.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return bad.runs.Load() == 1 }, time.Second, 5*time.Millisecond, "runs once at start")

	wm.Stop()
	wm.Stop()
	after := ok.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ok.runs.Load())

	stats := wm.GetStats()
	assert.Equal(t, 2, stats.TotalWorkers)
	assert.ElementsMatch(t, []string{"ok", "bad"}, stats.WorkerNames)
	assert.Equal(t, int64(1), stats.Runs["bad"].Failures)
	assert.Equal(t, "boom", stats.Runs["bad"].LastError)
	assert.Zero(t, stats.Runs["ok"].Failures)
}
