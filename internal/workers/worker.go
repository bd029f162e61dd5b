package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker is a periodic job.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// WorkerManager runs every registered worker on its own ticker. A run that is
// still in progress when its tick fires is not overlapped by the same
// manager; other processes may still run the same job concurrently.
type WorkerManager struct {
	workers  []Worker
	timeout  time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	log      *slog.Logger

	statsMu sync.Mutex
	stats   map[string]*RunStats
}

// RunStats is the last known state of one worker.
type RunStats struct {
	Runs        int64         `json:"runs"`
	Failures    int64         `json:"failures"`
	LastRun     time.Time     `json:"lastRun"`
	LastError   string        `json:"lastError,omitempty"`
	LastElapsed time.Duration `json:"lastElapsed"`
}

// NewWorkerManager creates a manager whose runs are bounded by timeout.
func NewWorkerManager(timeout time.Duration, log *slog.Logger) *WorkerManager {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &WorkerManager{
		timeout:  timeout,
		stopChan: make(chan struct{}),
		log:      log.With(slog.String("component", "workers")),
		stats:    make(map[string]*RunStats),
	}
}

// RegisterWorker adds a worker. Workers registered after Start are ignored.
func (wm *WorkerManager) RegisterWorker(w Worker) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.workers = append(wm.workers, w)
	wm.log.Info("worker registered", slog.String("worker", w.Name()), slog.Duration("interval", w.Interval()))
}

// Start launches all registered workers. Each runs once immediately.
func (wm *WorkerManager) Start() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if wm.started {
		return
	}
	wm.started = true

	for _, worker := range wm.workers {
		wm.wg.Add(1)
		go wm.runWorker(worker)
	}

	wm.log.Info("workers started", slog.Int("count", len(wm.workers)))
}

func (wm *WorkerManager) runWorker(w Worker) {
	defer wm.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	wm.executeWorker(w)

	for {
		select {
		case <-ticker.C:
			wm.executeWorker(w)

		case <-wm.stopChan:
			wm.log.Info("worker stopped", slog.String("worker", w.Name()))
			return
		}
	}
}

func (wm *WorkerManager) executeWorker(w Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), wm.timeout)
	defer cancel()

	go func() {
		select {
		case <-wm.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	startTime := time.Now()
	err := w.Run(ctx)
	elapsed := time.Since(startTime)

	wm.statsMu.Lock()
	st, ok := wm.stats[w.Name()]
	if !ok {
		st = &RunStats{}
		wm.stats[w.Name()] = st
	}
	st.Runs++
	st.LastRun = startTime
	st.LastElapsed = elapsed
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	wm.statsMu.Unlock()

	if err != nil {
		wm.log.Error("worker run failed", slog.String("worker", w.Name()), slog.Any("error", err))
		return
	}
	wm.log.Debug("worker run complete", slog.String("worker", w.Name()), slog.Duration("duration", elapsed))
}

// Stop signals every worker and waits for in-flight runs to return.
func (wm *WorkerManager) Stop() {
	wm.mu.Lock()
	select {
	case <-wm.stopChan:
		wm.mu.Unlock()
		return
	default:
		close(wm.stopChan)
	}
	wm.mu.Unlock()

	wm.wg.Wait()
	wm.log.Info("all workers stopped")
}

type WorkerStats struct {
	TotalWorkers int                 `json:"totalWorkers"`
	WorkerNames  []string            `json:"workerNames"`
	Runs         map[string]RunStats `json:"runs"`
}

func (wm *WorkerManager) GetStats() WorkerStats {
	wm.mu.Lock()
	names := make([]string, len(wm.workers))
	for i, w := range wm.workers {
		names[i] = w.Name()
	}
	wm.mu.Unlock()

	wm.statsMu.Lock()
	defer wm.statsMu.Unlock()
	runs := make(map[string]RunStats, len(wm.stats))
	for name, st := range wm.stats {
		runs[name] = *st
	}

	return WorkerStats{
		TotalWorkers: len(names),
		WorkerNames:  names,
		Runs:         runs,
	}
}
