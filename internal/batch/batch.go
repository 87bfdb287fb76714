// Package batch fans quarterly pipeline runs out over a bounded worker pool
// and keeps a pollable snapshot of the job.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finresearch-cli/internal/model"
)

var (
	// ErrNoItems is returned when a batch is started without items.
	ErrNoItems = eris.New("batch: no items")
	// ErrRunning is returned when a batch is started while another runs.
	ErrRunning = eris.New("batch: a batch is already running")
)

// RunFunc runs the full pipeline for one period.
type RunFunc func(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error)

// Archiver persists a finished job snapshot.
type Archiver interface {
	ArchiveJob(ctx context.Context, snap *model.BatchSnapshot) error
}

// Config controls the worker pool.
type Config struct {
	MaxWorkers int
	// ItemTimeout bounds how long the orchestrator waits for one item. Zero
	// means no deadline.
	ItemTimeout time.Duration
}

// DefaultConfig returns three workers and a five minute item deadline.
func DefaultConfig() Config {
	return Config{MaxWorkers: 3, ItemTimeout: 5 * time.Minute}
}

// Orchestrator runs at most one batch job at a time.
type Orchestrator struct {
	cfg      Config
	run      RunFunc
	archiver Archiver

	mu      sync.Mutex
	current *Job
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver archives every finished job.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// New creates an Orchestrator.
func New(cfg Config, run RunFunc, opts ...Option) *Orchestrator {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	o := &Orchestrator{cfg: cfg, run: run}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches a job in the background and returns its handle. The job
// outlives ctx's request scope; only Stop ends it early.
func (o *Orchestrator) Start(ctx context.Context, items []model.Period, maxWorkers int) (*Job, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	o.mu.Lock()
	if o.current != nil && o.current.running() {
		o.mu.Unlock()
		return nil, ErrRunning
	}
	job := newJob(items)
	o.current = job
	o.mu.Unlock()

	go o.execute(context.WithoutCancel(ctx), job, o.workers(maxWorkers))
	return job, nil
}

// Run executes a job synchronously and returns its final snapshot. Item
// failures never surface as an error.
func (o *Orchestrator) Run(ctx context.Context, items []model.Period, maxWorkers int) (*model.BatchSnapshot, error) {
	job, err := o.Start(ctx, items, maxWorkers)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.Done():
	case <-ctx.Done():
		job.Stop()
		<-job.Done()
	}
	return job.Snapshot(), nil
}

// Poll returns the snapshot of the current or most recent job, or nil.
func (o *Orchestrator) Poll() *model.BatchSnapshot {
	o.mu.Lock()
	job := o.current
	o.mu.Unlock()
	if job == nil {
		return nil
	}
	return job.Snapshot()
}

// Stop asks the current job to stop starting new items. It reports whether
// a running job was found.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	job := o.current
	o.mu.Unlock()
	if job == nil || !job.running() {
		return false
	}
	job.Stop()
	return true
}

// Drain stops the current job and waits for in-flight items to finish or
// ctx to end.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.mu.Lock()
	job := o.current
	o.mu.Unlock()
	if job == nil {
		return nil
	}
	job.Stop()
	select {
	case <-job.Done():
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "batch: drain")
	}
}

func (o *Orchestrator) workers(n int) int {
	if n < 1 {
		return o.cfg.MaxWorkers
	}
	return n
}

func (o *Orchestrator) execute(ctx context.Context, job *Job, workers int) {
	zap.L().Info("batch: started",
		zap.String("job_id", job.id),
		zap.Int("items", len(job.items)),
		zap.Int("workers", workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range job.items {
		idx := i
		g.Go(func() error {
			if job.stopped.Load() {
				job.finish(idx, model.ItemSkipped, nil, "stopped before start")
				return nil
			}
			o.runItem(gctx, job, idx)
			return nil // one item never aborts the batch
		})
	}
	_ = g.Wait()

	job.complete()
	snap := job.Snapshot()
	zap.L().Info("batch: complete",
		zap.String("job_id", job.id),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Int("skipped", snap.Skipped),
	)

	if o.archiver != nil {
		if err := o.archiver.ArchiveJob(ctx, snap); err != nil {
			zap.L().Warn("batch: archive job", zap.String("job_id", job.id), zap.Error(err))
		}
	}
	close(job.done)
}

type outcome struct {
	rec *model.QuarterlyRecord
	err error
}

func (o *Orchestrator) runItem(ctx context.Context, job *Job, idx int) {
	p := job.start(idx)

	itemCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.cfg.ItemTimeout > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, o.cfg.ItemTimeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: eris.Errorf("batch: panic processing %s: %v", p.Key(), r)}
			}
		}()
		rec, err := o.run(itemCtx, p)
		done <- outcome{rec: rec, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-itemCtx.Done():
		res = outcome{err: eris.Wrapf(itemCtx.Err(), "batch: %s", p.Key())}
	}

	if res.err != nil {
		zap.L().Error("batch: item failed",
			zap.String("company", p.Company),
			zap.String("quarter", p.Quarter),
			zap.Int("year", p.Year),
			zap.Error(res.err),
		)
		job.finish(idx, model.ItemFailed, nil, res.err.Error())
		return
	}
	job.finish(idx, model.ItemSucceeded, res.rec, "")
}

// Job is the handle of one batch run. All mutable state is guarded by mu.
type Job struct {
	id      string
	stopped atomic.Bool
	done    chan struct{}

	mu         sync.Mutex
	items      []model.ItemResult
	terminal   int
	progress   int
	message    string
	isRunning  bool
	startedAt  time.Time
	finishedAt *time.Time
}

func newJob(periods []model.Period) *Job {
	items := make([]model.ItemResult, len(periods))
	for i, p := range periods {
		items[i] = model.ItemResult{Period: p, Status: model.ItemPending}
	}
	return &Job{
		id:        uuid.New().String(),
		done:      make(chan struct{}),
		items:     items,
		message:   fmt.Sprintf("queued %d items", len(items)),
		isRunning: true,
		startedAt: time.Now().UTC(),
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Done is closed once every item is terminal and the job is archived.
func (j *Job) Done() <-chan struct{} { return j.done }

// Stop prevents further item starts. In-flight items finish.
func (j *Job) Stop() {
	if j.stopped.CompareAndSwap(false, true) {
		j.mu.Lock()
		if j.isRunning {
			j.message = "stopping: waiting for in-flight items"
		}
		j.mu.Unlock()
	}
}

func (j *Job) running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isRunning
}

func (j *Job) start(idx int) model.Period {
	now := time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items[idx].Status = model.ItemRunning
	j.items[idx].StartedAt = &now
	j.message = "processing " + j.items[idx].Period.String()
	return j.items[idx].Period
}

func (j *Job) finish(idx int, status model.ItemStatus, rec *model.QuarterlyRecord, errMsg string) {
	now := time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()

	item := &j.items[idx]
	if item.Status.Terminal() {
		return
	}
	item.Status = status
	item.Record = rec
	item.Error = errMsg
	item.FinishedAt = &now

	j.terminal++
	if p := j.terminal * 100 / len(j.items); p > j.progress {
		j.progress = p
	}

	switch status {
	case model.ItemSucceeded:
		j.message = "completed " + item.Period.String()
	case model.ItemFailed:
		j.message = "failed " + item.Period.String() + ": " + errMsg
	case model.ItemSkipped:
		j.message = "skipped " + item.Period.String()
	}
}

func (j *Job) complete() {
	now := time.Now().UTC()
	j.mu.Lock()
	j.isRunning = false
	j.progress = 100
	j.finishedAt = &now
	j.message = fmt.Sprintf("batch finished: %d items", len(j.items))
	if j.stopped.Load() {
		j.message = fmt.Sprintf("batch stopped: %d of %d items ran", j.countLocked(model.ItemSucceeded)+j.countLocked(model.ItemFailed), len(j.items))
	}
	j.mu.Unlock()
}

func (j *Job) countLocked(status model.ItemStatus) int {
	n := 0
	for _, it := range j.items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the job state safe to hand to other goroutines.
func (j *Job) Snapshot() *model.BatchSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	items := make([]model.ItemResult, len(j.items))
	copy(items, j.items)
	snap := &model.BatchSnapshot{
		ID:        j.id,
		Running:   j.isRunning,
		Progress:  j.progress,
		Message:   j.message,
		Items:     items,
		Succeeded: j.countLocked(model.ItemSucceeded),
		Failed:    j.countLocked(model.ItemFailed),
		Skipped:   j.countLocked(model.ItemSkipped),
		StartedAt: j.startedAt,
	}
	if j.finishedAt != nil {
		t := *j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}
