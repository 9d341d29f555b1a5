// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements the MCP async job queue: enqueue returns a
// request id immediately, a worker pool drains jobs through a caller-supplied
// dispatch function, and job records are readable until a retention window
// garbage-collects them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is a job's position in the queued -> processing -> (completed |
// failed) lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrCancelled is the error recorded on a job cancelled before or during
// execution.
var ErrCancelled = errors.New("job cancelled")

// Dispatch executes one job's method against its params, honoring ctx
// cancellation cooperatively. It is the same path a synchronous request
// would take through the protocol engine.
type Dispatch func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

// Publisher is the subset of the notification broker the queue needs to
// announce progress and terminal state; satisfied by *broker.Broker.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{}) string
}

// Job is an async job record. Mutated under the queue's lock by Enqueue, the
// worker executing it, Cancel and Progress; read by status/result queries.
type Job struct {
	ID        string
	Method    string
	Params    json.RawMessage
	Status    Status
	Progress  float64
	Result    interface{}
	Err       error
	StartedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

// Config controls queue-wide defaults: worker pool size, bounded queue
// capacity, completed-job retention, and the default per-job timeout.
type Config struct {
	Workers         int
	QueueSize       int
	RetentionWindow time.Duration
	DefaultTimeout  time.Duration
	Logger          *zap.Logger
}

const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 256
	DefaultTimeout        = 30 * time.Second
	DefaultRetentionWindow = 10 * time.Minute
)

type workItem struct {
	job    *Job
	ctx    context.Context
	method string
	params json.RawMessage
}

// Queue accepts long-running invocations, assigns request ids, and tracks
// their lifecycle. Workers drain it concurrently; the job table and every
// job record are guarded by the one reader-writer lock mu.
type Queue struct {
	cfg      Config
	dispatch Dispatch
	broker   Publisher

	mu   sync.RWMutex
	jobs map[string]*Job

	work chan workItem

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Queue and starts its worker pool. dispatch is the normal
// method-dispatch path (e.g. the protocol engine's HandleMessage-equivalent
// for a single method); publisher may be nil, in which case progress and
// terminal notifications are simply not published.
func New(cfg Config, dispatch Dispatch, publisher Publisher) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	q := &Queue{
		cfg:      cfg,
		dispatch: dispatch,
		broker:   publisher,
		jobs:     make(map[string]*Job),
		work:     make(chan workItem, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Enqueue admits a job and returns its id immediately; the job runs
// asynchronously on the worker pool.
func (q *Queue) Enqueue(method string, params json.RawMessage) string {
	id := uuid.New().String()
	now := time.Now()

	jobCtx, cancel := context.WithTimeout(context.Background(), q.cfg.DefaultTimeout)

	job := &Job{
		ID:        id,
		Method:    method,
		Params:    params,
		Status:    StatusQueued,
		StartedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}

	q.mu.Lock()
	q.jobs[id] = job
	q.mu.Unlock()

	select {
	case q.work <- workItem{job: job, ctx: jobCtx, method: method, params: params}:
	default:
		// Queue is saturated; fail immediately rather than block the caller,
		// since Enqueue's contract is to return the id right away.
		cancel()
		q.mu.Lock()
		job.Status = StatusFailed
		job.Err = errors.New("queue saturated")
		job.UpdatedAt = time.Now()
		q.mu.Unlock()
		q.cfg.Logger.Warn("job rejected, queue saturated", zap.String("job_id", id), zap.String("method", method))
	}

	return id
}

// Get returns a snapshot of a job's current record.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Cancel stops a job. A still-queued job transitions straight to failed with
// ErrCancelled; an in-flight job has its context cancelled, and the worker
// observes that cooperatively.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	alreadyTerminal := job.Status == StatusCompleted || job.Status == StatusFailed
	if !alreadyTerminal && job.Status == StatusQueued {
		job.Status = StatusFailed
		job.Err = ErrCancelled
		job.UpdatedAt = time.Now()
	}
	q.mu.Unlock()

	if job.cancel != nil {
		job.cancel()
	}

	if !alreadyTerminal {
		q.publishTerminal(job.ID, StatusFailed, nil, ErrCancelled)
	}
	return true
}

// Shutdown stops accepting new work and waits for in-flight workers to
// observe cancellation and return.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stopCh) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case item, ok := <-q.work:
			if !ok {
				return
			}
			q.run(item)
		}
	}
}

func (q *Queue) run(item workItem) {
	q.mu.Lock()
	if item.job.Status == StatusFailed {
		// Cancelled while still queued; nothing to execute.
		q.mu.Unlock()
		return
	}
	item.job.Status = StatusProcessing
	item.job.UpdatedAt = time.Now()
	q.mu.Unlock()

	result, err := q.dispatch(item.ctx, item.method, item.params)

	q.mu.Lock()
	if item.ctx.Err() != nil && err == nil {
		err = ErrCancelled
	}
	if err != nil {
		item.job.Status = StatusFailed
		item.job.Err = err
	} else {
		item.job.Status = StatusCompleted
		item.job.Result = result
	}
	item.job.UpdatedAt = time.Now()
	status := item.job.Status
	q.mu.Unlock()

	q.publishTerminal(item.job.ID, status, result, err)
	q.gc()
}

// Progress records a handler-reported progress fraction (0.0-1.0) and
// publishes notifications/progress referencing the job id.
func (q *Queue) Progress(id string, fraction float64) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok {
		job.Progress = fraction
		job.UpdatedAt = time.Now()
	}
	q.mu.Unlock()
	if !ok || q.broker == nil {
		return
	}
	q.broker.Publish(context.Background(), "notifications/progress", map[string]interface{}{
		"requestId": id,
		"progress":  fraction,
	})
}

func (q *Queue) publishTerminal(id string, status Status, result interface{}, err error) {
	if q.broker == nil {
		return
	}
	payload := map[string]interface{}{
		"requestId": id,
		"status":    string(status),
	}
	if errors.Is(err, ErrCancelled) {
		q.broker.Publish(context.Background(), "notifications/cancelled", payload)
		return
	}
	if err != nil {
		payload["error"] = err.Error()
		q.broker.Publish(context.Background(), "notifications/progress", payload)
		return
	}
	payload["result"] = result
	q.broker.Publish(context.Background(), "notifications/progress", payload)
}

// gc drops completed/failed job records older than RetentionWindow. Called
// opportunistically after each job finishes, mirroring the broker's gc.
func (q *Queue) gc() {
	cutoff := time.Now().Add(-q.cfg.RetentionWindow)
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, job := range q.jobs {
		if (job.Status == StatusCompleted || job.Status == StatusFailed) && job.UpdatedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}
