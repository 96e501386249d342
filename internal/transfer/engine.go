package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/r2browser/r2browser/internal/cloud"
	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/events"
	"github.com/r2browser/r2browser/internal/httpx"
	"github.com/r2browser/r2browser/internal/models"
)

// Config tunes the engine. Zero values fall back to the shared defaults.
type Config struct {
	MaxConcurrentUploads   int
	MaxConcurrentDownloads int
	MaxRetryAttempts       int
	AutoRetryOnFailure     bool
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentUploads <= 0 {
		c.MaxConcurrentUploads = constants.MaxConcurrentUploads
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = constants.MaxConcurrentDownloads
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = constants.MaxRetryAttempts
	}
}

// ErrTaskNotFound is returned for operations on unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// Engine owns the task table and executes tasks against the provider.
//
// Admission is per queue: uploads and downloads each hold a weighted
// semaphore sized to their concurrency cap, deletes serialize per
// bucket. Within a queue, admission order is enqueue order because
// semaphore waiters are FIFO.
type Engine struct {
	store cloud.ObjectStore
	bus   *events.EventBus
	cfg   Config

	mu         sync.Mutex
	tasks      []*Task
	tasksByID  map[string]*Task
	closed     bool
	onTerminal func(Snapshot)

	uploadSlots   *semaphore.Weighted
	downloadSlots *semaphore.Weighted
	deleteMu      sync.Mutex
	deleteLocks   map[string]*sync.Mutex

	wg sync.WaitGroup
}

// NewEngine creates an engine over the given provider. Events are
// published on bus; pass nil to run silently (tests).
func NewEngine(store cloud.ObjectStore, bus *events.EventBus, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:         store,
		bus:           bus,
		cfg:           cfg,
		tasksByID:     make(map[string]*Task),
		uploadSlots:   semaphore.NewWeighted(int64(cfg.MaxConcurrentUploads)),
		downloadSlots: semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		deleteLocks:   make(map[string]*sync.Mutex),
	}
}

// OnTerminal registers fn to run on every terminal transition with the
// final snapshot, before the transition becomes observable through
// Task or Tasks. The broker uses it to keep the listing cache coherent
// with mutations performed by background tasks. fn runs on the task's
// goroutine and must not call back into the engine.
func (e *Engine) OnTerminal(fn func(Snapshot)) {
	e.mu.Lock()
	e.onTerminal = fn
	e.mu.Unlock()
}

// EnqueueUpload queues a local file for upload to bucket/key.
func (e *Engine) EnqueueUpload(bucket, key, localPath string) (Snapshot, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stat upload source: %w", err)
	}
	if info.IsDir() {
		return Snapshot{}, fmt.Errorf("upload source %q is a directory", localPath)
	}
	if info.Size() > constants.MaxBodySize {
		return Snapshot{}, fmt.Errorf("file exceeds the %d byte limit", int64(constants.MaxBodySize))
	}

	task := newTask(TaskTypeUpload, bucket, key, localPath)
	task.Total = info.Size()
	return e.admit(task)
}

// EnqueueDownload queues bucket/key for download to localPath.
func (e *Engine) EnqueueDownload(bucket, key, localPath string) (Snapshot, error) {
	task := newTask(TaskTypeDownload, bucket, key, localPath)
	return e.admit(task)
}

// EnqueueDelete queues a recursive delete of every object under prefix.
func (e *Engine) EnqueueDelete(bucket, prefix string) (Snapshot, error) {
	task := newTask(TaskTypeDelete, bucket, prefix, "")
	return e.admit(task)
}

func (e *Engine) admit(task *Task) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, errors.New("transfer engine is shut down")
	}
	e.tasks = append(e.tasks, task)
	e.tasksByID[task.ID] = task
	e.mu.Unlock()

	e.publish(events.EventTransferQueued, task)

	e.wg.Add(1)
	go e.run(task)
	return task.Snapshot(), nil
}

// run executes one task lifecycle: slot acquisition, work, terminal
// transition. Pause re-queues through Resume rather than returning here.
func (e *Engine) run(task *Task) {
	defer e.wg.Done()

	release, err := e.acquireSlot(task)
	if err != nil {
		e.finishInterrupted(task)
		return
	}
	defer release()

	task.mu.Lock()
	if task.State != TaskQueued {
		// Cancelled while waiting for the slot.
		task.mu.Unlock()
		return
	}
	task.State = TaskRunning
	task.StartedAt = time.Now()
	task.mu.Unlock()
	e.publish(events.EventTransferStarted, task)

	var workErr error
	switch task.Type {
	case TaskTypeUpload:
		workErr = e.runUpload(task)
	case TaskTypeDownload:
		workErr = e.runDownload(task)
	case TaskTypeDelete:
		workErr = e.runDelete(task)
	}

	if workErr == nil {
		e.finish(task, TaskCompleted, nil)
		return
	}
	if task.Context().Err() != nil {
		e.finishInterrupted(task)
		return
	}
	e.finish(task, TaskFailed, workErr)
}

func (e *Engine) acquireSlot(task *Task) (func(), error) {
	ctx := task.Context()
	switch task.Type {
	case TaskTypeUpload:
		if err := e.uploadSlots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { e.uploadSlots.Release(1) }, nil
	case TaskTypeDownload:
		if err := e.downloadSlots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { e.downloadSlots.Release(1) }, nil
	default:
		// Deletes serialize per bucket so two recursive deletes never
		// interleave their listing and batch phases.
		lock := e.bucketDeleteLock(task.Bucket)
		done := make(chan struct{})
		go func() {
			lock.Lock()
			close(done)
		}()
		select {
		case <-done:
			return lock.Unlock, nil
		case <-ctx.Done():
			go func() {
				<-done
				lock.Unlock()
			}()
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) bucketDeleteLock(bucket string) *sync.Mutex {
	e.deleteMu.Lock()
	defer e.deleteMu.Unlock()
	lock, ok := e.deleteLocks[bucket]
	if !ok {
		lock = &sync.Mutex{}
		e.deleteLocks[bucket] = lock
	}
	return lock
}

// finishInterrupted resolves a context-cancelled task into PAUSED or
// CANCELLED depending on who pulled the trigger.
func (e *Engine) finishInterrupted(task *Task) {
	task.mu.Lock()
	if task.paused {
		task.paused = false
		task.State = TaskPaused
		task.mu.Unlock()
		e.publish(events.EventTransferPaused, task)
		return
	}
	task.mu.Unlock()
	e.finish(task, TaskCancelled, nil)
}

// finish performs the terminal transition exactly once.
func (e *Engine) finish(task *Task, state TaskState, err error) {
	e.mu.Lock()
	hook := e.onTerminal
	e.mu.Unlock()

	task.mu.Lock()
	if task.State == TaskCompleted || task.State == TaskFailed || task.State == TaskCancelled {
		task.mu.Unlock()
		return
	}
	task.State = state
	task.CompletedAt = time.Now()
	task.Err = err
	if state == TaskCompleted {
		task.Progress = 1.0
		if task.Total > 0 {
			task.Transferred = task.Total
		}
	}
	attempts := task.Attempts
	// The hook runs before the lock drops so no observer can see the
	// terminal state ahead of the invalidation it triggers. Hooks must
	// not call back into the engine.
	if hook != nil {
		hook(task.snapshotLocked())
	}
	task.mu.Unlock()

	switch state {
	case TaskCompleted:
		e.publish(events.EventTransferCompleted, task)
	case TaskFailed:
		e.publish(events.EventTransferFailed, task)
	case TaskCancelled:
		e.publish(events.EventTransferCancelled, task)
	}

	e.pruneTerminal()

	if state == TaskFailed && e.cfg.AutoRetryOnFailure && attempts <= e.cfg.MaxRetryAttempts {
		_, _ = e.Retry(task.ID)
	}
}

// Cancel requests cooperative cancellation. Idempotent: cancelling a
// terminal task is a no-op.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	task, ok := e.tasksByID[id]
	e.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	task.mu.Lock()
	state := task.State
	cancel := task.cancel
	task.mu.Unlock()

	switch state {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return nil
	case TaskPaused:
		// No runner is active; transition directly.
		e.finish(task, TaskCancelled, nil)
		return nil
	default:
		cancel()
		return nil
	}
}

// Pause interrupts a running task. The task must go back through the
// queue via Resume before it runs again.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	task, ok := e.tasksByID[id]
	e.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	task.mu.Lock()
	if task.State != TaskRunning {
		state := task.State
		task.mu.Unlock()
		return fmt.Errorf("cannot pause a %s task", state)
	}
	task.paused = true
	cancel := task.cancel
	task.mu.Unlock()

	cancel()
	return nil
}

// Resume re-queues a paused task. Progress restarts from zero: partial
// work is discarded rather than resumed mid-stream.
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	task, ok := e.tasksByID[id]
	closed := e.closed
	e.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	if closed {
		return errors.New("transfer engine is shut down")
	}

	task.mu.Lock()
	if task.State != TaskPaused {
		state := task.State
		task.mu.Unlock()
		return fmt.Errorf("cannot resume a %s task", state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	task.ctx = ctx
	task.cancel = cancel
	task.State = TaskQueued
	task.Transferred = 0
	task.Progress = 0
	task.Speed = 0
	task.lastUnits = 0
	task.lastUpdateTime = time.Time{}
	task.mu.Unlock()

	e.publish(events.EventTransferQueued, task)
	e.wg.Add(1)
	go e.run(task)
	return nil
}

// Retry creates a fresh task seeded from a failed one. The failed task
// keeps its terminal state; the new task gets a new ID and an
// incremented attempt count.
func (e *Engine) Retry(id string) (Snapshot, error) {
	e.mu.Lock()
	orig, ok := e.tasksByID[id]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}

	orig.mu.Lock()
	if orig.State != TaskFailed {
		state := orig.State
		orig.mu.Unlock()
		return Snapshot{}, fmt.Errorf("only failed tasks can be retried, task is %s", state)
	}
	fresh := newTask(orig.Type, orig.Bucket, orig.Key, orig.LocalPath)
	fresh.Total = orig.Total
	fresh.Attempts = orig.Attempts + 1
	fresh.RetryOf = orig.ID
	orig.mu.Unlock()

	return e.admit(fresh)
}

// Task returns a snapshot of one task.
func (e *Engine) Task(id string) (Snapshot, bool) {
	e.mu.Lock()
	task, ok := e.tasksByID[id]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return task.Snapshot(), true
}

// Tasks returns snapshots of all tracked tasks in creation order.
func (e *Engine) Tasks() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Snapshot, 0, len(e.tasks))
	for _, task := range e.tasks {
		out = append(out, task.Snapshot())
	}
	return out
}

// ClearCompleted drops all terminal tasks from the table.
func (e *Engine) ClearCompleted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	filtered := e.tasks[:0]
	for _, task := range e.tasks {
		if task.Snapshot().IsTerminal() {
			delete(e.tasksByID, task.ID)
			continue
		}
		filtered = append(filtered, task)
	}
	e.tasks = filtered
}

// Shutdown cancels every non-terminal task and waits for runners to
// drain, up to the context deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	tasks := append([]*Task(nil), e.tasks...)
	e.mu.Unlock()

	for _, task := range tasks {
		task.mu.Lock()
		cancel := task.cancel
		state := task.State
		task.mu.Unlock()
		if state == TaskQueued || state == TaskRunning {
			cancel()
		} else if state == TaskPaused {
			e.finish(task, TaskCancelled, nil)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pruneTerminal enforces the retention policy: the most recent
// CompletedTaskRetention tasks per terminal outcome survive, older ones
// drop in FIFO order.
func (e *Engine) pruneTerminal() {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := map[TaskState]int{}
	for _, task := range e.tasks {
		s := task.Snapshot().Status
		if s == TaskCompleted || s == TaskFailed || s == TaskCancelled {
			counts[s]++
		}
	}

	filtered := e.tasks[:0]
	for _, task := range e.tasks {
		s := task.Snapshot().Status
		if (s == TaskCompleted || s == TaskFailed || s == TaskCancelled) &&
			counts[s] > constants.CompletedTaskRetention {
			counts[s]--
			delete(e.tasksByID, task.ID)
			continue
		}
		filtered = append(filtered, task)
	}
	e.tasks = filtered
}

func (e *Engine) publish(eventType events.EventType, task *Task) {
	if e.bus == nil {
		return
	}
	task.mu.Lock()
	snap := task.snapshotLocked()
	taskErr := task.Err
	task.mu.Unlock()

	e.bus.Publish(&events.TransferEvent{
		BaseEvent:   events.BaseEvent{EventType: eventType, Time: time.Now()},
		TaskID:      snap.ID,
		TaskType:    string(snap.Type),
		Bucket:      snap.Bucket,
		Key:         snap.Key,
		Transferred: snap.Transferred,
		Total:       snap.Total,
		Progress:    snap.Progress,
		Speed:       snap.Speed,
		Error:       taskErr,
	})
}

// reportProgress records progress and publishes a throttled event: at
// most one per ProgressPublishInterval per task.
func (e *Engine) reportProgress(task *Task, units int64) {
	task.mu.Lock()
	task.updateProgressLocked(units)
	now := time.Now()
	shouldPublish := now.Sub(task.lastPublish) >= constants.ProgressPublishInterval
	if shouldPublish {
		task.lastPublish = now
	}
	task.mu.Unlock()

	if shouldPublish {
		e.publish(events.EventTransferProgress, task)
	}
}

// ---------------------------------------------------------------------------
// Per-task executors
// ---------------------------------------------------------------------------

// progressReader counts bytes pulled through it and reports them.
type progressReader struct {
	r      io.Reader
	count  int64
	report func(int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.count += int64(n)
		p.report(p.count)
	}
	return n, err
}

func (e *Engine) runUpload(task *Task) error {
	file, err := os.Open(task.LocalPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(task.Context(), constants.ResourceTimeout)
	defer cancel()

	contentType := mime.TypeByExtension(filepath.Ext(task.Key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	reader := &progressReader{
		r:      file,
		report: func(n int64) { e.reportProgress(task, n) },
	}

	_, err = e.store.PutObject(ctx, task.Bucket, task.Key, reader, task.Total, contentType)
	return err
}

func (e *Engine) runDownload(task *Task) error {
	ctx, cancel := context.WithTimeout(task.Context(), constants.ResourceTimeout)
	defer cancel()

	stream, err := e.store.GetObject(ctx, task.Bucket, task.Key, "")
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	task.mu.Lock()
	task.Total = stream.ContentLength
	task.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(task.LocalPath), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	// Write beside the destination and rename on success so a partial
	// download never appears at the final path.
	tmpPath := task.LocalPath + ".partial"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	buf := make([]byte, constants.TransferChunkSize)
	var written int64
	for {
		if ctx.Err() != nil {
			cleanup()
			return ctx.Err()
		}
		n, readErr := stream.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				cleanup()
				return fmt.Errorf("write temp file: %w", writeErr)
			}
			written += int64(n)
			e.reportProgress(task, written)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return readErr
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, task.LocalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}

func (e *Engine) runDelete(task *Task) error {
	ctx := task.Context()
	retryCfg := httpx.Config{
		MaxRetries:   3,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
	}

	// Phase 1: drain the flat listing to learn the full key set.
	var keys []string
	token := ""
	for {
		var page models.ListingPage
		err := httpx.ExecuteWithRetry(ctx, retryCfg, func() error {
			var listErr error
			page, listErr = e.store.ListObjects(ctx, cloud.ListObjectsInput{
				Bucket:            task.Bucket,
				Prefix:            task.Key,
				Delimiter:         "",
				MaxKeys:           constants.ListMaxKeys,
				ContinuationToken: token,
			})
			return listErr
		})
		if err != nil {
			return err
		}
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated {
			break
		}
		token = page.ContinuationToken
	}

	task.mu.Lock()
	task.Total = int64(len(keys))
	task.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}

	// Phase 2: delete in fixed-size batches, one pass. Progress counts
	// items, not bytes.
	var deleted int64
	var failed []models.DeleteFailure
	for start := 0; start < len(keys); start += constants.DeleteBatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + constants.DeleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		var result models.BatchDeleteResult
		err := httpx.ExecuteWithRetry(ctx, retryCfg, func() error {
			var delErr error
			result, delErr = e.store.DeleteBatch(ctx, task.Bucket, batch)
			return delErr
		})
		if err != nil {
			return err
		}

		deleted += int64(result.Deleted)
		failed = append(failed, result.Failed...)
		e.reportProgress(task, deleted+int64(len(failed)))
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d keys could not be deleted", len(failed), len(keys))
	}
	return nil
}
