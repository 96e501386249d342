// Package transfer implements the bounded, observable queue for
// uploads, downloads and recursive deletes. The engine owns the task
// table; front-ends watch it through the event bus and snapshots.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType indicates the kind of work a task performs.
type TaskType string

const (
	TaskTypeUpload   TaskType = "upload"
	TaskTypeDownload TaskType = "download"
	TaskTypeDelete   TaskType = "delete"
)

// TaskState represents the current state of a transfer task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"    // Waiting for an admission slot
	TaskRunning   TaskState = "running"   // Work in progress
	TaskPaused    TaskState = "paused"    // Paused by user; must re-queue to run again
	TaskCompleted TaskState = "completed" // Successfully completed (terminal)
	TaskFailed    TaskState = "failed"    // Failed with error (terminal)
	TaskCancelled TaskState = "cancelled" // Cancelled by user (terminal)
)

// Task is a single transfer unit. All mutation goes through the engine;
// external callers only ever see Snapshot copies.
type Task struct {
	ID        string
	Type      TaskType
	Bucket    string
	Key       string // Object key, or prefix for recursive deletes
	LocalPath string // Local file path for uploads/downloads

	State       TaskState
	Transferred int64   // Bytes (upload/download) or deleted items (delete)
	Total       int64   // Size in bytes, or item count for deletes
	Speed       float64 // Units/sec, EMA-smoothed
	Progress    float64 // 0.0 to 1.0
	Err         error
	Attempts    int    // 1 for a fresh task; incremented through retry lineage
	RetryOf     string // ID of the failed task this one was seeded from

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Speed calculation internals (EMA smoothing)
	lastUnits      int64
	lastUpdateTime time.Time
	lastPublish    time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	paused bool // set before cancel when the interruption is a pause
}

func newTask(taskType TaskType, bucket, key, localPath string) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Bucket:    bucket,
		Key:       key,
		LocalPath: localPath,
		State:     TaskQueued,
		Attempts:  1,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context returns the task's context for cooperative cancellation.
func (t *Task) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// Snapshot is the externally visible, immutable view of a task.
type Snapshot struct {
	ID          string    `json:"id"`
	Type        TaskType  `json:"type"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	LocalPath   string    `json:"localPath,omitempty"`
	Status      TaskState `json:"status"`
	Transferred int64     `json:"transferred"`
	Total       int64     `json:"total"`
	Speed       float64   `json:"speed"`
	Progress    float64   `json:"progress"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	RetryOf     string    `json:"retryOf,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// snapshotLocked copies the observable fields. Caller holds t.mu.
func (t *Task) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          t.ID,
		Type:        t.Type,
		Bucket:      t.Bucket,
		Key:         t.Key,
		LocalPath:   t.LocalPath,
		Status:      t.State,
		Transferred: t.Transferred,
		Total:       t.Total,
		Speed:       t.Speed,
		Progress:    t.Progress,
		Attempts:    t.Attempts,
		RetryOf:     t.RetryOf,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.Err != nil {
		s.Error = t.Err.Error()
	}
	return s
}

// Snapshot returns a copy of the task's observable state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// IsTerminal reports whether the task has reached a final state.
func (s Snapshot) IsTerminal() bool {
	return s.Status == TaskCompleted || s.Status == TaskFailed || s.Status == TaskCancelled
}

// updateProgressLocked advances transferred units and recomputes the
// EMA speed. Transferred never decreases. Caller holds t.mu.
func (t *Task) updateProgressLocked(units int64) {
	if units < t.Transferred {
		return
	}
	now := time.Now()
	t.Transferred = units
	if t.Total > 0 {
		t.Progress = float64(units) / float64(t.Total)
		if t.Progress > 1 {
			t.Progress = 1
		}
	}

	if t.lastUnits == 0 && units > 0 {
		t.lastUnits = units
		t.lastUpdateTime = now
		return
	}

	elapsed := now.Sub(t.lastUpdateTime).Seconds()
	if elapsed >= 0.1 && units > t.lastUnits {
		instant := float64(units-t.lastUnits) / elapsed

		// EMA smoothing (alpha=0.25): responsive but stable display.
		const alpha = 0.25
		if t.Speed > 0 {
			t.Speed = alpha*instant + (1-alpha)*t.Speed
		} else {
			t.Speed = instant
		}

		t.lastUnits = units
		t.lastUpdateTime = now
	}
}
