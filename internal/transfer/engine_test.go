package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r2browser/r2browser/internal/cloud"
	"github.com/r2browser/r2browser/internal/models"
)

// stubStore is a controllable ObjectStore for engine tests.
type stubStore struct {
	listFn        func(ctx context.Context, in cloud.ListObjectsInput) (models.ListingPage, error)
	getFn         func(ctx context.Context, bucket, key, byteRange string) (*cloud.ObjectStream, error)
	putFn         func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error)
	deleteBatchFn func(ctx context.Context, bucket string, keys []string) (models.BatchDeleteResult, error)
}

func (s *stubStore) ListBuckets(ctx context.Context) ([]models.Bucket, error) {
	return nil, nil
}

func (s *stubStore) ListObjects(ctx context.Context, in cloud.ListObjectsInput) (models.ListingPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, in)
	}
	return models.ListingPage{}, nil
}

func (s *stubStore) GetObject(ctx context.Context, bucket, key, byteRange string) (*cloud.ObjectStream, error) {
	if s.getFn != nil {
		return s.getFn(ctx, bucket, key, byteRange)
	}
	return nil, errors.New("not implemented")
}

func (s *stubStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
	if s.putFn != nil {
		return s.putFn(ctx, bucket, key, body, contentLength, contentType)
	}
	_, err := io.Copy(io.Discard, body)
	return models.PutResult{Key: key}, err
}

func (s *stubStore) DeleteObject(ctx context.Context, bucket, key string) error {
	return nil
}

func (s *stubStore) DeleteBatch(ctx context.Context, bucket string, keys []string) (models.BatchDeleteResult, error) {
	if s.deleteBatchFn != nil {
		return s.deleteBatchFn(ctx, bucket, keys)
	}
	return models.BatchDeleteResult{Deleted: len(keys)}, nil
}

func (s *stubStore) Search(ctx context.Context, bucket, query string) ([]models.Object, error) {
	return nil, nil
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

// waitForState polls until the task reaches the wanted state or the
// deadline passes.
func waitForState(t *testing.T, e *Engine, id string, want TaskState) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := e.Task(id)
		if !ok {
			t.Fatalf("Task %s disappeared while waiting for %s", id, want)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := e.Task(id)
	t.Fatalf("Task never reached %s, stuck at %s (err=%s)", want, snap.Status, snap.Error)
	return Snapshot{}
}

func TestUploadCompletes(t *testing.T) {
	content := strings.Repeat("x", 4096)
	path := writeTempFile(t, content)

	var received int64
	store := &stubStore{
		putFn: func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
			n, err := io.Copy(io.Discard, body)
			received = n
			return models.PutResult{Key: key, Size: n}, err
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	snap, err := e.EnqueueUpload("bkt", "dir/source.bin", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	if snap.Status != TaskQueued {
		t.Errorf("Fresh task should be queued, got %s", snap.Status)
	}
	if snap.Total != int64(len(content)) {
		t.Errorf("Expected total %d, got %d", len(content), snap.Total)
	}

	done := waitForState(t, e, snap.ID, TaskCompleted)
	if received != int64(len(content)) {
		t.Errorf("Provider received %d bytes, expected %d", received, len(content))
	}
	if done.Progress != 1.0 {
		t.Errorf("Completed task should report progress 1.0, got %f", done.Progress)
	}
	if done.Transferred != done.Total {
		t.Errorf("Transferred %d != total %d on completion", done.Transferred, done.Total)
	}
}

func TestUploadMissingSourceRejected(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	if _, err := e.EnqueueUpload("bkt", "key", "/nonexistent/file"); err == nil {
		t.Error("Expected an error for a missing upload source")
	}
}

func TestDownloadWritesAtomically(t *testing.T) {
	content := []byte("remote object payload")
	store := &stubStore{
		getFn: func(ctx context.Context, bucket, key, byteRange string) (*cloud.ObjectStream, error) {
			return &cloud.ObjectStream{
				Body:          io.NopCloser(bytes.NewReader(content)),
				ContentLength: int64(len(content)),
			}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	dest := filepath.Join(t.TempDir(), "nested", "out.bin")
	snap, err := e.EnqueueDownload("bkt", "out.bin", dest)
	if err != nil {
		t.Fatalf("EnqueueDownload failed: %v", err)
	}

	waitForState(t, e, snap.ID, TaskCompleted)

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("Destination file missing: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Downloaded content does not match the stream")
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Error("Partial file should be gone after a successful download")
	}
}

type errAfterReader struct {
	data []byte
	read int
}

func (r *errAfterReader) Read(buf []byte) (int, error) {
	if r.read >= len(r.data) {
		return 0, errors.New("connection reset mid-stream")
	}
	n := copy(buf, r.data[r.read:])
	r.read += n
	return n, nil
}

func (r *errAfterReader) Close() error { return nil }

func TestDownloadFailureRemovesPartialFile(t *testing.T) {
	store := &stubStore{
		getFn: func(ctx context.Context, bucket, key, byteRange string) (*cloud.ObjectStream, error) {
			return &cloud.ObjectStream{
				Body:          &errAfterReader{data: []byte("partial data")},
				ContentLength: 1 << 20,
			}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	dest := filepath.Join(t.TempDir(), "out.bin")
	snap, err := e.EnqueueDownload("bkt", "out.bin", dest)
	if err != nil {
		t.Fatalf("EnqueueDownload failed: %v", err)
	}

	waitForState(t, e, snap.ID, TaskFailed)

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("Destination must not exist after a failed download")
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Error("Partial file must be cleaned up after a failed download")
	}
}

func TestUploadConcurrencyCap(t *testing.T) {
	const slots = 2
	var inFlight, maxInFlight atomic.Int64
	gate := make(chan struct{})

	store := &stubStore{
		putFn: func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			<-gate
			inFlight.Add(-1)
			io.Copy(io.Discard, body)
			return models.PutResult{}, nil
		},
	}
	e := NewEngine(store, nil, Config{MaxConcurrentUploads: slots})
	defer e.Shutdown(context.Background())

	path := writeTempFile(t, "data")
	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := e.EnqueueUpload("bkt", fmt.Sprintf("k%d", i), path)
		if err != nil {
			t.Fatalf("EnqueueUpload failed: %v", err)
		}
		ids = append(ids, snap.ID)
	}

	// Let the first wave reach the provider, then release everyone.
	time.Sleep(100 * time.Millisecond)
	close(gate)

	for _, id := range ids {
		waitForState(t, e, id, TaskCompleted)
	}
	if got := maxInFlight.Load(); got > slots {
		t.Errorf("Observed %d concurrent uploads, cap is %d", got, slots)
	}
}

func TestRetryCreatesNewTask(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	store := &stubStore{
		putFn: func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
			io.Copy(io.Discard, body)
			if fail.Load() {
				return models.PutResult{}, errors.New("provider rejected the object")
			}
			return models.PutResult{}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	path := writeTempFile(t, "payload")
	orig, err := e.EnqueueUpload("bkt", "key", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	failed := waitForState(t, e, orig.ID, TaskFailed)
	if failed.Error == "" {
		t.Error("Failed task should carry an error message")
	}

	fail.Store(false)
	fresh, err := e.Retry(orig.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if fresh.ID == orig.ID {
		t.Error("Retry must mint a new task ID")
	}
	if fresh.RetryOf != orig.ID {
		t.Errorf("Expected retryOf %s, got %s", orig.ID, fresh.RetryOf)
	}
	if fresh.Attempts != orig.Attempts+1 {
		t.Errorf("Expected attempts %d, got %d", orig.Attempts+1, fresh.Attempts)
	}

	waitForState(t, e, fresh.ID, TaskCompleted)

	// The original stays failed; retry never mutates it.
	snap, _ := e.Task(orig.ID)
	if snap.Status != TaskFailed {
		t.Errorf("Original task should remain failed, got %s", snap.Status)
	}
}

func TestRetryOnlyFailedTasks(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	path := writeTempFile(t, "payload")
	snap, err := e.EnqueueUpload("bkt", "key", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	waitForState(t, e, snap.ID, TaskCompleted)

	if _, err := e.Retry(snap.ID); err == nil {
		t.Error("Retrying a completed task must fail")
	}
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	store := &stubStore{
		putFn: func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
			close(started)
			<-ctx.Done()
			return models.PutResult{}, ctx.Err()
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	path := writeTempFile(t, "payload")
	snap, err := e.EnqueueUpload("bkt", "key", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	<-started

	if err := e.Cancel(snap.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForState(t, e, snap.ID, TaskCancelled)

	// Idempotent: a second cancel on a terminal task is a no-op.
	if err := e.Cancel(snap.ID); err != nil {
		t.Errorf("Cancelling a cancelled task should be a no-op, got %v", err)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	if err := e.Cancel("no-such-id"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	var attempts atomic.Int64
	started := make(chan struct{}, 2)
	store := &stubStore{
		putFn: func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
			started <- struct{}{}
			if attempts.Add(1) == 1 {
				<-ctx.Done()
				return models.PutResult{}, ctx.Err()
			}
			io.Copy(io.Discard, body)
			return models.PutResult{}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	path := writeTempFile(t, "payload")
	snap, err := e.EnqueueUpload("bkt", "key", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	<-started

	if err := e.Pause(snap.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	paused := waitForState(t, e, snap.ID, TaskPaused)
	if paused.IsTerminal() {
		t.Error("Paused must not be a terminal state")
	}

	if err := e.Resume(snap.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	<-started
	done := waitForState(t, e, snap.ID, TaskCompleted)
	if done.ID != snap.ID {
		t.Error("Resume must re-run the same task, not mint a new one")
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	path := writeTempFile(t, "payload")
	snap, err := e.EnqueueUpload("bkt", "key", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	waitForState(t, e, snap.ID, TaskCompleted)

	if err := e.Pause(snap.ID); err == nil {
		t.Error("Pausing a completed task must fail")
	}
}

func TestRecursiveDeleteBatches(t *testing.T) {
	const totalKeys = 2500
	pages := [][]models.Object{}
	for start := 0; start < totalKeys; start += 1000 {
		end := start + 1000
		if end > totalKeys {
			end = totalKeys
		}
		var objs []models.Object
		for i := start; i < end; i++ {
			objs = append(objs, models.Object{Key: fmt.Sprintf("photos/%05d.jpg", i)})
		}
		pages = append(pages, objs)
	}

	var pageIdx atomic.Int64
	var batchSizes []int
	var batchMu sync.Mutex

	store := &stubStore{
		listFn: func(ctx context.Context, in cloud.ListObjectsInput) (models.ListingPage, error) {
			if in.Delimiter != "" {
				t.Errorf("Recursive delete must list flat, got delimiter %q", in.Delimiter)
			}
			idx := int(pageIdx.Add(1)) - 1
			page := models.ListingPage{Objects: pages[idx]}
			if idx < len(pages)-1 {
				page.IsTruncated = true
				page.ContinuationToken = fmt.Sprintf("tok%d", idx)
			}
			return page, nil
		},
		deleteBatchFn: func(ctx context.Context, bucket string, keys []string) (models.BatchDeleteResult, error) {
			batchMu.Lock()
			batchSizes = append(batchSizes, len(keys))
			batchMu.Unlock()
			return models.BatchDeleteResult{Deleted: len(keys)}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	snap, err := e.EnqueueDelete("bkt", "photos/")
	if err != nil {
		t.Fatalf("EnqueueDelete failed: %v", err)
	}
	done := waitForState(t, e, snap.ID, TaskCompleted)

	if done.Total != totalKeys {
		t.Errorf("Expected total %d, got %d", totalKeys, done.Total)
	}
	batchMu.Lock()
	defer batchMu.Unlock()
	if len(batchSizes) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batchSizes))
	}
	if batchSizes[0] != 1000 || batchSizes[1] != 1000 || batchSizes[2] != 500 {
		t.Errorf("Unexpected batch sizes: %v", batchSizes)
	}
}

func TestRecursiveDeleteEmptyPrefix(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	snap, err := e.EnqueueDelete("bkt", "empty/")
	if err != nil {
		t.Fatalf("EnqueueDelete failed: %v", err)
	}
	waitForState(t, e, snap.ID, TaskCompleted)
}

func TestRecursiveDeletePartialFailure(t *testing.T) {
	store := &stubStore{
		listFn: func(ctx context.Context, in cloud.ListObjectsInput) (models.ListingPage, error) {
			return models.ListingPage{Objects: []models.Object{
				{Key: "a"}, {Key: "b"}, {Key: "c"},
			}}, nil
		},
		deleteBatchFn: func(ctx context.Context, bucket string, keys []string) (models.BatchDeleteResult, error) {
			return models.BatchDeleteResult{
				Deleted: len(keys) - 1,
				Failed:  []models.DeleteFailure{{Key: keys[0], Reason: "AccessDenied"}},
			}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	snap, err := e.EnqueueDelete("bkt", "pfx/")
	if err != nil {
		t.Fatalf("EnqueueDelete failed: %v", err)
	}
	done := waitForState(t, e, snap.ID, TaskFailed)
	if !strings.Contains(done.Error, "1 of 3") {
		t.Errorf("Error should report the failed key count, got %q", done.Error)
	}
}

func TestDeletesSerializePerBucket(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	store := &stubStore{
		listFn: func(ctx context.Context, in cloud.ListObjectsInput) (models.ListingPage, error) {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return models.ListingPage{Objects: []models.Object{{Key: in.Prefix + "x"}}}, nil
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	var ids []string
	for i := 0; i < 3; i++ {
		snap, err := e.EnqueueDelete("same-bucket", fmt.Sprintf("p%d/", i))
		if err != nil {
			t.Fatalf("EnqueueDelete failed: %v", err)
		}
		ids = append(ids, snap.ID)
	}
	for _, id := range ids {
		waitForState(t, e, id, TaskCompleted)
	}
	if got := maxInFlight.Load(); got > 1 {
		t.Errorf("Deletes in one bucket must serialize, saw %d concurrent", got)
	}
}

func TestTerminalRetention(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	const enqueued = 60
	var last string
	for i := 0; i < enqueued; i++ {
		snap, err := e.EnqueueDelete("bkt", fmt.Sprintf("p%d/", i))
		if err != nil {
			t.Fatalf("EnqueueDelete failed: %v", err)
		}
		last = snap.ID
		waitForState(t, e, snap.ID, TaskCompleted)
	}

	tasks := e.Tasks()
	completed := 0
	for _, snap := range tasks {
		if snap.Status == TaskCompleted {
			completed++
		}
	}
	if completed > 50 {
		t.Errorf("Retention must cap completed tasks at 50, got %d", completed)
	}

	// The newest task survives pruning.
	if _, ok := e.Task(last); !ok {
		t.Error("Most recent completed task was pruned")
	}
}

func TestClearCompleted(t *testing.T) {
	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	snap, err := e.EnqueueDelete("bkt", "p/")
	if err != nil {
		t.Fatalf("EnqueueDelete failed: %v", err)
	}
	waitForState(t, e, snap.ID, TaskCompleted)

	e.ClearCompleted()
	if tasks := e.Tasks(); len(tasks) != 0 {
		t.Errorf("Expected an empty task table, got %d entries", len(tasks))
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	task := newTask(TaskTypeUpload, "b", "k", "/tmp/x")
	task.Total = 100

	task.mu.Lock()
	task.updateProgressLocked(40)
	task.updateProgressLocked(20) // stale update, must be ignored
	got := task.Transferred
	task.mu.Unlock()

	if got != 40 {
		t.Errorf("Transferred regressed to %d, expected 40", got)
	}
}

func TestTerminalHookRunsBeforeStateIsObservable(t *testing.T) {
	path := writeTempFile(t, "payload")

	e := NewEngine(&stubStore{}, nil, Config{})
	defer e.Shutdown(context.Background())

	// The hook records what the engine reported as observable at the
	// moment it ran. If the terminal state leaked out first, a poller
	// could act on it before the hook's invalidation.
	var hooked atomic.Int64
	var observedEarly atomic.Bool
	var hookSnap Snapshot
	var mu sync.Mutex
	e.OnTerminal(func(snap Snapshot) {
		mu.Lock()
		hookSnap = snap
		mu.Unlock()
		hooked.Add(1)
	})

	probeDone := make(chan struct{})
	var id atomic.Value
	go func() {
		defer close(probeDone)
		for {
			v := id.Load()
			if v != nil {
				snap, ok := e.Task(v.(string))
				if ok && snap.IsTerminal() {
					if hooked.Load() == 0 {
						observedEarly.Store(true)
					}
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	snap, err := e.EnqueueUpload("bkt", "dir/payload.bin", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	id.Store(snap.ID)

	waitForState(t, e, snap.ID, TaskCompleted)
	<-probeDone

	if hooked.Load() != 1 {
		t.Fatalf("Expected the hook to run once, ran %d times", hooked.Load())
	}
	if observedEarly.Load() {
		t.Error("Terminal state was observable before the hook ran")
	}
	mu.Lock()
	defer mu.Unlock()
	if hookSnap.Status != TaskCompleted {
		t.Errorf("Hook saw status %s, expected completed", hookSnap.Status)
	}
	if hookSnap.Bucket != "bkt" || hookSnap.Key != "dir/payload.bin" {
		t.Errorf("Hook snapshot carries the wrong identity: %s/%s", hookSnap.Bucket, hookSnap.Key)
	}
}

func TestTerminalHookFiresForCancelledTasks(t *testing.T) {
	path := writeTempFile(t, "payload")

	blocked := make(chan struct{})
	store := &stubStore{
		putFn: func(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) (models.PutResult, error) {
			close(blocked)
			<-ctx.Done()
			return models.PutResult{}, ctx.Err()
		},
	}
	e := NewEngine(store, nil, Config{})
	defer e.Shutdown(context.Background())

	var outcomes []TaskState
	var mu sync.Mutex
	e.OnTerminal(func(snap Snapshot) {
		mu.Lock()
		outcomes = append(outcomes, snap.Status)
		mu.Unlock()
	})

	snap, err := e.EnqueueUpload("bkt", "k.bin", path)
	if err != nil {
		t.Fatalf("EnqueueUpload failed: %v", err)
	}
	<-blocked

	if err := e.Cancel(snap.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForState(t, e, snap.ID, TaskCancelled)

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 || outcomes[0] != TaskCancelled {
		t.Errorf("Expected one cancelled hook invocation, got %v", outcomes)
	}
}
