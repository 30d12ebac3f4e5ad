package store

import (
	"testing"
	"time"

	"pdsync/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileState_PutGetDelete(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetFileState("root1", "/a/b.txt")
	if err != nil {
		t.Fatalf("GetFileState() error = %v", err)
	}
	if ok {
		t.Fatal("GetFileState() found a row before any was written")
	}

	fs := &model.FileState{SyncRootID: "root1", LocalPath: "/a/b.txt", ChangeToken: "100:5"}
	if err := s.PutFileState(fs); err != nil {
		t.Fatalf("PutFileState() error = %v", err)
	}

	got, ok, err := s.GetFileState("root1", "/a/b.txt")
	if err != nil || !ok {
		t.Fatalf("GetFileState() = %v, %v, %v", got, ok, err)
	}
	if got.ChangeToken != "100:5" {
		t.Errorf("ChangeToken = %q, want %q", got.ChangeToken, "100:5")
	}

	fs.ChangeToken = "200:6"
	if err := s.PutFileState(fs); err != nil {
		t.Fatalf("PutFileState() update error = %v", err)
	}
	got, _, _ = s.GetFileState("root1", "/a/b.txt")
	if got.ChangeToken != "200:6" {
		t.Errorf("after update ChangeToken = %q, want %q", got.ChangeToken, "200:6")
	}

	if err := s.DeleteFileState("root1", "/a/b.txt"); err != nil {
		t.Fatalf("DeleteFileState() error = %v", err)
	}
	_, ok, _ = s.GetFileState("root1", "/a/b.txt")
	if ok {
		t.Error("GetFileState() still found a row after delete")
	}
}

func TestEnqueue_ClaimNext_CompleteJob(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	id, err := s.Enqueue(&model.SyncJob{
		SyncRootID: "root1",
		EventType:  model.EventCreate,
		LocalPath:  "/a.txt",
		RemotePath: "a.txt",
		CreatedAt:  now,
	}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id == 0 {
		t.Fatal("Enqueue() returned zero id")
	}

	job, ok, err := s.ClaimNext(now)
	if err != nil || !ok {
		t.Fatalf("ClaimNext() = %v, %v, %v", job, ok, err)
	}
	if job.ID != id {
		t.Errorf("claimed job id = %d, want %d", job.ID, id)
	}
	if job.State != model.JobProcessing {
		t.Errorf("claimed job state = %s, want PROCESSING", job.State)
	}

	_, ok, err = s.ClaimNext(now)
	if err != nil {
		t.Fatalf("second ClaimNext() error = %v", err)
	}
	if ok {
		t.Error("second ClaimNext() should find nothing, the only job is PROCESSING")
	}

	err = s.CompleteJob(job.ID,
		&model.NodeMapping{SyncRootID: "root1", LocalPath: "/a.txt", NodeUID: "n1", ParentNodeUID: "root"},
		&model.FileHash{SyncRootID: "root1", LocalPath: "/a.txt", ContentHash: "deadbeef"},
		&model.FileState{SyncRootID: "root1", LocalPath: "/a.txt", ChangeToken: "1:1"},
	)
	if err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	nm, ok, err := s.GetNodeMapping("root1", "/a.txt")
	if err != nil || !ok {
		t.Fatalf("GetNodeMapping() = %v, %v, %v", nm, ok, err)
	}
	if nm.NodeUID != "n1" {
		t.Errorf("NodeUID = %q, want n1", nm.NodeUID)
	}

	active, ok, err := s.FindActiveJob("root1", "/a.txt")
	if err != nil {
		t.Fatalf("FindActiveJob() error = %v", err)
	}
	if ok {
		t.Errorf("FindActiveJob() found %v after completion, want none (SYNCED excluded)", active)
	}
}

func TestClaimNext_HonorsRetryAt(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	id, err := s.Enqueue(&model.SyncJob{SyncRootID: "root1", EventType: model.EventCreate, LocalPath: "/a.txt", CreatedAt: now}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	future := now.Add(time.Hour)
	if err := s.FailJob(id, "transient", &future, false); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	_, ok, err := s.ClaimNext(now)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if ok {
		t.Error("ClaimNext() claimed a job whose retryAt is in the future")
	}

	_, ok, err = s.ClaimNext(future.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("ClaimNext() at future time = %v, %v", ok, err)
	}
}

func TestFailJob_BlocksWhenRequested(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	id, _ := s.Enqueue(&model.SyncJob{SyncRootID: "root1", EventType: model.EventCreate, LocalPath: "/a.txt", CreatedAt: now}, 0)

	if err := s.FailJob(id, "permanent failure", nil, true); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	blocked, err := s.ListBlocked(10)
	if err != nil {
		t.Fatalf("ListBlocked() error = %v", err)
	}
	if len(blocked) != 1 || blocked[0].ID != id {
		t.Fatalf("ListBlocked() = %v, want [job %d]", blocked, id)
	}
	if blocked[0].LastError != "permanent failure" {
		t.Errorf("LastError = %q", blocked[0].LastError)
	}
}

func TestCompleteRename_RewritesSubtree(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	for _, p := range []string{"/dir", "/dir/a.txt", "/dir/sub/b.txt"} {
		if err := s.PutFileState(&model.FileState{SyncRootID: "root1", LocalPath: p, ChangeToken: "1:1"}); err != nil {
			t.Fatalf("seeding file state %s: %v", p, err)
		}
	}

	id, err := s.Enqueue(&model.SyncJob{
		SyncRootID: "root1", EventType: model.EventRename, LocalPath: "/dir2", OldLocalPath: "/dir", CreatedAt: now,
	}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := s.CompleteRename(id, "root1", "/dir", "/dir2", "", true); err != nil {
		t.Fatalf("CompleteRename() error = %v", err)
	}

	for _, want := range []string{"/dir2", "/dir2/a.txt", "/dir2/sub/b.txt"} {
		if _, ok, err := s.GetFileState("root1", want); err != nil || !ok {
			t.Errorf("expected file_state row at %s after rename, ok=%v err=%v", want, ok, err)
		}
	}
	for _, stale := range []string{"/dir", "/dir/a.txt", "/dir/sub/b.txt"} {
		if _, ok, _ := s.GetFileState("root1", stale); ok {
			t.Errorf("stale file_state row still present at %s after rename", stale)
		}
	}
}

func TestCompleteDelete_RemovesSubtree(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	for _, p := range []string{"/dir", "/dir/a.txt"} {
		s.PutFileState(&model.FileState{SyncRootID: "root1", LocalPath: p, ChangeToken: "1:1"})
	}

	id, _ := s.Enqueue(&model.SyncJob{SyncRootID: "root1", EventType: model.EventDelete, LocalPath: "/dir", CreatedAt: now}, 0)

	if err := s.CompleteDelete(id, "root1", "/dir"); err != nil {
		t.Fatalf("CompleteDelete() error = %v", err)
	}

	for _, p := range []string{"/dir", "/dir/a.txt"} {
		if _, ok, _ := s.GetFileState("root1", p); ok {
			t.Errorf("file_state row at %s survived CompleteDelete", p)
		}
	}
}

func TestStartupRecovery_ResetsProcessingJobs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	id, _ := s.Enqueue(&model.SyncJob{SyncRootID: "root1", EventType: model.EventCreate, LocalPath: "/a.txt", CreatedAt: now}, 0)
	if _, ok, err := s.ClaimNext(now); err != nil || !ok {
		t.Fatalf("ClaimNext() setup failed: ok=%v err=%v", ok, err)
	}

	n, err := s.StartupRecovery(now.Add(time.Minute))
	if err != nil {
		t.Fatalf("StartupRecovery() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("StartupRecovery() recovered %d jobs, want 1", n)
	}

	job, ok, err := s.ClaimNext(now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("ClaimNext() after recovery = %v, %v, %v", job, ok, err)
	}
	if job.ID != id {
		t.Errorf("recovered job id = %d, want %d", job.ID, id)
	}
}

func TestSignalQueue_FIFO(t *testing.T) {
	s := openTestStore(t)

	for _, tag := range []model.SignalTag{model.SignalPause, model.SignalResume, model.SignalStop} {
		if err := s.PushSignal(tag); err != nil {
			t.Fatalf("PushSignal(%s) error = %v", tag, err)
		}
	}

	for _, want := range []model.SignalTag{model.SignalPause, model.SignalResume, model.SignalStop} {
		got, ok, err := s.PopSignal()
		if err != nil || !ok {
			t.Fatalf("PopSignal() = %v, %v, %v", got, ok, err)
		}
		if got != want {
			t.Errorf("PopSignal() = %s, want %s", got, want)
		}
	}

	_, ok, err := s.PopSignal()
	if err != nil {
		t.Fatalf("PopSignal() on empty queue error = %v", err)
	}
	if ok {
		t.Error("PopSignal() returned a signal from an empty queue")
	}
}

func TestConvertToDeleteAndCreate(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	id, _ := s.Enqueue(&model.SyncJob{SyncRootID: "root1", EventType: model.EventUpdate, LocalPath: "/a.txt", CreatedAt: now}, 0)

	if err := s.ConvertToDeleteAndCreate(id, now); err != nil {
		t.Fatalf("ConvertToDeleteAndCreate() error = %v", err)
	}

	job, ok, err := s.ClaimNext(now)
	if err != nil || !ok {
		t.Fatalf("ClaimNext() after conversion = %v, %v, %v", job, ok, err)
	}
	if job.EventType != model.EventDeleteAndCreate {
		t.Errorf("EventType = %s, want DELETE_AND_CREATE", job.EventType)
	}
	if job.NRetries != 0 {
		t.Errorf("NRetries = %d, want reset to 0", job.NRetries)
	}
}

func TestPruneSynced(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	id, _ := s.Enqueue(&model.SyncJob{SyncRootID: "root1", EventType: model.EventCreate, LocalPath: "/a.txt", CreatedAt: old}, 0)
	job, _, _ := s.ClaimNext(old)
	s.CompleteJob(job.ID, nil, nil, nil)

	n, err := s.PruneSynced(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("PruneSynced() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("PruneSynced() pruned %d, want 1", n)
	}

	recent, err := s.ListRecent(10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	for _, j := range recent {
		if j.ID == id {
			t.Error("ListRecent() still shows pruned job")
		}
	}
}
