package queue

import (
	"errors"
	"testing"
	"time"

	"pdsync/internal/model"
	"pdsync/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedJob(t *testing.T, s *store.SQLiteStore, eventType model.EventType, path string) int64 {
	t.Helper()
	id, err := s.Enqueue(&model.SyncJob{
		SyncRootID: "root1", EventType: eventType, LocalPath: path, RemotePath: "/remote/" + path,
		CreatedAt: time.Unix(1, 0),
	}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return id
}

func activeJob(t *testing.T, s *store.SQLiteStore, path string) *model.SyncJob {
	t.Helper()
	job, ok, err := s.FindActiveJob("root1", path)
	if err != nil || !ok {
		t.Fatalf("FindActiveJob(%s) = %v, %v, %v", path, job, ok, err)
	}
	return job
}

func TestHandle_PermanentBlocksImmediately(t *testing.T) {
	s := newTestStore(t)
	id := seedJob(t, s, model.EventCreate, "a.txt")
	job := activeJob(t, s, "a.txt")
	job.ID = id

	outcome, err := Handle(s, fixedClock{time.Unix(100, 0)}, job, model.ErrPermanent, errors.New("decrypt failure"), 0)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if outcome != OutcomeBlocked {
		t.Fatalf("outcome = %v, want BLOCKED", outcome)
	}

	blocked, err := s.ListBlocked(10)
	if err != nil {
		t.Fatalf("ListBlocked() error = %v", err)
	}
	if len(blocked) != 1 || blocked[0].ID != id {
		t.Fatalf("ListBlocked() = %+v, want job %d", blocked, id)
	}
}

func TestHandle_ClientStateBlocksAfterMaxRetries(t *testing.T) {
	s := newTestStore(t)
	id := seedJob(t, s, model.EventRename, "a.txt")

	for i := 0; i < clientStateMaxRetries; i++ {
		job := activeJob(t, s, "a.txt")
		job.ID = id
		outcome, err := Handle(s, fixedClock{time.Unix(int64(i)*10, 0)}, job, model.ErrClientState, errors.New("missing node mapping"), 0)
		if err != nil {
			t.Fatalf("Handle() iteration %d error = %v", i, err)
		}
		if i < clientStateMaxRetries-1 {
			if outcome != OutcomeRescheduled {
				t.Fatalf("iteration %d outcome = %v, want RESCHEDULED", i, outcome)
			}
		} else {
			if outcome != OutcomeBlocked {
				t.Fatalf("iteration %d outcome = %v, want BLOCKED", i, outcome)
			}
		}
	}

	blocked, err := s.ListBlocked(10)
	if err != nil {
		t.Fatalf("ListBlocked() error = %v", err)
	}
	if len(blocked) != 1 {
		t.Fatalf("ListBlocked() = %+v, want exactly one blocked job", blocked)
	}
}

func TestHandle_ReuploadConvertsAtSecondRetry(t *testing.T) {
	s := newTestStore(t)
	id := seedJob(t, s, model.EventUpdate, "a.txt")

	first := activeJob(t, s, "a.txt")
	first.ID = id
	outcome, err := Handle(s, fixedClock{time.Unix(0, 0)}, first, model.ErrReuploadNeeded, errors.New("integrity mismatch"), 0)
	if err != nil {
		t.Fatalf("Handle() first call error = %v", err)
	}
	if outcome != OutcomeRescheduled {
		t.Fatalf("first outcome = %v, want RESCHEDULED", outcome)
	}

	second := activeJob(t, s, "a.txt")
	second.ID = id
	if second.NRetries != 1 {
		t.Fatalf("NRetries after first failure = %d, want 1", second.NRetries)
	}

	outcome, err = Handle(s, fixedClock{time.Unix(10, 0)}, second, model.ErrReuploadNeeded, errors.New("integrity mismatch"), 0)
	if err != nil {
		t.Fatalf("Handle() second call error = %v", err)
	}
	if outcome != OutcomeConverted {
		t.Fatalf("second outcome = %v, want CONVERTED_DELETE_AND_CREATE", outcome)
	}

	converted := activeJob(t, s, "a.txt")
	if converted.EventType != model.EventDeleteAndCreate {
		t.Fatalf("EventType = %v, want DELETE_AND_CREATE", converted.EventType)
	}
	if converted.NRetries != 0 {
		t.Fatalf("NRetries after conversion = %d, want reset to 0", converted.NRetries)
	}
}

func TestHandle_RateLimitedHonorsServerHint(t *testing.T) {
	s := newTestStore(t)
	id := seedJob(t, s, model.EventCreate, "a.txt")
	job := activeJob(t, s, "a.txt")
	job.ID = id

	now := time.Unix(1000, 0)
	outcome, err := Handle(s, fixedClock{now}, job, model.ErrRateLimited, errors.New("429"), 90*time.Second)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if outcome != OutcomeRescheduled {
		t.Fatalf("outcome = %v, want RESCHEDULED", outcome)
	}

	rescheduled := activeJob(t, s, "a.txt")
	wantRetryAt := now.Add(90 * time.Second)
	if !rescheduled.RetryAt.Equal(wantRetryAt) {
		t.Errorf("RetryAt = %v, want %v (server hint honored)", rescheduled.RetryAt, wantRetryAt)
	}
}

func TestHandle_RateLimitedDefaultsWithoutHint(t *testing.T) {
	s := newTestStore(t)
	id := seedJob(t, s, model.EventCreate, "a.txt")
	job := activeJob(t, s, "a.txt")
	job.ID = id

	now := time.Unix(1000, 0)
	if _, err := Handle(s, fixedClock{now}, job, model.ErrRateLimited, errors.New("429"), 0); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	rescheduled := activeJob(t, s, "a.txt")
	wantRetryAt := now.Add(rateLimitedDefault)
	if !rescheduled.RetryAt.Equal(wantRetryAt) {
		t.Errorf("RetryAt = %v, want default %v", rescheduled.RetryAt, wantRetryAt)
	}
}

func TestHandle_TransientNetworkBackoffCappedAndJittered(t *testing.T) {
	s := newTestStore(t)
	id := seedJob(t, s, model.EventCreate, "a.txt")
	job := activeJob(t, s, "a.txt")
	job.ID = id
	job.NRetries = 20 // exp(2^20 * 1s) would dwarf the cap

	now := time.Unix(1000, 0)
	if _, err := Handle(s, fixedClock{now}, job, model.ErrTransientNetwork, errors.New("connection reset"), 0); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	rescheduled := activeJob(t, s, "a.txt")
	delay := rescheduled.RetryAt.Sub(now)
	maxWithJitter := transientCap + time.Duration(float64(transientCap)*transientJitterPct)
	if delay <= 0 || delay > maxWithJitter {
		t.Errorf("delay = %v, want within (0, %v]", delay, maxWithJitter)
	}
}

func TestExponentialBackoff_CapsBeforeOverflow(t *testing.T) {
	d := exponentialBackoff(62, time.Second, 5*time.Minute)
	if d != 5*time.Minute {
		t.Errorf("exponentialBackoff(62, ...) = %v, want capped at 5m", d)
	}
}
