package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aggronation/internal/models"
	"aggronation/internal/store"
	"aggronation/pkg/clients"
)

func newTracker(t *testing.T) (*Tracker, *store.Memory, string) {
	t.Helper()
	mem := store.NewMemory()
	src, err := mem.CreateSource(context.Background(), models.Source{
		Name: "s", Type: models.SourceTypeFeed, URL: "https://example.com", Enabled: true,
		FetchIntervalMinutes: 5, MaxItemsPerCycle: 5, Priority: models.PriorityLow,
	})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	return NewTracker(Config{Store: mem}), mem, src.ID
}

func TestRecordErrorThenSuccess(t *testing.T) {
	tr, _, id := newTracker(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := tr.RecordError(ctx, id, "fetch failed"); err != nil {
			t.Fatalf("record error: %v", err)
		}
		h, _ := tr.Snapshot(ctx, id)
		if h.ConsecutiveErrors != i {
			t.Fatalf("expected %d consecutive errors, got %d", i, h.ConsecutiveErrors)
		}
		if h.LastFetched != nil || h.TotalFetched != 0 {
			t.Fatalf("error must not touch success fields: %+v", h)
		}
		if h.LastError == nil || *h.LastError != "fetch failed" {
			t.Fatalf("expected last error, got %+v", h.LastError)
		}
	}

	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }
	if err := tr.RecordSuccess(ctx, id, 4); err != nil {
		t.Fatalf("record success: %v", err)
	}
	h, _ := tr.Snapshot(ctx, id)
	if h.ConsecutiveErrors != 0 || h.LastError != nil || h.TotalFetched != 4 {
		t.Fatalf("unexpected health after success %+v", h)
	}
	if h.LastFetched == nil || !h.LastFetched.Equal(fixed) {
		t.Fatalf("expected last fetched %v, got %v", fixed, h.LastFetched)
	}

	if err := tr.RecordSuccess(ctx, id, 4); err != nil {
		t.Fatalf("record success: %v", err)
	}
	h, _ = tr.Snapshot(ctx, id)
	if h.TotalFetched != 8 {
		t.Fatalf("total must accumulate per cycle, got %d", h.TotalFetched)
	}
}

func TestRecordOnDeletedSourceIsNoop(t *testing.T) {
	tr, mem, id := newTracker(t)
	if err := mem.DeleteSource(context.Background(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tr.RecordSuccess(context.Background(), id, 1); err != nil {
		t.Fatalf("expected no error for removed source, got %v", err)
	}
	if err := tr.RecordError(context.Background(), id, "x"); err != nil {
		t.Fatalf("expected no error for removed source, got %v", err)
	}
	tr.Forget(id)
}

func TestConcurrentRecordsAreNotLost(t *testing.T) {
	tr, _, id := newTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.RecordError(ctx, id, "e")
		}()
	}
	wg.Wait()

	h, _ := tr.Snapshot(ctx, id)
	if h.ConsecutiveErrors != 50 {
		t.Fatalf("expected 50 consecutive errors, got %d", h.ConsecutiveErrors)
	}
}

type hungHealthStore struct {
	store.Store
	release chan struct{}
}

func (h hungHealthStore) UpdateSourceHealth(context.Context, string, store.HealthUpdate) error {
	<-h.release
	return nil
}

func TestRecordGivesUpOnHungStore(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tr := NewTracker(Config{Store: hungHealthStore{release: release}, PersistTimeout: 30 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- tr.RecordError(context.Background(), "src", "boom") }()
	select {
	case err := <-done:
		if !errors.Is(err, clients.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RecordError did not return after the persist timeout")
	}

	// The per-source lock must be free again for the next cycle.
	go func() { done <- tr.RecordSuccess(context.Background(), "src", 1) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("per-source lock still held after a timed out update")
	}
}
