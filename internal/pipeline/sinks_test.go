package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleet-safety/monitor/internal/domain"
)

type fakeAlertStore struct {
	mu       sync.Mutex
	inserted []domain.AlertEvent
	fail     error
}

func (f *fakeAlertStore) InsertAlert(ctx context.Context, alert domain.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.inserted = append(f.inserted, alert)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	dup       bool
	published []domain.AlertEvent
	dedupSet  int
}

func (f *fakePublisher) CheckAlertDedup(ctx context.Context, vehicleID string, kind domain.AlertKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dup, nil
}

func (f *fakePublisher) SetAlertDedup(ctx context.Context, vehicleID string, kind domain.AlertKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedupSet++
	return nil
}

func (f *fakePublisher) PublishAlert(ctx context.Context, alert domain.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, alert)
	return nil
}

type fakeRecordStore struct {
	mu      sync.Mutex
	batches [][]domain.ComplianceRecord
}

func (f *fakeRecordStore) BatchInsertRecords(ctx context.Context, records []domain.ComplianceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := append([]domain.ComplianceRecord(nil), records...)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeRecordStore) totalRecords() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeLiveStore struct {
	mu      sync.Mutex
	updates []domain.VehicleState
}

func (f *fakeLiveStore) UpdateLiveState(ctx context.Context, state domain.VehicleState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, state)
	return nil
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testAlert(id string) domain.AlertEvent {
	return domain.AlertEvent{
		ID:        id,
		VehicleID: "VEH001",
		Kind:      domain.AlertSpeedViolation,
		Severity:  domain.SeverityWarning,
		Timestamp: t0,
	}
}

func TestAlertSinkPersistsAndPublishes(t *testing.T) {
	db := &fakeAlertStore{}
	pub := &fakePublisher{}
	sink := NewAlertSink(NewQueue[domain.AlertEvent](8, nil), db, pub, testLogger())

	sink.handle(context.Background(), testAlert("a-1"))

	if len(db.inserted) != 1 {
		t.Errorf("inserted = %d, want 1", len(db.inserted))
	}
	if len(pub.published) != 1 || pub.dedupSet != 1 {
		t.Errorf("published = %d dedupSet = %d, want 1 and 1", len(pub.published), pub.dedupSet)
	}
}

func TestAlertSinkSkipsDuplicatePublish(t *testing.T) {
	db := &fakeAlertStore{}
	pub := &fakePublisher{dup: true}
	sink := NewAlertSink(NewQueue[domain.AlertEvent](8, nil), db, pub, testLogger())

	sink.handle(context.Background(), testAlert("a-1"))

	// Persistence still happens; only the live publish is suppressed.
	if len(db.inserted) != 1 {
		t.Errorf("inserted = %d, want 1", len(db.inserted))
	}
	if len(pub.published) != 0 {
		t.Errorf("published = %d, want 0", len(pub.published))
	}
}

func TestAlertSinkSurvivesStoreFailure(t *testing.T) {
	db := &fakeAlertStore{fail: errors.New("db down")}
	pub := &fakePublisher{}
	sink := NewAlertSink(NewQueue[domain.AlertEvent](8, nil), db, pub, testLogger())

	sink.handle(context.Background(), testAlert("a-1"))

	if len(pub.published) != 1 {
		t.Error("insert failure suppressed the live publish")
	}
}

func TestAlertSinkRunDrainsQueue(t *testing.T) {
	q := NewQueue[domain.AlertEvent](8, nil)
	db := &fakeAlertStore{}
	sink := NewAlertSink(q, db, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	q.Push(testAlert("a-1"))
	q.Push(testAlert("a-2"))
	waitFor(t, func() bool {
		db.mu.Lock()
		defer db.mu.Unlock()
		return len(db.inserted) == 2
	}, "both alerts inserted")

	cancel()
	<-done
}

func TestRecordSinkFlushesOnBatchSize(t *testing.T) {
	q := NewQueue[domain.ComplianceRecord](64, nil)
	db := &fakeRecordStore{}
	sink := NewRecordSink(q, db, 3, 10000, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		q.Push(domain.ComplianceRecord{ID: string(rune('a' + i)), VehicleID: "VEH001"})
	}

	// Flush interval is far away; only the size trigger can fire here.
	waitFor(t, func() bool {
		db.mu.Lock()
		defer db.mu.Unlock()
		return len(db.batches) == 1 && len(db.batches[0]) == 3
	}, "full batch flushed")

	cancel()
	<-done
}

func TestRecordSinkFlushesPartialBatchOnInterval(t *testing.T) {
	q := NewQueue[domain.ComplianceRecord](64, nil)
	db := &fakeRecordStore{}
	sink := NewRecordSink(q, db, 100, 20, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	q.Push(domain.ComplianceRecord{ID: "r-1", VehicleID: "VEH001"})

	waitFor(t, func() bool { return db.totalRecords() == 1 }, "partial batch flushed on interval")

	cancel()
	<-done
}

func TestRecordSinkFlushesOnClose(t *testing.T) {
	q := NewQueue[domain.ComplianceRecord](64, nil)
	db := &fakeRecordStore{}
	sink := NewRecordSink(q, db, 100, 50, testLogger())

	q.Push(domain.ComplianceRecord{ID: "r-1", VehicleID: "VEH001"})
	q.Push(domain.ComplianceRecord{ID: "r-2", VehicleID: "VEH001"})
	q.Close()

	done := make(chan struct{})
	go func() {
		sink.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after queue close")
	}
	if db.totalRecords() != 2 {
		t.Errorf("records flushed = %d, want 2", db.totalRecords())
	}
}

func TestStateSinkCollapsesToLatest(t *testing.T) {
	q := NewQueue[domain.VehicleState](64, nil)
	live := &fakeLiveStore{}
	sink := NewStateSink(q, live, testLogger())

	// Queue three snapshots for the same vehicle before the sink runs; it
	// must write only the newest.
	for i := 1; i <= 3; i++ {
		q.Push(domain.VehicleState{VehicleID: "VEH001", LastSpeedKmh: float64(i * 10)})
	}
	q.Push(domain.VehicleState{VehicleID: "VEH002", LastSpeedKmh: 55})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		live.mu.Lock()
		defer live.mu.Unlock()
		return len(live.updates) == 2
	}, "collapsed updates written")

	live.mu.Lock()
	for _, u := range live.updates {
		if u.VehicleID == "VEH001" && u.LastSpeedKmh != 30 {
			t.Errorf("VEH001 update = %+v, want latest speed 30", u)
		}
	}
	live.mu.Unlock()

	cancel()
	<-done
}
