package repo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/doxyme-slack-calling/internal/domain"
)

func newReceiptDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRecordEvent_FirstThenDuplicate(t *testing.T) {
	db := newReceiptDB(t)
	ctx := context.Background()
	now := time.Now()

	first, err := RecordEvent(ctx, db, "Ev1", "T1", "call_started", time.Hour, now)
	if err != nil || !first {
		t.Fatalf("first record: first=%v err=%v", first, err)
	}
	again, err := RecordEvent(ctx, db, "Ev1", "T1", "call_started", time.Hour, now.Add(time.Minute))
	if err != nil || again {
		t.Fatalf("duplicate record: first=%v err=%v", again, err)
	}

	var n int64
	db.Model(&domain.EventReceipt{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 receipt row, got %d", n)
	}
}

func TestRecordEvent_ExpiredReceiptIsReplaced(t *testing.T) {
	db := newReceiptDB(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := RecordEvent(ctx, db, "Ev1", "T1", "other", time.Minute, now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	first, err := RecordEvent(ctx, db, "Ev1", "T1", "other", time.Minute, now.Add(2*time.Minute))
	if err != nil || !first {
		t.Fatalf("after expiry: first=%v err=%v", first, err)
	}
}

func TestRecordEvent_EmptyID(t *testing.T) {
	db := newReceiptDB(t)
	if _, err := RecordEvent(context.Background(), db, "  ", "T1", "other", time.Hour, time.Now()); err != ErrEmptyEventID {
		t.Fatalf("expected ErrEmptyEventID, got %v", err)
	}
}

func TestRecordEvent_ConcurrentSameID_OneWinner(t *testing.T) {
	db := newReceiptDB(t)
	ctx := context.Background()
	now := time.Now()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := RecordEvent(ctx, db, "EvRace", "T1", "call_ended", time.Hour, now)
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if first {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one first delivery, got %d", wins)
	}
}

func TestGetEvent(t *testing.T) {
	db := newReceiptDB(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := GetEvent(ctx, db, "missing", now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := RecordEvent(ctx, db, "Ev1", "T9", "call_ended", time.Hour, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec, err := GetEvent(ctx, db, "Ev1", now)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if rec.TeamID != "T9" || rec.Kind != "call_ended" || rec.ReceiptID == "" {
		t.Fatalf("unexpected receipt: %+v", rec)
	}
	if _, err := GetEvent(ctx, db, "Ev1", now.Add(2*time.Hour)); err != ErrNotFound {
		t.Fatalf("expired receipt should be hidden, got %v", err)
	}
}

func TestPurgeExpiredEvents(t *testing.T) {
	db := newReceiptDB(t)
	ctx := context.Background()
	now := time.Now()

	_, _ = RecordEvent(ctx, db, "old", "T1", "other", time.Minute, now.Add(-time.Hour))
	_, _ = RecordEvent(ctx, db, "new", "T1", "other", time.Hour, now)

	n, err := PurgeExpiredEvents(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if _, err := GetEvent(ctx, db, "new", now); err != nil {
		t.Fatalf("live receipt removed: %v", err)
	}
}

func TestReceipts_BindsClockAndTTL(t *testing.T) {
	db := newReceiptDB(t)
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	r := NewReceipts(db, time.Minute)
	r.Now = func() time.Time { return clock }

	if first, err := r.Record(ctx, "Ev1", "T1", "other"); err != nil || !first {
		t.Fatalf("first: %v %v", first, err)
	}
	if first, _ := r.Record(ctx, "Ev1", "T1", "other"); first {
		t.Fatalf("retry should not be first")
	}
	clock = clock.Add(2 * time.Minute)
	if n, err := r.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}
