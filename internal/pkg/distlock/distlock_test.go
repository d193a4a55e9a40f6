package distlock

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// REDIS LOCK
// =============================================================================

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLock_ExclusiveUntilReleased(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "campaign-send:c1", time.Minute)
	b := NewRedisLock(client, "campaign-send:c1", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v; want true", ok, err)
	}
	if !mr.Exists("sendquill:lock:campaign-send:c1") {
		t.Fatal("lock key not written with prefix")
	}

	ok, err = b.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second Acquire() = %v, %v; want false", ok, err)
	}

	// Releasing with the wrong token must not free the lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("foreign Release() error: %v", err)
	}
	if !mr.Exists("sendquill:lock:campaign-send:c1") {
		t.Fatal("foreign Release() removed the lock")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire() after release = %v, %v; want true", ok, err)
	}
}

func TestRedisLock_ExpiresAndExtends(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("Acquire() failed")
	}
	if err := a.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if !mr.Exists("sendquill:lock:k") {
		t.Fatal("extended lock expired early")
	}

	mr.FastForward(2 * time.Minute)
	b := NewRedisLock(client, "k", time.Second)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("Acquire() after expiry failed")
	}
}

func TestRedisLock_RefreshDetectsLoss(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Minute)
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("Acquire() failed")
	}

	// Refreshing well inside the TTL keeps the lock past its original expiry.
	mr.FastForward(45 * time.Second)
	if err := a.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	mr.FastForward(45 * time.Second)
	if !mr.Exists("sendquill:lock:k") {
		t.Fatal("refreshed lock expired early")
	}

	// Once the lease lapses and another holder takes over, Refresh reports loss.
	mr.FastForward(2 * time.Minute)
	b := NewRedisLock(client, "k", time.Minute)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("Acquire() after expiry failed")
	}
	if err := a.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("Refresh() = %v; want ErrLockLost", err)
	}
	if err := a.Extend(ctx, time.Minute); !errors.Is(err, ErrLockLost) {
		t.Fatalf("Extend() = %v; want ErrLockLost", err)
	}
	// The new holder's lease is untouched.
	if err := b.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() by current holder error: %v", err)
	}
}

// =============================================================================
// RUN / FACTORY
// =============================================================================

func TestRun_ReturnsErrNotAcquiredWhenHeld(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	factory := NewFactory(client, nil, time.Minute)

	held := factory("campaign-send:c1")
	if ok, _ := held.Acquire(ctx); !ok {
		t.Fatal("Acquire() failed")
	}

	called := false
	err := Run(ctx, factory("campaign-send:c1"), func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("Run() error = %v; want ErrNotAcquired", err)
	}
	if called {
		t.Fatal("fn ran while lock was held")
	}
}

func TestRun_ReleasesAfterFn(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	factory := NewFactory(client, nil, time.Minute)

	want := errors.New("send failed")
	err := Run(ctx, factory("c2"), func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Run() error = %v; want %v", err, want)
	}
	if mr.Exists("sendquill:lock:c2") {
		t.Fatal("lock not released after Run")
	}
}

// =============================================================================
// POSTGRES ADVISORY LOCK
// =============================================================================

func TestPGAdvisoryLock_AcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "campaign-send:c1")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v; want true", ok, err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGAdvisoryLock_NotAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	lock := NewLock(nil, db, "campaign-send:c1", time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(context.Background())
	if err != nil || ok {
		t.Fatalf("Acquire() = %v, %v; want false", ok, err)
	}
	// Nothing held, so Release is a no-op.
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGAdvisoryLock_RefreshPingsHeldSession(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "campaign-send:c1")
	ctx := context.Background()

	if err := lock.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("Refresh() before Acquire = %v; want ErrLockLost", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection reset"))

	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v; want true", ok, err)
	}
	if err := lock.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if err := lock.Refresh(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("Refresh() on dead session = %v; want ErrLockLost", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewLock_SameKeySameAdvisoryID(t *testing.T) {
	a := NewPGAdvisoryLock(nil, "campaign-send:c1")
	b := NewPGAdvisoryLock(nil, "campaign-send:c1")
	c := NewPGAdvisoryLock(nil, "campaign-send:c2")
	if a.lockID != b.lockID {
		t.Error("same key produced different lock IDs")
	}
	if a.lockID == c.lockID {
		t.Error("different keys produced the same lock ID")
	}
}
