package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalGateExclusion(t *testing.T) {
	g := New(nil, zerolog.Nop())
	ctx := context.Background()

	release, err := g.Acquire(ctx, "key", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := g.Acquire(ctx, "key", time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("second acquire = %v, want ErrBusy", err)
	}

	release()
	release2, err := g.Acquire(ctx, "key", time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestLocalGateIndependentKeys(t *testing.T) {
	g := New(nil, zerolog.Nop())
	ctx := context.Background()

	releaseA, err := g.Acquire(ctx, "a", time.Minute)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	releaseB, err := g.Acquire(ctx, "b", time.Minute)
	if err != nil {
		t.Fatalf("acquire b blocked by a: %v", err)
	}
	releaseB()
}

func TestLocalGateDoubleReleaseIsSafe(t *testing.T) {
	g := New(nil, zerolog.Nop())
	ctx := context.Background()

	release, err := g.Acquire(ctx, "key", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()

	// A stale release must not free a successor's lease.
	release2, err := g.Acquire(ctx, "key", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	release()
	if _, err := g.Acquire(ctx, "key", time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("stale release freed a held lease: %v", err)
	}
	release2()
}

func TestRunReleasesOnReturn(t *testing.T) {
	g := New(nil, zerolog.Nop())
	ctx := context.Background()

	ran := false
	err := g.Run(ctx, "key", time.Minute, func(ctx context.Context) error {
		ran = true
		if _, err := g.Acquire(ctx, "key", time.Minute); !errors.Is(err, ErrBusy) {
			t.Errorf("lease not held inside Run: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}

	release, err := g.Acquire(ctx, "key", time.Minute)
	if err != nil {
		t.Fatalf("lease not released after Run: %v", err)
	}
	release()
}

func TestRunPropagatesError(t *testing.T) {
	g := New(nil, zerolog.Nop())
	boom := errors.New("job failed")

	err := g.Run(context.Background(), "key", time.Minute, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestKeyLanes(t *testing.T) {
	if FeeSyncKey("bitmart") == FeeSyncKey("bingx") {
		t.Error("fee sync lanes collide across exchanges")
	}
	if WithdrawKey("bitmart", "u1") == WithdrawKey("bitmart", "u2") {
		t.Error("withdraw lanes collide across users")
	}
	if FeeSyncKey("bitmart") == WithdrawKey("bitmart", "u1") {
		t.Error("fee sync and withdraw lanes collide")
	}
}
