package common

import (
	"errors"
	"testing"
)

type stubPauses map[string]bool

func (p stubPauses) IsPaused(module string) bool { return p[module] }

func TestGuardBlocksPausedModule(t *testing.T) {
	pauses := stubPauses{"lending": true}
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "lendbook"); err != nil {
		t.Fatalf("unpaused module rejected: %v", err)
	}
}

func TestGuardNilViewAllows(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view should allow: %v", err)
	}
	if err := Guard(stubPauses{}, ""); err != nil {
		t.Fatalf("empty module should allow: %v", err)
	}
}

func TestOpLockRejectsNestedAcquire(t *testing.T) {
	locks := NewOpLock()
	release, err := locks.Acquire("loan:7")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := locks.Acquire("loan:7"); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
	release()
	release2, err := locks.Acquire("loan:7")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestOpLockRollsBackOnPartialConflict(t *testing.T) {
	locks := NewOpLock()
	release, err := locks.Acquire("user:a")
	if err != nil {
		t.Fatalf("seed acquire: %v", err)
	}
	defer release()

	if _, err := locks.Acquire("loan:1", "user:a"); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// loan:1 must have been rolled back by the failed acquire.
	releaseLoan, err := locks.Acquire("loan:1")
	if err != nil {
		t.Fatalf("loan key leaked by failed acquire: %v", err)
	}
	releaseLoan()
}

func TestOpLockCollapsesDuplicateKeys(t *testing.T) {
	locks := NewOpLock()
	release, err := locks.Acquire("user:a", "user:a")
	if err != nil {
		t.Fatalf("duplicate keys should not self-conflict: %v", err)
	}
	release()
}

func TestOpLockReleaseIsIdempotent(t *testing.T) {
	locks := NewOpLock()
	release, err := locks.Acquire("reserve:USDC")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()
	again, err := locks.Acquire("reserve:USDC")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again()
}
