package access

import (
	"context"
	"errors"
	"testing"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(NewInMemory())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func seedPrimary(t *testing.T, l *Ledger, childID, parentID string) Grant {
	t.Helper()
	g, err := l.GrantPrimary(context.Background(), childID, Actor{UserID: parentID, Role: RoleParent})
	if err != nil {
		t.Fatalf("GrantPrimary: %v", err)
	}
	return g
}

func TestGrantPrimaryRequiresParentRole(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.GrantPrimary(context.Background(), "child-1", Actor{UserID: "t-1", Role: RoleTherapist})
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestPrimaryImpliesEveryCapability(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	for _, c := range Registry() {
		ok, err := l.Evaluate(ctx, "child-1", "parent-1", c)
		if err != nil {
			t.Fatalf("Evaluate(%s): %v", c, err)
		}
		if !ok {
			t.Fatalf("primary should hold %s regardless of stored set", c)
		}
	}
}

func TestGrantRequiresPrimaryGrantor(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	_, err := l.Grant(ctx, "child-1", "stranger", Actor{UserID: "t-1", Role: RoleTherapist}, []Capability{CapViewReport}, false)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSecondActivePrimaryRejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	_, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "parent-2", Role: RoleParent}, nil, true)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDuplicateActiveGrantRejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	target := Actor{UserID: "t-1", Role: RoleTherapist}
	if _, err := l.Grant(ctx, "child-1", "parent-1", target, []Capability{CapViewReport}, false); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := l.Grant(ctx, "child-1", "parent-1", target, []Capability{CapWriteNote}, false); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestNonParentPrimaryRejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	_, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "t-1", Role: RoleTherapist}, nil, true)
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestEvaluateStoredSet(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	if _, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "t-1", Role: RoleTherapist}, []Capability{CapViewReport, CapWriteNote}, false); err != nil {
		t.Fatalf("grant: %v", err)
	}

	ok, _ := l.Evaluate(ctx, "child-1", "t-1", CapViewReport)
	if !ok {
		t.Fatal("VIEW_REPORT should be granted")
	}
	ok, _ = l.Evaluate(ctx, "child-1", "t-1", CapAssignMission)
	if ok {
		t.Fatal("ASSIGN_MISSION was never granted")
	}
}

func TestEvaluateStrangerIsFalseNotError(t *testing.T) {
	l := newTestLedger(t)
	seedPrimary(t, l, "child-1", "parent-1")

	ok, err := l.Evaluate(context.Background(), "child-1", "nobody", CapViewReport)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Fatal("user without any grant must evaluate to false")
	}
}

func TestReviseReplacesSetAndRejectsPrimaryTarget(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	if _, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "t-1", Role: RoleTherapist}, []Capability{CapViewReport}, false); err != nil {
		t.Fatalf("grant: %v", err)
	}
	g, err := l.Revise(ctx, "child-1", "parent-1", "t-1", []Capability{CapWriteNote})
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if g.Has(CapViewReport) || !g.Has(CapWriteNote) {
		t.Fatalf("revise must fully replace the set, got %v", g.Capabilities)
	}

	if _, err := l.Revise(ctx, "child-1", "parent-1", "parent-1", nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("revising the primary must fail, got %v", err)
	}
}

func TestRevokeDeactivatesAndIsIrreversible(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	if _, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "t-1", Role: RoleTherapist}, []Capability{CapViewReport}, false); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := l.Revoke(ctx, "child-1", "parent-1", "t-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ok, _ := l.Evaluate(ctx, "child-1", "t-1", CapViewReport)
	if ok {
		t.Fatal("revoked grant must not evaluate")
	}
	// A fresh grant restores access through a new record.
	if _, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "t-1", Role: RoleTherapist}, []Capability{CapViewReport}, false); err != nil {
		t.Fatalf("fresh grant after revoke: %v", err)
	}
}

func TestRevokePrimaryRejected(t *testing.T) {
	l := newTestLedger(t)
	seedPrimary(t, l, "child-1", "parent-1")

	err := l.Revoke(context.Background(), "child-1", "parent-1", "parent-1")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestTransferPrimary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	// Transfer to a user without a prior grant must fail.
	err := l.TransferPrimary(ctx, "child-1", "parent-1", "parent-2")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	if _, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "parent-2", Role: RoleParent}, []Capability{CapViewReport}, false); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := l.TransferPrimary(ctx, "child-1", "parent-1", "parent-2"); err != nil {
		t.Fatalf("TransferPrimary: %v", err)
	}

	// Exactly one active primary afterwards, and it is parent-2.
	grants, err := l.GrantsForChild(ctx, "child-1", "parent-2")
	if err != nil {
		t.Fatalf("GrantsForChild: %v", err)
	}
	var primaries int
	for _, g := range grants {
		if g.IsActive && g.IsPrimary {
			primaries++
			if g.UserID != "parent-2" {
				t.Fatalf("primary should be parent-2, got %s", g.UserID)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one active primary, got %d", primaries)
	}

	// Old primary keeps its record and capability history but no longer passes
	// capability checks beyond its stored set (which is empty for a founder).
	ok, _ := l.Evaluate(ctx, "child-1", "parent-1", CapManage)
	if ok {
		t.Fatal("demoted primary must not keep full access")
	}
}

func TestTransferRequiresViewReport(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	if _, err := l.Grant(ctx, "child-1", "parent-1", Actor{UserID: "parent-2", Role: RoleParent}, []Capability{CapPlayGame}, false); err != nil {
		t.Fatalf("grant: %v", err)
	}
	err := l.TransferPrimary(ctx, "child-1", "parent-1", "parent-2")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGrantsForChildGatedToPrimary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	if _, err := l.GrantsForChild(ctx, "child-1", "t-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ledger read by non-primary must look not-found, got %v", err)
	}
}

func TestDeactivateAllIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPrimary(t, l, "child-1", "parent-1")

	if err := l.DeactivateAll(ctx, "child-1"); err != nil {
		t.Fatalf("DeactivateAll: %v", err)
	}
	if err := l.DeactivateAll(ctx, "child-1"); err != nil {
		t.Fatalf("repeat DeactivateAll: %v", err)
	}
	ok, _ := l.Evaluate(ctx, "child-1", "parent-1", CapViewReport)
	if ok {
		t.Fatal("deactivated primary must not evaluate")
	}
}
