package mission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/events"
	"careloop.org/internal/ids"
	"careloop.org/internal/note"
)

var (
	parent    = access.Actor{UserID: "parent-1", Role: access.RoleParent}
	therapist = access.Actor{UserID: "ther-1", Role: access.RoleTherapist}
)

const childID = "child-1"

// failingRecorder simulates receipt persistence failure.
type failingRecorder struct {
	fail bool
	next SystemRecorder
}

func (f *failingRecorder) RecordSystem(ctx context.Context, childID, missionID, title, content string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("receipt store unavailable")
	}
	return f.next.RecordSystem(ctx, childID, missionID, title, content)
}

type fixture struct {
	engine   *Engine
	catalog  *Catalog
	ledger   *access.Ledger
	notes    *note.Service
	stream   *events.Stream
	recorder *failingRecorder
	template Template
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	ledger, err := access.NewLedger(access.NewInMemory())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	if _, err := ledger.GrantPrimary(ctx, childID, parent); err != nil {
		t.Fatalf("GrantPrimary: %v", err)
	}
	if _, err := ledger.Grant(ctx, childID, parent.UserID, therapist,
		[]access.Capability{access.CapViewReport, access.CapWriteNote}, false); err != nil {
		t.Fatalf("grant therapist: %v", err)
	}

	notes, err := note.NewService(note.NewInMemory(), ledger)
	if err != nil {
		t.Fatalf("note.NewService: %v", err)
	}
	store := NewInMemory()
	catalog, err := NewCatalog(store)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	tpl, err := catalog.Create(ctx, therapist, TemplateInput{
		Title:        "Mirror faces",
		Description:  "Imitate emotions in a mirror",
		Category:     CategoryEmotionRecognition,
		Difficulty:   DifficultyBeginner,
		Instructions: "Sit with the child in front of a mirror and imitate five emotions.",
		Duration:     15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("catalog.Create: %v", err)
	}

	recorder := &failingRecorder{next: note.SystemLog{Service: notes}}
	stream := events.NewStream()
	engine, err := NewEngine(store, catalog, ledger, recorder, nil, stream)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &fixture{engine: engine, catalog: catalog, ledger: ledger, notes: notes, stream: stream, recorder: recorder, template: tpl}
}

func (f *fixture) assign(t *testing.T, due *time.Time) Mission {
	t.Helper()
	m, err := f.engine.Assign(context.Background(), childID, therapist, f.template.ID, due)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	return m
}

func (f *fixture) systemNotes(t *testing.T) []note.Note {
	t.Helper()
	all, err := f.notes.ListForChild(context.Background(), childID, parent.UserID)
	if err != nil {
		t.Fatalf("ListForChild: %v", err)
	}
	var out []note.Note
	for _, n := range all {
		if n.Kind == note.KindSystem {
			out = append(out, n)
		}
	}
	return out
}

func TestAssignCreatesMissionAndSystemNote(t *testing.T) {
	f := newFixture(t)
	due := time.Now().Add(24 * time.Hour)
	m := f.assign(t, &due)

	if m.Status != StatusAssigned {
		t.Fatalf("expected ASSIGNED, got %s", m.Status)
	}
	if m.TherapistID != therapist.UserID || m.ChildID != childID {
		t.Fatalf("wrong ownership: %+v", m)
	}
	receipts := f.systemNotes(t)
	if len(receipts) != 1 {
		t.Fatalf("expected exactly one system note after assign, got %d", len(receipts))
	}
	if m.SystemNoteID != receipts[0].ID {
		t.Fatalf("mission should link its assignment note")
	}
}

func TestAssignRequiresActiveGrant(t *testing.T) {
	f := newFixture(t)
	outsider := access.Actor{UserID: "ther-2", Role: access.RoleTherapist}
	_, err := f.engine.Assign(context.Background(), childID, outsider, f.template.ID, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unauthorized therapist must see not-found, got %v", err)
	}
}

func TestAssignRejectsInactiveTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.catalog.SetActive(ctx, therapist, f.template.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	_, err := f.engine.Assign(ctx, childID, therapist, f.template.ID, nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAssignRejectsPastDueDate(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Hour)
	_, err := f.engine.Assign(context.Background(), childID, therapist, f.template.ID, &past)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Now().Add(24 * time.Hour)
	m := f.assign(t, &due)

	sub := f.stream.Subscribe(ctx)

	m, err := f.engine.Start(ctx, m.ID, parent)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Status != StatusInProgress || m.StartedAt == nil {
		t.Fatalf("unexpected state after start: %+v", m)
	}

	m, err = f.engine.Complete(ctx, m.ID, parent, "done")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if m.Status != StatusCompleted || m.CompletedAt == nil || m.ParentNote != "done" {
		t.Fatalf("unexpected state after complete: %+v", m)
	}

	select {
	case evt := <-sub:
		if evt.Type != events.TypeMissionCompleted || evt.TherapistID != therapist.UserID {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("MissionCompleted event not published")
	}

	m, err = f.engine.Verify(ctx, m.ID, therapist, "great work")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if m.Status != StatusVerified || m.VerifiedAt == nil || m.TherapistFeedback != "great work" {
		t.Fatalf("unexpected state after verify: %+v", m)
	}

	// assign + start + complete + verify
	if got := len(f.systemNotes(t)); got != 4 {
		t.Fatalf("expected 4 system notes, got %d", got)
	}
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)

	// Verify straight from ASSIGNED.
	if _, err := f.engine.Verify(ctx, m.ID, therapist, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	// Complete straight from ASSIGNED.
	if _, err := f.engine.Complete(ctx, m.ID, parent, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, err := f.engine.Get(ctx, m.ID, parent.UserID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusAssigned {
		t.Fatalf("state must be unchanged, got %s", got.Status)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for from, tos := range map[Status][]Status{
		StatusVerified:  {StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled},
		StatusCancelled: {StatusAssigned, StatusInProgress, StatusCompleted, StatusVerified},
	} {
		for _, to := range tos {
			if CanTransition(from, to) {
				t.Fatalf("%s -> %s must be illegal", from, to)
			}
		}
	}
	if !StatusVerified.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("VERIFIED and CANCELLED must be terminal")
	}
}

func TestCancelOnlyByAssigningTherapist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)

	if _, err := f.engine.Cancel(ctx, m.ID, parent); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("parent cancel must fail, got %v", err)
	}
	m2, err := f.engine.Cancel(ctx, m.ID, therapist)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if m2.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", m2.Status)
	}
	// Terminal: a second cancel is illegal.
	if _, err := f.engine.Cancel(ctx, m.ID, therapist); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel of a cancelled mission must fail, got %v", err)
	}
}

func TestCompleteAbortsWhenReceiptFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)
	if _, err := f.engine.Start(ctx, m.ID, parent); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.recorder.fail = true
	if _, err := f.engine.Complete(ctx, m.ID, parent, "done"); err == nil {
		t.Fatal("complete must fail when the receipt cannot be written")
	}
	f.recorder.fail = false

	got, err := f.engine.Get(ctx, m.ID, parent.UserID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Fatalf("status must remain IN_PROGRESS, got %s", got.Status)
	}
	if got.CompletedAt != nil {
		t.Fatal("completedAt must not be stamped")
	}
}

func TestPhotoLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)
	if _, err := f.engine.Start(ctx, m.ID, parent); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < maxPhotos; i++ {
		name := fmt.Sprintf("photo-%d.jpg", i)
		if _, err := f.engine.AddPhoto(ctx, m.ID, parent, name, "image/jpeg", 512, strings.NewReader("bytes")); err != nil {
			t.Fatalf("AddPhoto %d: %v", i, err)
		}
	}
	_, err := f.engine.AddPhoto(ctx, m.ID, parent, "one-too-many.jpg", "image/jpeg", 512, strings.NewReader("bytes"))
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("11th photo must fail with ErrLimitExceeded, got %v", err)
	}
}

func TestPhotoValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)

	// Photos are not allowed while still ASSIGNED.
	if _, err := f.engine.Start(ctx, m.ID, parent); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.engine.AddPhoto(ctx, m.ID, parent, "notes.pdf", "application/pdf", 512, strings.NewReader("x")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("non-image must fail, got %v", err)
	}
	if _, err := f.engine.AddPhoto(ctx, m.ID, parent, "big.jpg", "image/jpeg", maxPhotoSize+1, strings.NewReader("x")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("oversized photo must fail, got %v", err)
	}

	p, err := f.engine.AddPhoto(ctx, m.ID, parent, "ok.jpg", "image/jpeg", 512, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	if err := f.engine.RemovePhoto(ctx, m.ID, p.ID, parent); err != nil {
		t.Fatalf("RemovePhoto: %v", err)
	}
	if err := f.engine.RemovePhoto(ctx, m.ID, p.ID, parent); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove must be not-found, got %v", err)
	}
}

func TestPhotosRejectedOnTerminalMission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)
	if _, err := f.engine.AddPhoto(ctx, m.ID, parent, "early.jpg", "image/jpeg", 512, strings.NewReader("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("photo on ASSIGNED mission must fail, got %v", err)
	}
	if _, err := f.engine.Cancel(ctx, m.ID, therapist); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.engine.AddPhoto(ctx, m.ID, parent, "late.jpg", "image/jpeg", 512, strings.NewReader("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("photo on CANCELLED mission must fail, got %v", err)
	}
}

func TestOverdueDerivation(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		m    Mission
		want bool
	}{
		{"no due date", Mission{Status: StatusAssigned}, false},
		{"future due", Mission{Status: StatusAssigned, DueDate: &future}, false},
		{"past due assigned", Mission{Status: StatusAssigned, DueDate: &past}, true},
		{"past due in progress", Mission{Status: StatusInProgress, DueDate: &past}, true},
		{"past due completed", Mission{Status: StatusCompleted, DueDate: &past}, false},
		{"past due verified", Mission{Status: StatusVerified, DueDate: &past}, false},
		{"past due cancelled", Mission{Status: StatusCancelled, DueDate: &past}, true},
	}
	for _, tc := range cases {
		if got := tc.m.Overdue(now); got != tc.want {
			t.Fatalf("%s: Overdue=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUnauthorizedReadLooksNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.assign(t, nil)

	if _, err := f.engine.Get(ctx, m.ID, "stranger"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unauthorized mission read must look not-found, got %v", err)
	}
	if _, err := f.engine.Get(ctx, ids.New(), parent.UserID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing mission must look not-found, got %v", err)
	}
}

func TestDeleteForChildIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.assign(t, nil)

	if err := f.engine.DeleteForChild(ctx, childID); err != nil {
		t.Fatalf("DeleteForChild: %v", err)
	}
	if err := f.engine.DeleteForChild(ctx, childID); err != nil {
		t.Fatalf("repeat DeleteForChild: %v", err)
	}
	missions, err := f.engine.ListForChild(ctx, childID, parent.UserID)
	if err != nil {
		t.Fatalf("ListForChild: %v", err)
	}
	if len(missions) != 0 {
		t.Fatalf("expected no live missions, got %d", len(missions))
	}
}
