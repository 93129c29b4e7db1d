// Command smoke walks the core scenario end to end against in-memory stores:
// register a child, grant a therapist, assign a mission, drive it to VERIFIED
// and check that every transition left a system receipt behind.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/child"
	"careloop.org/internal/events"
	"careloop.org/internal/mission"
	"careloop.org/internal/note"
	"careloop.org/internal/storage"
)

func main() {
	log.SetFlags(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir, err := os.MkdirTemp("", "careloop-smoke-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	blobs, err := storage.NewLocal(dir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	ledger, err := access.NewLedger(access.NewInMemory())
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	notes, err := note.NewService(note.NewInMemory(), ledger, note.WithAssetStorage(blobs))
	if err != nil {
		log.Fatalf("notes: %v", err)
	}
	missionStore := mission.NewInMemory()
	catalog, err := mission.NewCatalog(missionStore)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	engine, err := mission.NewEngine(missionStore, catalog, ledger, note.SystemLog{Service: notes}, blobs, events.NewStream())
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	children, err := child.NewService(child.NewInMemory(), ledger, notes, engine)
	if err != nil {
		log.Fatalf("children: %v", err)
	}

	parent := access.Actor{UserID: "smoke-parent", Role: access.RoleParent}
	therapist := access.Actor{UserID: "smoke-therapist", Role: access.RoleTherapist}

	kid, _, err := children.Create(ctx, parent, "Smoke Kid", time.Date(2018, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		log.Fatalf("create child: %v", err)
	}

	if _, err := ledger.Grant(ctx, kid.ID, parent.UserID, therapist,
		[]access.Capability{access.CapViewReport, access.CapWriteNote, access.CapAssignMission}, false); err != nil {
		log.Fatalf("grant therapist: %v", err)
	}

	tpl, err := catalog.Create(ctx, therapist, mission.TemplateInput{
		Title:        "Smoke mission",
		Description:  "Say hello to a family member.",
		Category:     mission.CategoryCommunication,
		Difficulty:   mission.DifficultyBeginner,
		Instructions: "Greet one family member and wait for a reply.",
		Duration:     10 * time.Minute,
	})
	if err != nil {
		log.Fatalf("create template: %v", err)
	}

	m, err := engine.Assign(ctx, kid.ID, therapist, tpl.ID, nil)
	if err != nil {
		log.Fatalf("assign: %v", err)
	}
	if m, err = engine.Start(ctx, m.ID, parent); err != nil {
		log.Fatalf("start: %v", err)
	}
	if m, err = engine.Complete(ctx, m.ID, parent, "went well"); err != nil {
		log.Fatalf("complete: %v", err)
	}
	if m, err = engine.Verify(ctx, m.ID, therapist, "good progress"); err != nil {
		log.Fatalf("verify: %v", err)
	}
	if m.Status != mission.StatusVerified {
		log.Fatalf("unexpected status after verify: %s", m.Status)
	}

	all, err := notes.ListForChild(ctx, kid.ID, therapist.UserID)
	if err != nil {
		log.Fatalf("list notes: %v", err)
	}
	receipts := 0
	for _, n := range all {
		if n.Kind == note.KindSystem && n.MissionID == m.ID {
			receipts++
		}
	}
	if receipts != 4 {
		log.Fatalf("expected 4 system receipts, got %d", receipts)
	}

	// A user without a grant must not be able to tell the child exists.
	if _, err := children.Get(ctx, kid.ID, "smoke-stranger"); err == nil {
		log.Fatal("stranger read should have failed")
	}

	fmt.Printf("smoke test passed: child=%s mission=%s receipts=%d\n", kid.ID, m.ID, receipts)
}
