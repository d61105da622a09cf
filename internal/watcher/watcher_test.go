package watcher

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chaoschain/verdict-engine/internal/ledger"
	"github.com/chaoschain/verdict-engine/internal/registry"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

func TestSweepBroadcastsTransitions(t *testing.T) {
	reg := registry.NewInMemory()
	led := ledger.New(reg, reg, reg)
	now := time.Unix(1_700_000_000, 0)
	led.Now = func() time.Time { return now }

	var events []models.StreamEvent
	w := New(led, func(ev models.StreamEvent) { events = append(events, ev) }, time.Second)

	var id chainhash.Hash
	id[0] = 1
	var worker models.Address
	worker[19] = 1
	if err := led.RegisterWork(id, models.Address{}, 1, []models.Address{worker}, []uint32{10000}, 100, ""); err != nil {
		t.Fatalf("RegisterWork failed: %v", err)
	}
	if err := led.SetDeadlines(id, time.Hour, time.Hour); err != nil {
		t.Fatalf("SetDeadlines failed: %v", err)
	}

	w.Sweep() // baseline sighting, no transition yet
	if len(events) != 0 {
		t.Fatalf("baseline sweep emitted %d events", len(events))
	}

	now = now.Add(time.Hour + time.Second) // committing -> revealing
	w.Sweep()
	if len(events) != 1 {
		t.Fatalf("expected 1 transition event, got %d", len(events))
	}
	pc, ok := events[0].Payload.(models.PhaseChangeEvent)
	if !ok {
		t.Fatalf("payload type %T", events[0].Payload)
	}
	if pc.From != "committing" || pc.To != "revealing" {
		t.Errorf("transition %s -> %s, want committing -> revealing", pc.From, pc.To)
	}

	now = now.Add(time.Hour) // revealing -> closable
	w.Sweep()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if w.ClosableCount() != 1 {
		t.Errorf("closable count = %d, want 1", w.ClosableCount())
	}
}
