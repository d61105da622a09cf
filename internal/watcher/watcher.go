package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chaoschain/verdict-engine/internal/ledger"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Watcher scans the ledger on an interval and announces lifecycle
// transitions (committing -> revealing -> closable) over the broadcast
// hook. It observes only: closing an epoch stays an explicit operator
// action through the engine API.

// Broadcast pushes an encoded stream event to observers (the websocket
// hub). May be nil.
type Broadcast func(event models.StreamEvent)

type Watcher struct {
	ledger    *ledger.Ledger
	broadcast Broadcast
	interval  time.Duration

	mu        sync.Mutex
	lastPhase map[chainhash.Hash]models.WorkPhase
}

func New(led *ledger.Ledger, broadcast Broadcast, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		ledger:    led,
		broadcast: broadcast,
		interval:  interval,
		lastPhase: make(map[chainhash.Hash]models.WorkPhase),
	}
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("Starting work lifecycle watcher (interval %s)...", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping work lifecycle watcher...")
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one scan pass. Exported so tests can drive it synchronously.
func (w *Watcher) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range w.ledger.AllWorks() {
		phase, err := w.ledger.Phase(id)
		if err != nil {
			continue
		}
		prev, seen := w.lastPhase[id]
		w.lastPhase[id] = phase
		if !seen || prev == phase {
			continue
		}
		work, err := w.ledger.Work(id)
		if err != nil {
			continue
		}
		log.Printf("Work %s moved %s -> %s", id, prev, phase)
		if w.broadcast != nil {
			w.broadcast(models.StreamEvent{
				Type:      models.EventTypePhaseChange,
				Timestamp: time.Now().UTC(),
				Payload: models.PhaseChangeEvent{
					WorkID: id,
					Studio: work.Studio,
					Epoch:  work.Epoch,
					From:   prev.String(),
					To:     phase.String(),
				},
			})
		}
	}
}

// ClosableCount reports how many tracked works currently sit in the
// closable phase.
func (w *Watcher) ClosableCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int
	for _, id := range w.ledger.AllWorks() {
		if phase, err := w.ledger.Phase(id); err == nil && phase == models.PhaseClosable {
			n++
		}
	}
	return n
}
