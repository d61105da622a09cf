package engine

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CloseProgress is a live snapshot of a running epoch closure, readable
// while the closure holds the engine lock.
type CloseProgress struct {
	Running         bool           `json:"running"`
	Epoch           uint64         `json:"epoch"`
	WorksTotal      int            `json:"works_total"`
	WorksProcessed  int            `json:"works_processed"`
	CurrentWork     chainhash.Hash `json:"current_work"`
	WorkerPaid      uint64         `json:"worker_paid"`
	ValidatorPaid   uint64         `json:"validator_paid"`
	OrchestratorFee uint64         `json:"orchestrator_fee"`
}

type progressTracker struct {
	mu   sync.Mutex
	snap CloseProgress
}

func (p *progressTracker) begin(epoch uint64, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = CloseProgress{Running: true, Epoch: epoch, WorksTotal: total}
}

func (p *progressTracker) step(work chainhash.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.CurrentWork = work
}

func (p *progressTracker) applied(workerPaid, validatorPaid, fee uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.WorksProcessed++
	p.snap.WorkerPaid += workerPaid
	p.snap.ValidatorPaid += validatorPaid
	p.snap.OrchestratorFee += fee
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Running = false
}

func (p *progressTracker) snapshot() CloseProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
