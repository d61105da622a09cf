package models

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Fixed budget policy, in percent of the escrow budget B. The remainder
// after fee and validator pool is the worker pool.
const (
	OrchestratorFeePct = 5
	ValidatorPoolPct   = 10
)

// Allocation is the three-way split of one work's escrow budget.
type Allocation struct {
	Budget          uint64 `json:"budget"`
	OrchestratorFee uint64 `json:"orchestrator_fee"`
	ValidatorPool   uint64 `json:"validator_pool"`
	WorkerPool      uint64 `json:"worker_pool"`
}

// WorkerPayout records one worker's share of the worker pool.
type WorkerPayout struct {
	Worker  Address `json:"worker"`
	Payee   Address `json:"payee"` // payout alias, resolved at close time
	Weight  uint32  `json:"weight"`
	Quality uint8   `json:"quality"`
	Amount  uint64  `json:"amount"`
}

// ValidatorReward records one validator's accuracy-weighted share of the
// validator pool.
type ValidatorReward struct {
	Validator   Address `json:"validator"`
	Payee       Address `json:"payee"`
	Error       uint64  `json:"error"`       // summed squared deviation vs consensus
	Weight      uint64  `json:"weight"`      // Scale units, S*S/(S+E)
	Amount      uint64  `json:"amount"`
	Performance uint8   `json:"performance"` // 0..100
}

// WorkCloseReport is the complete, deterministic effect set of closing one
// work. It is computed in full before any state is mutated.
type WorkCloseReport struct {
	WorkID           chainhash.Hash    `json:"work_id"`
	Studio           Address           `json:"studio"`
	Epoch            uint64            `json:"epoch"`
	Allocation       Allocation        `json:"allocation"`
	Consensus        []ConsensusResult `json:"consensus"`
	WorkerPayouts    []WorkerPayout    `json:"worker_payouts"`
	ValidatorRewards []ValidatorReward `json:"validator_rewards"`
	Residual         uint64            `json:"residual"`
	OrchestratorAcct Address           `json:"orchestrator_acct"`
	Defaulted        bool              `json:"defaulted"` // no validator scored any worker
}

// TotalPaid sums every credit the report makes against the escrow.
func (r *WorkCloseReport) TotalPaid() uint64 {
	total := r.Allocation.OrchestratorFee
	for _, p := range r.WorkerPayouts {
		total += p.Amount
	}
	for _, v := range r.ValidatorRewards {
		total += v.Amount
	}
	return total
}

// EpochCloseReport aggregates the per-work reports of one closure run.
type EpochCloseReport struct {
	Studio                Address           `json:"studio"`
	Epoch                 uint64            `json:"epoch"`
	WorksProcessed        int               `json:"works_processed"`
	WorksSkipped          int               `json:"works_skipped"` // already closed (idempotent no-op)
	TotalWorkerRewards    uint64            `json:"total_worker_rewards"`
	TotalValidatorRewards uint64            `json:"total_validator_rewards"`
	OrchestratorFeeTotal  uint64            `json:"orchestrator_fee_total"`
	Works                 []WorkCloseReport `json:"works"`
}
