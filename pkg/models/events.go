package models

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Stream event types pushed over the websocket hub.
const (
	EventTypePhaseChange = "phase_change"
	EventTypeWorkClosed  = "work_closed"
	EventTypeReputation  = "reputation"
)

// StreamEvent is the envelope every hub broadcast uses.
type StreamEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// PhaseChangeEvent announces a work crossing a lifecycle boundary.
type PhaseChangeEvent struct {
	WorkID chainhash.Hash `json:"work_id"`
	Studio Address        `json:"studio"`
	Epoch  uint64         `json:"epoch"`
	From   string         `json:"from"`
	To     string         `json:"to"`
}

// WorkClosedEvent announces a finalized work with its payout totals.
type WorkClosedEvent struct {
	WorkID          chainhash.Hash `json:"work_id"`
	Studio          Address        `json:"studio"`
	Epoch           uint64         `json:"epoch"`
	WorkerTotal     uint64         `json:"worker_total"`
	ValidatorTotal  uint64         `json:"validator_total"`
	OrchestratorFee uint64         `json:"orchestrator_fee"`
	Residual        uint64         `json:"residual"`
}

// ReputationEvent mirrors one reputation publication for observers.
type ReputationEvent struct {
	EventID        string         `json:"event_id"` // uuid
	Target         Address        `json:"target"`
	Score          uint8          `json:"score"`
	Tag1           string         `json:"tag1"`
	Tag2           string         `json:"tag2"`
	URI            string         `json:"uri"`
	ContentHash    chainhash.Hash `json:"content_hash"`
	IdempotenceKey chainhash.Hash `json:"idempotence_key"`
}
