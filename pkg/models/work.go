package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Fixed-point scale shared across the whole engine. All "precision" values
// are integers in units of Scale; scores themselves are plain integers in
// [0, 100].
const Scale uint64 = 1_000_000

// The five universal Proof-of-Agency dimensions, in wire order. Studio
// custom dimensions follow after these.
const UniversalDimensions = 5

// UniversalDimensionTags are the ASCII reputation tags for the universal
// dimensions, index-aligned with the score vector.
var UniversalDimensionTags = [UniversalDimensions]string{
	"INITIATIVE",
	"COLLABORATION",
	"REASONING_DEPTH",
	"COMPLIANCE",
	"EFFICIENCY",
}

// NeutralScore is emitted for a dimension no validator scored.
const NeutralScore uint8 = 50

// ScoreVector is a score payload, one byte per dimension in fixed order.
// It marshals as a JSON integer array; the default []byte encoding would
// base64 the scores.
type ScoreVector []uint8

func (v ScoreVector) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(v))
	for i, s := range v {
		ints[i] = int(s)
	}
	return json.Marshal(ints)
}

func (v *ScoreVector) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(ScoreVector, len(ints))
	for i, s := range ints {
		if s < 0 || s > 255 {
			return fmt.Errorf("score %d out of byte range", s)
		}
		out[i] = uint8(s)
	}
	*v = out
	return nil
}

// WeightBasis is the basis-point denominator for contribution weights.
const WeightBasis uint32 = 10_000

// MaxParticipants and MaxValidators bound per-work collections so closure
// stays O(V * P * D) with predictable latency.
const (
	MaxParticipants = 256
	MaxValidators   = 256
)

// WorkPhase is the lifecycle position of a work.
type WorkPhase int

const (
	PhaseRegistered WorkPhase = iota // no deadlines set yet
	PhaseCommitting                  // commit window open
	PhaseRevealing                   // commit window closed, reveal open
	PhaseClosable                    // reveal window closed, not yet closed
	PhaseClosed                      // consensus finalized, ledger written
)

func (p WorkPhase) String() string {
	switch p {
	case PhaseRegistered:
		return "registered"
	case PhaseCommitting:
		return "committing"
	case PhaseRevealing:
		return "revealing"
	case PhaseClosable:
		return "closable"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Work is one unit of jointly-completed work under verification.
type Work struct {
	ID              chainhash.Hash `json:"id"`
	Studio          Address        `json:"studio"`
	Epoch           uint64         `json:"epoch"`
	Participants    []Address      `json:"participants"`
	Weights         []uint32       `json:"weights"` // basis points, sum = 10_000
	EvidencePointer string         `json:"evidence_pointer"`
	Budget          uint64         `json:"budget"` // escrow, smallest monetary unit

	CommitDeadline time.Time `json:"commit_deadline"`
	RevealDeadline time.Time `json:"reveal_deadline"`
	DeadlinesSet   bool      `json:"deadlines_set"`

	RegisteredAt time.Time `json:"registered_at"`
	Closed       bool      `json:"closed"`
}

// Phase derives the lifecycle position at the given instant.
func (w *Work) Phase(now time.Time) WorkPhase {
	switch {
	case w.Closed:
		return PhaseClosed
	case !w.DeadlinesSet:
		return PhaseRegistered
	case !now.After(w.CommitDeadline):
		return PhaseCommitting
	case !now.After(w.RevealDeadline):
		return PhaseRevealing
	default:
		return PhaseClosable
	}
}

// Weight returns the contribution weight of a participant in basis points,
// or 0 when the account is not a participant.
func (w *Work) Weight(p Address) uint32 {
	for i, cand := range w.Participants {
		if cand == p {
			return w.Weights[i]
		}
	}
	return 0
}

// StudioConfig is the plug-in scoring policy of a studio: the custom
// dimension set and the universal/custom split.
type StudioConfig struct {
	CustomNames   []string `json:"custom_names"`
	CustomWeights []uint64 `json:"custom_weights"` // Scale units, sum = Scale
	WU            uint64   `json:"w_u"`            // universal share, Scale units
	WC            uint64   `json:"w_c"`            // custom share, WU + WC = Scale
}

// DefaultStudioConfig is the 0.7/0.3 split with no custom dimensions.
func DefaultStudioConfig() StudioConfig {
	return StudioConfig{
		WU: 700_000,
		WC: 300_000,
	}
}

// Dimensions is the total score-vector length this studio expects.
func (c StudioConfig) Dimensions() int {
	return UniversalDimensions + len(c.CustomNames)
}

// DimensionTag names dimension d for reputation publication.
func (c StudioConfig) DimensionTag(d int) string {
	if d < UniversalDimensions {
		return UniversalDimensionTags[d]
	}
	k := d - UniversalDimensions
	if k < len(c.CustomNames) {
		return c.CustomNames[k]
	}
	return "CUSTOM"
}

// Submission is one validator's revealed (or legacy-ingested) score vector.
// Worker == nil means the legacy shared form that applies to every
// participant of the work.
type Submission struct {
	Validator Address     `json:"validator"`
	Worker    *Address    `json:"worker,omitempty"`
	Scores    ScoreVector `json:"scores"`
	Present   []bool      `json:"present,omitempty"` // nil = every dimension present
	Stake     uint64      `json:"stake"`
	Timestamp time.Time   `json:"timestamp"`
}

// Covers reports whether the submission scores the given worker.
func (s *Submission) Covers(worker Address) bool {
	return s.Worker == nil || *s.Worker == worker
}

// ConsensusResult is the finalized per-(work, worker) consensus vector.
type ConsensusResult struct {
	Key            chainhash.Hash `json:"key"` // H(work_id || worker)
	WorkID         chainhash.Hash `json:"work_id"`
	Worker         Address        `json:"worker"`
	Scores         ScoreVector    `json:"scores"`
	ValidatorCount int            `json:"validator_count"`
	TotalStake     uint64         `json:"total_stake"`
	Quality        uint8          `json:"quality"` // 0..100 quality scalar
	ComputedAt     time.Time      `json:"computed_at"`
	Finalized      bool           `json:"finalized"`
}

// Default reports whether the result is the no-validator fallback.
func (r *ConsensusResult) Default() bool {
	return r.ValidatorCount == 0
}
