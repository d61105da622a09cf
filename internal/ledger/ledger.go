package ledger

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chaoschain/verdict-engine/internal/registry"
	"github.com/chaoschain/verdict-engine/internal/scoring"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Ledger is the authoritative in-memory record of works, commitments and
// revealed submissions: the commit-reveal state machine of the engine.
// A work's score matrix is mutable only until its reveal window closes and
// only through Reveal/IngestLegacyScores (legacy ingestion is also accepted
// before deadlines are set); it is read-only thereafter.
type Ledger struct {
	mu sync.RWMutex

	// Now is injectable for deterministic deadline tests.
	Now func() time.Time

	roles   registry.RoleSource
	stakes  registry.StakeSource
	configs registry.StudioConfigSource

	works       map[chainhash.Hash]*models.Work
	order       []chainhash.Hash // registration order, drives closure order
	commitments map[commitCell]chainhash.Hash
	nonces      map[commitCell]uint64
	submissions map[chainhash.Hash][]models.Submission
	submitted   map[submissionCell]bool
	validators  map[chainhash.Hash][]models.Address // first-sighting order
}

type commitCell struct {
	work      chainhash.Hash
	validator models.Address
}

type submissionCell struct {
	work      chainhash.Hash
	validator models.Address
	worker    models.Address // zero value for the shared legacy form
	shared    bool
}

func New(roles registry.RoleSource, stakes registry.StakeSource, configs registry.StudioConfigSource) *Ledger {
	return &Ledger{
		Now:         time.Now,
		roles:       roles,
		stakes:      stakes,
		configs:     configs,
		works:       make(map[chainhash.Hash]*models.Work),
		commitments: make(map[commitCell]chainhash.Hash),
		nonces:      make(map[commitCell]uint64),
		submissions: make(map[chainhash.Hash][]models.Submission),
		submitted:   make(map[submissionCell]bool),
		validators:  make(map[chainhash.Hash][]models.Address),
	}
}

// RegisterWork installs a new work with its escrow budget and contribution
// weights. Weights are basis points and must sum to exactly 10_000.
func (l *Ledger) RegisterWork(id chainhash.Hash, studio models.Address, epoch uint64, participants []models.Address, weights []uint32, budget uint64, evidence string) error {
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	if len(participants) > models.MaxParticipants {
		return ErrTooMany
	}
	if len(weights) != len(participants) {
		return ErrWeightMismatch
	}
	seen := make(map[models.Address]bool, len(participants))
	var sum uint64
	for i, p := range participants {
		if seen[p] {
			return ErrDuplicateWorker
		}
		seen[p] = true
		sum += uint64(weights[i])
	}
	if sum != uint64(models.WeightBasis) {
		return ErrWeightSum
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.works[id]; ok {
		return ErrWorkExists
	}
	l.works[id] = &models.Work{
		ID:              id,
		Studio:          studio,
		Epoch:           epoch,
		Participants:    append([]models.Address(nil), participants...),
		Weights:         append([]uint32(nil), weights...),
		EvidencePointer: evidence,
		Budget:          budget,
		RegisteredAt:    l.Now(),
	}
	l.order = append(l.order, id)
	return nil
}

// SetDeadlines arms the commit and reveal windows:
// commit_deadline = now + commitWindow, reveal_deadline = commit + revealWindow.
// Deadlines are set once; moving a live window would undermine the
// anti-copycat property.
func (l *Ledger) SetDeadlines(id chainhash.Hash, commitWindow, revealWindow time.Duration) error {
	if commitWindow <= 0 || revealWindow <= 0 {
		return ErrWindowEmpty
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[id]
	if !ok {
		return ErrUnknownWork
	}
	if w.Closed {
		return ErrWorkClosed
	}
	if w.DeadlinesSet {
		return ErrDeadlinesSet
	}
	now := l.Now()
	w.CommitDeadline = now.Add(commitWindow)
	w.RevealDeadline = w.CommitDeadline.Add(revealWindow)
	w.DeadlinesSet = true
	return nil
}

// Commit stores a validator's single-use commitment. Accepted iff the work
// is registered, no prior commitment exists for this (work, validator),
// the commit window is open, and the commitment is non-zero.
func (l *Ledger) Commit(id chainhash.Hash, validator models.Address, commitment chainhash.Hash) error {
	if commitment == (chainhash.Hash{}) {
		return ErrZeroCommitment
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[id]
	if !ok {
		return ErrUnknownWork
	}
	if w.Closed {
		return ErrWorkClosed
	}
	if !w.DeadlinesSet {
		return ErrDeadlinesUnset
	}
	if l.Now().After(w.CommitDeadline) {
		return ErrCommitClosed
	}
	cell := commitCell{work: id, validator: validator}
	if _, ok := l.commitments[cell]; ok {
		return ErrDuplicateCommit
	}
	l.commitments[cell] = commitment
	l.nonces[cell]++
	return nil
}

// Reveal verifies the preimage against the stored commitment and, on
// success, clears the commitment and installs the submission. worker == nil
// is the shared form applying to every participant. The score payload is
// decoded strictly: its length must equal the studio's dimension count.
func (l *Ledger) Reveal(id chainhash.Hash, validator models.Address, worker *models.Address, scores []uint8, salt [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[id]
	if !ok {
		return ErrUnknownWork
	}
	if w.Closed {
		return ErrWorkClosed
	}
	cell := commitCell{work: id, validator: validator}
	commitment, ok := l.commitments[cell]
	if !ok {
		return ErrNoCommitment
	}
	now := l.Now()
	if !now.After(w.CommitDeadline) {
		return ErrRevealEarly
	}
	if now.After(w.RevealDeadline) {
		return ErrRevealClosed
	}
	if !l.roles.Role(w.Studio, validator).HasVerifier() {
		return ErrRoleDenied
	}
	cfg := l.configs.Config(w.Studio)
	if len(scores) != cfg.Dimensions() {
		return ErrBadVectorLength
	}
	for _, s := range scores {
		if s > 100 {
			return ErrBadScore
		}
	}
	if worker != nil && !isParticipant(w, *worker) {
		return ErrNotParticipant
	}
	if models.Commitment(scores, salt, id) != commitment {
		return ErrCommitMismatch
	}

	delete(l.commitments, cell)
	l.installSubmission(w, models.Submission{
		Validator: validator,
		Worker:    worker,
		Scores:    append([]uint8(nil), scores...),
		Stake:     l.stakes.Stake(w.Studio, validator),
		Timestamp: now,
	})
	return nil
}

// IngestLegacyScores is the pre-commit safe-decode path for legacy shared
// score payloads: vectors shorter than the studio's dimension count are
// padded with the neutral 50 and flagged absent for aggregation. Closed to
// any validator who has an outstanding commitment.
func (l *Ledger) IngestLegacyScores(id chainhash.Hash, validator models.Address, scores []uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[id]
	if !ok {
		return ErrUnknownWork
	}
	if w.Closed {
		return ErrWorkClosed
	}
	if w.DeadlinesSet && l.Now().After(w.RevealDeadline) {
		return ErrRevealClosed
	}
	if _, ok := l.commitments[commitCell{work: id, validator: validator}]; ok {
		return ErrAlreadyCommitted
	}
	if !l.roles.Role(w.Studio, validator).HasVerifier() {
		return ErrRoleDenied
	}
	cfg := l.configs.Config(w.Studio)
	dims := cfg.Dimensions()
	if len(scores) > dims {
		return ErrBadVectorLength
	}
	for _, s := range scores {
		if s > 100 {
			return ErrBadScore
		}
	}

	padded := make([]uint8, dims)
	present := make([]bool, dims)
	for i := 0; i < dims; i++ {
		if i < len(scores) {
			padded[i] = scores[i]
			present[i] = true
		} else {
			padded[i] = models.NeutralScore
		}
	}
	l.installSubmission(w, models.Submission{
		Validator: validator,
		Scores:    padded,
		Present:   present,
		Stake:     l.stakes.Stake(w.Studio, validator),
		Timestamp: l.Now(),
	})
	return nil
}

// installSubmission deduplicates per (validator, worker) cell and appends
// the validator to the work's first-sighting order. Duplicate cells are
// silently dropped: the first submission wins.
func (l *Ledger) installSubmission(w *models.Work, sub models.Submission) {
	cell := submissionCell{work: w.ID, validator: sub.Validator, shared: sub.Worker == nil}
	if sub.Worker != nil {
		cell.worker = *sub.Worker
	}
	if l.submitted[cell] {
		return
	}
	if len(l.validators[w.ID]) >= models.MaxValidators && !l.validatorKnown(w.ID, sub.Validator) {
		return
	}
	l.submitted[cell] = true
	l.submissions[w.ID] = append(l.submissions[w.ID], sub)
	if !l.validatorKnown(w.ID, sub.Validator) {
		l.validators[w.ID] = append(l.validators[w.ID], sub.Validator)
	}
}

func (l *Ledger) validatorKnown(id chainhash.Hash, v models.Address) bool {
	for _, known := range l.validators[id] {
		if known == v {
			return true
		}
	}
	return false
}

func isParticipant(w *models.Work, a models.Address) bool {
	for _, p := range w.Participants {
		if p == a {
			return true
		}
	}
	return false
}

// ── Read side ───────────────────────────────────────────────────────

// Work returns a copy of the work record.
func (l *Ledger) Work(id chainhash.Hash) (models.Work, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.works[id]
	if !ok {
		return models.Work{}, ErrUnknownWork
	}
	return *w, nil
}

// Phase reports the lifecycle position of a work at the ledger's clock.
func (l *Ledger) Phase(id chainhash.Hash) (models.WorkPhase, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.works[id]
	if !ok {
		return 0, ErrUnknownWork
	}
	return w.Phase(l.Now()), nil
}

// HasCommitment reports whether an un-revealed commitment exists.
func (l *Ledger) HasCommitment(id chainhash.Hash, validator models.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.commitments[commitCell{work: id, validator: validator}]
	return ok
}

// WorksInEpoch lists the work ids of a (studio, epoch) pair in
// registration order.
func (l *Ledger) WorksInEpoch(studio models.Address, epoch uint64) []chainhash.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []chainhash.Hash
	for _, id := range l.order {
		w := l.works[id]
		if w.Studio == studio && w.Epoch == epoch {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllWorks lists every work id in registration order.
func (l *Ledger) AllWorks() []chainhash.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]chainhash.Hash(nil), l.order...)
}

// Validators returns the ordered, deduplicated validator set of a work.
func (l *Ledger) Validators(id chainhash.Hash) []models.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Address(nil), l.validators[id]...)
}

// Submissions returns a copy of every installed submission of a work.
func (l *Ledger) Submissions(id chainhash.Hash) []models.Submission {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Submission(nil), l.submissions[id]...)
}

// MatrixFor assembles the sparse score matrix for one worker: every
// submission covering that worker, as kernel rows in first-sighting order.
func (l *Ledger) MatrixFor(id chainhash.Hash, worker models.Address) []scoring.Row {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var rows []scoring.Row
	for _, sub := range l.submissions[id] {
		if !sub.Covers(worker) {
			continue
		}
		rows = append(rows, scoring.Row{
			Validator: sub.Validator,
			Stake:     sub.Stake,
			Scores:    sub.Scores,
			Present:   sub.Present,
		})
	}
	return rows
}

// MarkClosed finalizes a work; further submissions and deadline changes are
// rejected. Called by the engine once a close report has been durably
// applied.
func (l *Ledger) MarkClosed(id chainhash.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[id]
	if !ok {
		return ErrUnknownWork
	}
	w.Closed = true
	return nil
}
