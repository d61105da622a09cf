package ledger

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chaoschain/verdict-engine/internal/registry"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

func addr(b byte) models.Address {
	var a models.Address
	a[19] = b
	return a
}

func workID(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

type fixture struct {
	ledger *Ledger
	reg    *registry.InMemory
	studio models.Address
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewInMemory()
	f := &fixture{
		ledger: New(reg, reg, reg),
		reg:    reg,
		studio: addr(0xAA),
		now:    time.Unix(1_700_000_000, 0),
	}
	f.ledger.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) registerWork(t *testing.T, id chainhash.Hash, workers ...models.Address) {
	t.Helper()
	weights := make([]uint32, len(workers))
	per := uint32(models.WeightBasis) / uint32(len(workers))
	for i := range weights {
		weights[i] = per
	}
	weights[len(weights)-1] += uint32(models.WeightBasis) - per*uint32(len(workers))
	if err := f.ledger.RegisterWork(id, f.studio, 1, workers, weights, 1_000_000, "ipfs://evidence"); err != nil {
		t.Fatalf("RegisterWork failed: %v", err)
	}
	if err := f.ledger.SetDeadlines(id, time.Hour, time.Hour); err != nil {
		t.Fatalf("SetDeadlines failed: %v", err)
	}
}

func (f *fixture) addVerifier(v models.Address, stake uint64) {
	f.reg.SetRole(f.studio, v, registry.RoleVerifier)
	f.reg.SetStake(f.studio, v, stake)
}

func TestRegisterWorkWeightValidation(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	w1, w2 := addr(1), addr(2)

	tests := []struct {
		name    string
		workers []models.Address
		weights []uint32
		wantErr error
	}{
		{"weights must sum to basis", []models.Address{w1, w2}, []uint32{5000, 4000}, ErrWeightSum},
		{"count mismatch", []models.Address{w1, w2}, []uint32{10000}, ErrWeightMismatch},
		{"empty participants", nil, nil, ErrNoParticipants},
		{"duplicate participant", []models.Address{w1, w1}, []uint32{5000, 5000}, ErrDuplicateWorker},
		{"valid", []models.Address{w1, w2}, []uint32{6000, 4000}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ledger.RegisterWork(id, f.studio, 1, tt.workers, tt.weights, 100, "")
			if err != tt.wantErr {
				t.Errorf("RegisterWork = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Second registration under the same id must be rejected.
	if err := f.ledger.RegisterWork(id, f.studio, 1, []models.Address{w1}, []uint32{10000}, 100, ""); err != ErrWorkExists {
		t.Errorf("duplicate RegisterWork = %v, want ErrWorkExists", err)
	}
}

func TestCommitUniqueness(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v := addr(10)
	f.addVerifier(v, 1)

	c := models.Commitment([]uint8{80, 80, 80, 80, 80}, [32]byte{1}, id)
	if err := f.ledger.Commit(id, v, c); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := f.ledger.Commit(id, v, c); err != ErrDuplicateCommit {
		t.Errorf("second commit = %v, want ErrDuplicateCommit", err)
	}
	if err := f.ledger.Commit(id, v, chainhash.Hash{}); err != ErrZeroCommitment {
		t.Errorf("zero commitment = %v, want ErrZeroCommitment", err)
	}
}

func TestCommitAfterDeadlineRejected(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	f.advance(time.Hour + time.Second)

	c := models.Commitment([]uint8{80, 80, 80, 80, 80}, [32]byte{1}, id)
	if err := f.ledger.Commit(id, addr(10), c); err != ErrCommitClosed {
		t.Errorf("late commit = %v, want ErrCommitClosed", err)
	}
}

func TestRevealBindingAndWindows(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v := addr(10)
	f.addVerifier(v, 3)

	scores := []uint8{80, 75, 90, 60, 85}
	salt := [32]byte{0xDE, 0xAD}
	if err := f.ledger.Commit(id, v, models.Commitment(scores, salt, id)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// Reveal during the commit window is premature.
	if err := f.ledger.Reveal(id, v, nil, scores, salt); err != ErrRevealEarly {
		t.Errorf("early reveal = %v, want ErrRevealEarly", err)
	}

	f.advance(time.Hour + time.Minute) // inside reveal window

	// Wrong salt must not verify.
	if err := f.ledger.Reveal(id, v, nil, scores, [32]byte{0xBE, 0xEF}); err != ErrCommitMismatch {
		t.Errorf("wrong salt = %v, want ErrCommitMismatch", err)
	}
	// Tampered vector must not verify.
	tampered := append([]uint8(nil), scores...)
	tampered[0] = 81
	if err := f.ledger.Reveal(id, v, nil, tampered, salt); err != ErrCommitMismatch {
		t.Errorf("tampered scores = %v, want ErrCommitMismatch", err)
	}

	if err := f.ledger.Reveal(id, v, nil, scores, salt); err != nil {
		t.Fatalf("reveal failed: %v", err)
	}
	if f.ledger.HasCommitment(id, v) {
		t.Error("commitment not cleared after successful reveal")
	}

	// Scenario E: a second reveal finds no commitment.
	if err := f.ledger.Reveal(id, v, nil, scores, salt); err != ErrNoCommitment {
		t.Errorf("replayed reveal = %v, want ErrNoCommitment", err)
	}

	subs := f.ledger.Submissions(id)
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	if subs[0].Stake != 3 {
		t.Errorf("stake = %d, want 3 (captured at reveal)", subs[0].Stake)
	}
}

func TestRevealAfterWindowRejected(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v := addr(10)
	f.addVerifier(v, 1)

	scores := []uint8{80, 80, 80, 80, 80}
	salt := [32]byte{7}
	if err := f.ledger.Commit(id, v, models.Commitment(scores, salt, id)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	f.advance(3 * time.Hour) // past reveal deadline
	if err := f.ledger.Reveal(id, v, nil, scores, salt); err != ErrRevealClosed {
		t.Errorf("late reveal = %v, want ErrRevealClosed", err)
	}
}

func TestRevealRequiresVerifierRole(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v := addr(10)
	f.reg.SetRole(f.studio, v, registry.RoleWorker) // wrong role

	scores := []uint8{80, 80, 80, 80, 80}
	salt := [32]byte{7}
	if err := f.ledger.Commit(id, v, models.Commitment(scores, salt, id)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	f.advance(time.Hour + time.Minute)
	if err := f.ledger.Reveal(id, v, nil, scores, salt); err != ErrRoleDenied {
		t.Errorf("reveal without verifier role = %v, want ErrRoleDenied", err)
	}
}

func TestRevealStrictVectorLength(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v := addr(10)
	f.addVerifier(v, 1)

	short := []uint8{80, 80, 80}
	salt := [32]byte{9}
	if err := f.ledger.Commit(id, v, models.Commitment(short, salt, id)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	f.advance(time.Hour + time.Minute)
	if err := f.ledger.Reveal(id, v, nil, short, salt); err != ErrBadVectorLength {
		t.Errorf("short vector reveal = %v, want ErrBadVectorLength", err)
	}
}

func TestRevealPerWorkerTargetsParticipant(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	w1 := addr(1)
	f.registerWork(t, id, w1)
	v := addr(10)
	f.addVerifier(v, 1)

	scores := []uint8{80, 80, 80, 80, 80}
	salt := [32]byte{3}
	if err := f.ledger.Commit(id, v, models.Commitment(scores, salt, id)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	f.advance(time.Hour + time.Minute)

	outsider := addr(99)
	if err := f.ledger.Reveal(id, v, &outsider, scores, salt); err != ErrNotParticipant {
		t.Errorf("reveal for outsider = %v, want ErrNotParticipant", err)
	}
	if err := f.ledger.Reveal(id, v, &w1, scores, salt); err != nil {
		t.Errorf("reveal for participant failed: %v", err)
	}
}

func TestLegacyIngestionPadsAndMasks(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1), addr(2))
	v := addr(10)
	f.addVerifier(v, 2)

	if err := f.ledger.IngestLegacyScores(id, v, []uint8{70, 60}); err != nil {
		t.Fatalf("legacy ingest failed: %v", err)
	}
	subs := f.ledger.Submissions(id)
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	s := subs[0]
	if len(s.Scores) != 5 || s.Scores[2] != models.NeutralScore {
		t.Errorf("padding wrong: %v", s.Scores)
	}
	if s.Present == nil || s.Present[0] != true || s.Present[2] != false {
		t.Errorf("present mask wrong: %v", s.Present)
	}
	if s.Worker != nil {
		t.Error("legacy submission must be the shared form")
	}

	// The shared row covers both participants.
	if rows := f.ledger.MatrixFor(id, addr(2)); len(rows) != 1 {
		t.Errorf("shared submission should cover every participant, got %d rows", len(rows))
	}

	// Over-long legacy payloads are still rejected.
	long := []uint8{1, 2, 3, 4, 5, 6}
	f.addVerifier(addr(11), 1)
	if err := f.ledger.IngestLegacyScores(id, addr(11), long); err != ErrBadVectorLength {
		t.Errorf("over-long legacy payload = %v, want ErrBadVectorLength", err)
	}
}

func TestLegacyIngestionClosedAfterCommit(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v := addr(10)
	f.addVerifier(v, 1)

	if err := f.ledger.Commit(id, v, models.Commitment([]uint8{1, 2, 3, 4, 5}, [32]byte{1}, id)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := f.ledger.IngestLegacyScores(id, v, []uint8{70}); err != ErrAlreadyCommitted {
		t.Errorf("legacy ingest after commit = %v, want ErrAlreadyCommitted", err)
	}
}

func TestValidatorFirstSightingOrder(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	f.registerWork(t, id, addr(1))
	v1, v2, v3 := addr(10), addr(11), addr(12)
	for _, v := range []models.Address{v1, v2, v3} {
		f.addVerifier(v, 1)
	}

	scores := []uint8{80, 80, 80, 80, 80}
	for i, v := range []models.Address{v3, v1, v2} { // commit in scrambled order
		salt := [32]byte{byte(i + 1)}
		if err := f.ledger.Commit(id, v, models.Commitment(scores, salt, id)); err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
	}
	f.advance(time.Hour + time.Minute)
	for i, v := range []models.Address{v2, v3, v1} { // reveal in another order
		salt := [32]byte{0}
		switch v {
		case v3:
			salt = [32]byte{1}
		case v1:
			salt = [32]byte{2}
		case v2:
			salt = [32]byte{3}
		}
		if err := f.ledger.Reveal(id, v, nil, scores, salt); err != nil {
			t.Fatalf("reveal %d failed: %v", i, err)
		}
	}

	order := f.ledger.Validators(id)
	want := []models.Address{v2, v3, v1} // reveal order is first-sighting order
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("validator order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPhaseTransitions(t *testing.T) {
	f := newFixture(t)
	id := workID(1)
	if err := f.ledger.RegisterWork(id, f.studio, 1, []models.Address{addr(1)}, []uint32{10000}, 100, ""); err != nil {
		t.Fatalf("RegisterWork failed: %v", err)
	}

	assertPhase := func(want models.WorkPhase) {
		t.Helper()
		got, err := f.ledger.Phase(id)
		if err != nil {
			t.Fatalf("Phase failed: %v", err)
		}
		if got != want {
			t.Fatalf("phase = %s, want %s", got, want)
		}
	}

	assertPhase(models.PhaseRegistered)
	if err := f.ledger.SetDeadlines(id, time.Hour, time.Hour); err != nil {
		t.Fatalf("SetDeadlines failed: %v", err)
	}
	assertPhase(models.PhaseCommitting)
	f.advance(time.Hour + time.Second)
	assertPhase(models.PhaseRevealing)
	f.advance(time.Hour)
	assertPhase(models.PhaseClosable)
	if err := f.ledger.MarkClosed(id); err != nil {
		t.Fatalf("MarkClosed failed: %v", err)
	}
	assertPhase(models.PhaseClosed)

	if err := f.ledger.SetDeadlines(id, time.Hour, time.Hour); err != ErrWorkClosed {
		t.Errorf("SetDeadlines on closed work = %v, want ErrWorkClosed", err)
	}
}
