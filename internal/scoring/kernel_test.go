package scoring

import (
	"math/rand"
	"testing"

	"github.com/chaoschain/verdict-engine/pkg/models"
)

func addr(b byte) models.Address {
	var a models.Address
	a[19] = b
	return a
}

func uniformRow(b byte, stake uint64, score uint8, dims int) Row {
	scores := make([]uint8, dims)
	for i := range scores {
		scores[i] = score
	}
	return Row{Validator: addr(b), Stake: stake, Scores: scores}
}

func TestAggregateUnanimous(t *testing.T) {
	rows := []Row{
		uniformRow(1, 1, 80, 5),
		uniformRow(2, 1, 80, 5),
		uniformRow(3, 1, 80, 5),
	}
	res, err := Aggregate(rows, 5, DefaultAlpha)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for d, s := range res.Scores {
		if s != 80 {
			t.Errorf("dimension %d consensus = %d, want 80", d, s)
		}
	}
	if res.ValidatorCount != 3 || res.TotalStake != 3 {
		t.Errorf("count/stake = %d/%d, want 3/3", res.ValidatorCount, res.TotalStake)
	}
	for _, rs := range res.Rows {
		if rs.SquaredDev != 0 || rs.Scored != 5 {
			t.Errorf("validator %s dev/scored = %d/%d, want 0/5", rs.Validator, rs.SquaredDev, rs.Scored)
		}
	}
}

func TestAggregateRejectsZeroOutlier(t *testing.T) {
	// Two honest validators at 80, one adversary at 0. The MAD collapses to
	// zero so only exact matches of the median survive.
	rows := []Row{
		uniformRow(1, 1, 80, 5),
		uniformRow(2, 1, 80, 5),
		uniformRow(3, 1, 0, 5),
	}
	res, err := Aggregate(rows, 5, DefaultAlpha)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for d, s := range res.Scores {
		if s != 80 {
			t.Errorf("dimension %d consensus = %d, want 80", d, s)
		}
	}
	// The outlier's accuracy record still carries its full error.
	if res.Rows[2].SquaredDev != 5*80*80 {
		t.Errorf("outlier squared dev = %d, want %d", res.Rows[2].SquaredDev, 5*80*80)
	}
	if res.Rows[0].SquaredDev != 0 {
		t.Errorf("honest squared dev = %d, want 0", res.Rows[0].SquaredDev)
	}
}

func TestAggregateEmptyDimensionDefaults(t *testing.T) {
	// Nobody scored anything: every dimension falls back to neutral 50.
	res, err := Aggregate(nil, 5, DefaultAlpha)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for d, s := range res.Scores {
		if s != models.NeutralScore {
			t.Errorf("dimension %d = %d, want %d", d, s, models.NeutralScore)
		}
	}
	if res.TotalStake != 0 || res.ValidatorCount != 0 {
		t.Errorf("expected zero stake and count, got %d/%d", res.TotalStake, res.ValidatorCount)
	}
}

func TestAggregateShortRowTrailingAbsent(t *testing.T) {
	// A row shorter than dims contributes nothing on trailing dimensions,
	// and its error sum only spans what it scored.
	rows := []Row{
		{Validator: addr(1), Stake: 1, Scores: []uint8{90, 90}},
		uniformRow(2, 1, 70, 5),
	}
	res, err := Aggregate(rows, 5, DefaultAlpha)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	// Trailing dimensions see only the 70s.
	for d := 2; d < 5; d++ {
		if res.Scores[d] != 70 {
			t.Errorf("dimension %d = %d, want 70", d, res.Scores[d])
		}
	}
	if res.Rows[0].Scored != 2 {
		t.Errorf("short row scored %d dims, want 2", res.Rows[0].Scored)
	}
}

func TestAggregatePresentMask(t *testing.T) {
	// Legacy-ingested rows carry 50-filled absent dimensions that must not
	// enter aggregation.
	rows := []Row{
		{
			Validator: addr(1),
			Stake:     1,
			Scores:    []uint8{90, 90, 90, 50, 50},
			Present:   []bool{true, true, true, false, false},
		},
		uniformRow(2, 1, 80, 5),
	}
	res, err := Aggregate(rows, 5, DefaultAlpha)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if res.Scores[4] != 80 {
		t.Errorf("masked dimension aggregated the filler: got %d, want 80", res.Scores[4])
	}
	if res.Rows[0].Scored != 3 {
		t.Errorf("masked row scored %d dims, want 3", res.Rows[0].Scored)
	}
}

func TestWeightedMedianStakeMajority(t *testing.T) {
	// A single high-stake validator owns the median regardless of count.
	pairs := []pair{
		{score: 10, stake: 1},
		{score: 20, stake: 1},
		{score: 90, stake: 10},
	}
	if m := weightedMedian(pairs); m != 90 {
		t.Errorf("median = %d, want 90", m)
	}
}

func TestWeightedMedianTieTakesLowerScore(t *testing.T) {
	// Even split: the cumulative pointer reaches half inside the lower
	// score, which is the deterministic choice.
	pairs := []pair{
		{score: 40, stake: 1},
		{score: 60, stake: 1},
	}
	if m := weightedMedian(pairs); m != 40 {
		t.Errorf("median = %d, want 40 on tie", m)
	}
}

func TestWeightedMedianAllZeroStake(t *testing.T) {
	pairs := []pair{
		{score: 70, stake: 0},
		{score: 30, stake: 0},
	}
	if m := weightedMedian(pairs); m != 30 {
		t.Errorf("median = %d, want lowest score 30 when stake is all zero", m)
	}
}

// Robustness property: honest validators within +/-5 of a true value hold a
// stake majority; one adversary at an extreme value with stake just under
// half the total cannot move any dimension's consensus outside the honest
// envelope.
func TestAggregateRobustnessProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(0x5eed))
	const dims = 5
	const trials = 1000

	for trial := 0; trial < trials; trial++ {
		n := 5 + rng.Intn(16) // honest validators in [5, 20]
		truth := 40 + rng.Intn(21)

		var honestStake uint64
		rows := make([]Row, 0, n+1)
		for i := 0; i < n; i++ {
			stake := uint64(1 + rng.Intn(5))
			honestStake += stake
			scores := make([]uint8, dims)
			for d := range scores {
				scores[d] = uint8(truth + rng.Intn(11) - 5)
			}
			rows = append(rows, Row{Validator: addr(byte(i + 1)), Stake: stake, Scores: scores})
		}

		// Adversary: arbitrary extreme vector, stake strictly below half of
		// the post-inflation total.
		advScore := uint8(0)
		if rng.Intn(2) == 1 {
			advScore = 100
		}
		advStake := honestStake - 1
		if advStake == 0 {
			advStake = 1
		}
		rows = append(rows, uniformRow(200, advStake, advScore, dims))

		res, err := Aggregate(rows, dims, DefaultAlpha)
		if err != nil {
			t.Fatalf("trial %d: Aggregate failed: %v", trial, err)
		}
		for d, s := range res.Scores {
			if int(s) < truth-5 || int(s) > truth+5 {
				t.Fatalf("trial %d: dimension %d consensus %d escaped honest envelope [%d, %d]",
					trial, d, s, truth-5, truth+5)
			}
		}
	}
}
