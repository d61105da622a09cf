package scoring

import (
	"sort"

	"github.com/chaoschain/verdict-engine/internal/fixedpoint"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Robust per-dimension aggregation over a sparse, stake-weighted score
// matrix. The estimator is stake-weighted median + MAD outlier rejection,
// then a stake-weighted mean of the surviving scores: breakdown point 50%
// against arbitrarily large deviations while keeping more signal precision
// than a pure median. All arithmetic is exact integer math.

// DefaultAlpha is the MAD inlier multiplier, in Scale units (3.0).
const DefaultAlpha = 3 * models.Scale

// Row is one validator's (possibly partial) score vector for a single
// worker. Present masks per-dimension absence; nil means fully present.
type Row struct {
	Validator models.Address
	Stake     uint64
	Scores    []uint8
	Present   []bool
}

// Has reports whether the row carries a value for dimension d.
func (r *Row) Has(d int) bool {
	if d >= len(r.Scores) {
		return false
	}
	return r.Present == nil || (d < len(r.Present) && r.Present[d])
}

// RowStats is the per-validator accuracy record the reward engine consumes:
// the squared deviation against the consensus summed over the dimensions
// this validator actually scored.
type RowStats struct {
	Validator  models.Address
	SquaredDev uint64
	Scored     int
}

// Result is the kernel output for one worker.
type Result struct {
	Scores         []uint8
	ValidatorCount int
	TotalStake     uint64
	Rows           []RowStats
}

type pair struct {
	score uint8
	stake uint64
}

// Aggregate runs the per-dimension robust mean over the given rows.
// dims is the studio's full dimension count; rows shorter than dims are
// treated as absent on the trailing dimensions. alpha is in Scale units.
func Aggregate(rows []Row, dims int, alpha uint64) (Result, error) {
	res := Result{
		Scores:         make([]uint8, dims),
		ValidatorCount: len(rows),
	}
	for _, r := range rows {
		stake, err := fixedpoint.AddU64(res.TotalStake, r.Stake)
		if err != nil {
			return Result{}, err
		}
		res.TotalStake = stake
	}

	for d := 0; d < dims; d++ {
		pairs := collect(rows, d)
		if len(pairs) == 0 {
			res.Scores[d] = models.NeutralScore
			continue
		}
		score, err := aggregateDimension(pairs, alpha)
		if err != nil {
			return Result{}, err
		}
		res.Scores[d] = score
	}

	res.Rows = make([]RowStats, len(rows))
	for i, r := range rows {
		stats := RowStats{Validator: r.Validator}
		for d := 0; d < dims; d++ {
			if !r.Has(d) {
				continue
			}
			dev := absDiff(r.Scores[d], res.Scores[d])
			sq, err := fixedpoint.MulU64(dev, dev)
			if err != nil {
				return Result{}, err
			}
			sum, err := fixedpoint.AddU64(stats.SquaredDev, sq)
			if err != nil {
				return Result{}, err
			}
			stats.SquaredDev = sum
			stats.Scored++
		}
		res.Rows[i] = stats
	}
	return res, nil
}

func collect(rows []Row, d int) []pair {
	var pairs []pair
	for _, r := range rows {
		if r.Has(d) {
			pairs = append(pairs, pair{score: r.Scores[d], stake: r.Stake})
		}
	}
	return pairs
}

func aggregateDimension(pairs []pair, alpha uint64) (uint8, error) {
	median := weightedMedian(pairs)

	// MAD: stake-weighted median of |x - m|.
	devs := make([]pair, len(pairs))
	for i, p := range pairs {
		devs[i] = pair{score: uint8(absDiff(p.score, median)), stake: p.stake}
	}
	mad := weightedMedian(devs)

	// Inlier iff |x - m| * S <= alpha * MAD. With MAD = 0 only exact
	// matches survive, which always includes the median itself.
	bound, err := fixedpoint.MulU64(alpha, uint64(mad))
	if err != nil {
		return 0, err
	}
	var num, den uint64
	for _, p := range pairs {
		dev, err := fixedpoint.MulU64(absDiff(p.score, median), models.Scale)
		if err != nil {
			return 0, err
		}
		if dev > bound {
			continue
		}
		weighted, err := fixedpoint.MulU64(uint64(p.score), p.stake)
		if err != nil {
			return 0, err
		}
		if num, err = fixedpoint.AddU64(num, weighted); err != nil {
			return 0, err
		}
		if den, err = fixedpoint.AddU64(den, p.stake); err != nil {
			return 0, err
		}
	}
	if den == 0 {
		// Every inlier carries zero stake; fall back to the median.
		return clampScore(median), nil
	}

	// Stake-weighted mean of inliers, rounded to nearest (half up).
	half := den / 2
	total, err := fixedpoint.AddU64(num, half)
	if err != nil {
		return 0, err
	}
	return clampScore(uint8(total / den)), nil
}

// weightedMedian sorts by score ascending and advances a cumulative stake
// pointer until it first reaches or exceeds half the total stake. Equal
// cumulative positions resolve to the lower score, which the ascending scan
// yields naturally.
func weightedMedian(pairs []pair) uint8 {
	sorted := make([]pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].score < sorted[j].score
	})

	var total uint64
	for _, p := range sorted {
		total += p.stake
	}

	// First cumulative position at or past half the total stake:
	// cum >= ceil(total/2) avoids the doubling overflow of 2*cum >= total.
	threshold := total/2 + total%2
	var cum uint64
	for _, p := range sorted {
		cum += p.stake
		if cum >= threshold {
			return p.score
		}
	}
	// All stakes zero: the lowest score is the deterministic choice.
	return sorted[0].score
}

func absDiff(a, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

func clampScore(s uint8) uint8 {
	if s > 100 {
		return 100
	}
	return s
}
