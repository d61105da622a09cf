package metrics

import (
	"math"
	"sort"

	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Aggregate validator-accuracy statistics for the observability endpoint.
// These are float-valued on purpose: nothing here feeds back into
// consensus or payouts, so IEEE-754 is acceptable and convenient.

// MeanPerformance computes the arithmetic mean of validator performance
// scores (0..100). Returns 0 for an empty set.
func MeanPerformance(perfs []uint8) float64 {
	if len(perfs) == 0 {
		return 0.0
	}
	var sum float64
	for _, p := range perfs {
		sum += float64(p)
	}
	return sum / float64(len(perfs))
}

// StakeWeightedPerformance weights each performance score by the
// validator's stake. Falls back to the unweighted mean when total stake
// is zero.
func StakeWeightedPerformance(perfs []uint8, stakes []uint64) float64 {
	if len(perfs) == 0 || len(perfs) != len(stakes) {
		return 0.0
	}
	var num, den float64
	for i, p := range perfs {
		num += float64(p) * float64(stakes[i])
		den += float64(stakes[i])
	}
	if den == 0 {
		return MeanPerformance(perfs)
	}
	return num / den
}

// PayoutGini computes the Gini coefficient of a payout distribution,
// exposing reward concentration across validators. 0 = perfectly equal,
// approaching 1 = one validator takes everything.
func PayoutGini(payouts []uint64) float64 {
	n := len(payouts)
	if n < 2 {
		return 0.0
	}
	sorted := make([]uint64, n)
	copy(sorted, payouts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total float64
	for _, p := range sorted {
		total += float64(p)
	}
	if total == 0 {
		return 0.0
	}

	// Gini = (2 * sum(i * x_i) / (n * sum(x)) ) - (n + 1) / n, 1-indexed.
	var weighted float64
	for i, p := range sorted {
		weighted += float64(i+1) * float64(p)
	}
	g := 2.0*weighted/(float64(n)*total) - float64(n+1)/float64(n)
	if g < 0 {
		return 0.0
	}
	return g
}

// MeanAbsoluteError is the mean per-dimension distance between one
// validator's submission and the consensus it was judged against.
func MeanAbsoluteError(scores, consensus []uint8) float64 {
	n := len(scores)
	if n == 0 || n != len(consensus) {
		return 0.0
	}
	var sum float64
	for i := range scores {
		sum += math.Abs(float64(scores[i]) - float64(consensus[i]))
	}
	return sum / float64(n)
}

// AccuracySnapshot summarizes the validator side of a set of close reports.
type AccuracySnapshot struct {
	Validators      int     `json:"validators"`
	MeanPerformance float64 `json:"mean_performance"`
	StakeWeighted   float64 `json:"stake_weighted_performance"`
	PayoutGini      float64 `json:"payout_gini"`
	TotalPaid       uint64  `json:"total_paid"`
}

// Summarize folds the validator rewards of the given reports into one
// snapshot. Stake weighting uses the recorded omega weights as proxy mass.
func Summarize(reports []models.WorkCloseReport) AccuracySnapshot {
	var (
		perfs   []uint8
		weights []uint64
		payouts []uint64
		paid    uint64
	)
	for i := range reports {
		for _, vr := range reports[i].ValidatorRewards {
			perfs = append(perfs, vr.Performance)
			weights = append(weights, vr.Weight)
			payouts = append(payouts, vr.Amount)
			paid += vr.Amount
		}
	}
	return AccuracySnapshot{
		Validators:      len(perfs),
		MeanPerformance: MeanPerformance(perfs),
		StakeWeighted:   StakeWeightedPerformance(perfs, weights),
		PayoutGini:      PayoutGini(payouts),
		TotalPaid:       paid,
	}
}
