package engine

import (
	"errors"

	"github.com/chaoschain/verdict-engine/internal/scoring"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Params is the consensus parameter surface. Only Alpha (the MAD inlier
// multiplier) is live; Beta, Kappa and Tau are reserved for future
// reward-sharpness, slashing-severity and tolerance policies and are only
// range-checked and stored.
type Params struct {
	Alpha uint64 `json:"alpha"` // Scale units, inlier bound multiplier
	Beta  uint64 `json:"beta"`  // reserved
	Kappa uint64 `json:"kappa"` // reserved
	Tau   uint64 `json:"tau"`   // reserved
}

// ErrParamRange rejects out-of-range consensus parameters.
var ErrParamRange = errors.New("consensus parameter out of range")

// DefaultParams returns the shipped parameter set.
func DefaultParams() Params {
	return Params{
		Alpha: scoring.DefaultAlpha,
		Beta:  models.Scale,
		Kappa: models.Scale,
		Tau:   10 * models.Scale,
	}
}

// Validate range-checks the set: alpha, beta, kappa in (0, 10*S], tau in
// (0, 100*S].
func (p Params) Validate() error {
	limit := 10 * models.Scale
	if p.Alpha == 0 || p.Alpha > limit {
		return ErrParamRange
	}
	if p.Beta == 0 || p.Beta > limit {
		return ErrParamRange
	}
	if p.Kappa == 0 || p.Kappa > limit {
		return ErrParamRange
	}
	if p.Tau == 0 || p.Tau > 100*models.Scale {
		return ErrParamRange
	}
	return nil
}
