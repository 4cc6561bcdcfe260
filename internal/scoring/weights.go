package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
)

// weightSumTolerance is how far the five positive weights may drift from
// summing to exactly 1.0 before the vector is rejected.
const weightSumTolerance = 0.001

// Sentinel errors for weight validation failures. Callers distinguish them
// with errors.Is; the wrapped message names the violated constraint.
var (
	ErrWeightOutOfRange = errors.New("weight out of range")
	ErrWeightSum        = errors.New("positive weights must sum to 1.0")
)

// DefaultWeights returns the documented default weight vector, used to
// lazily create the config row when none exists.
func DefaultWeights() schemas.WeightConfig {
	return schemas.WeightConfig{
		CVSSWeight:        0.30,
		EPSSWeight:        0.25,
		ExposureWeight:    0.20,
		CriticalityWeight: 0.15,
		AgeWeight:         0.10,
		AuthWeight:        -0.10,
	}
}

// ValidateWeights checks a candidate weight vector against the configuration
// invariants: each positive weight in [0,1], the auth weight in [-1,0], and
// the positive weights summing to 1.0 within tolerance. A valid vector is
// accepted unchanged; an invalid one is rejected before any mutation.
func ValidateWeights(w schemas.WeightConfig) error {
	positive := []struct {
		name  string
		value float64
	}{
		{"cvss_weight", w.CVSSWeight},
		{"epss_weight", w.EPSSWeight},
		{"internet_exposed_weight", w.ExposureWeight},
		{"asset_criticality_weight", w.CriticalityWeight},
		{"vuln_age_weight", w.AgeWeight},
	}
	for _, p := range positive {
		if p.value < 0 || p.value > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %v", ErrWeightOutOfRange, p.name, p.value)
		}
	}

	if w.AuthWeight > 0 || w.AuthWeight < -1 {
		return fmt.Errorf("%w: auth_required_weight must be between -1 and 0, got %v", ErrWeightOutOfRange, w.AuthWeight)
	}

	if sum := w.PositiveSum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w, got %.4f", ErrWeightSum, sum)
	}
	return nil
}
