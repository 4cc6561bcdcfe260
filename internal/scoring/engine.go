// Package scoring implements the context-aware risk engine: factor
// normalization, weighted combination, band classification and the KEV/EPSS
// override ladder. Everything here is a pure function of its inputs; the
// store owns persistence and transaction boundaries.
package scoring

import (
	"math"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
)

const (
	// kevBoost is added to the weighted base when a finding is on the KEV
	// catalog, before the final clamp to 1.
	kevBoost = 0.25

	// EPSS triage floors for non-KEV findings. A floor raises the band to at
	// least the named level and never lowers it.
	epssHighFloor   = 0.95
	epssMediumFloor = 0.80

	// ageCapDays saturates the age factor; anything older contributes the
	// same as a one-year-old vulnerability.
	ageCapDays = 365

	// SLA deadlines for KEV findings, by asset criticality.
	slaHoursCriticalAsset = 24
	slaHoursDefault       = 72
)

// Input carries the six raw severity attributes plus the KEV flag. All
// values are accepted as-is and defensively clamped during normalization, so
// malformed legacy data degrades instead of failing the batch.
type Input struct {
	CVSSScore        float64
	EPSSScore        float64
	InternetExposed  bool
	AssetCriticality int
	VulnAgeDays      int
	AuthRequired     bool
	IsKEV            bool
}

// InputFromFinding extracts the scoring inputs from a stored finding.
func InputFromFinding(f schemas.Finding) Input {
	return Input{
		CVSSScore:        f.CVSSScore,
		EPSSScore:        f.EPSSScore,
		InternetExposed:  f.InternetExposed,
		AssetCriticality: f.AssetCriticality,
		VulnAgeDays:      f.VulnAgeDays,
		AuthRequired:     f.AuthRequired,
		IsKEV:            f.IsKEV,
	}
}

// Assess runs the full scoring pipeline for one finding.
//
// Override precedence: the KEV boost applies first and is unconditional
// (band Critical, SLA assigned); the EPSS floors are consulted only for
// non-KEV findings. The returned score is always in [0,100] and rounded to
// one decimal.
func Assess(in Input, w schemas.WeightConfig) schemas.RiskAssessment {
	cvssNorm := clamp(in.CVSSScore/10.0, 0, 1)
	epssNorm := clamp(in.EPSSScore, 0, 1)
	ageNorm := float64(clampInt(in.VulnAgeDays, 0, ageCapDays)) / float64(ageCapDays)
	critNorm := criticalityNorm(in.AssetCriticality)

	var exposure, auth float64
	if in.InternetExposed {
		exposure = 1
	}
	if in.AuthRequired {
		auth = 1
	}

	base := w.CVSSWeight*cvssNorm +
		w.EPSSWeight*epssNorm +
		w.ExposureWeight*exposure +
		w.CriticalityWeight*critNorm +
		w.AgeWeight*ageNorm +
		w.AuthWeight*auth
	base = clamp(base, 0, 1)

	if in.IsKEV {
		raw := math.Min(1, base+kevBoost)
		sla := slaHoursDefault
		if in.AssetCriticality >= 4 {
			sla = slaHoursCriticalAsset
		}
		return schemas.RiskAssessment{
			RiskScore: round1(raw * 100),
			RiskBand:  schemas.BandCritical,
			SLAHours:  &sla,
			RiskRaw:   raw,
		}
	}

	raw := base
	band := Classify(raw * 100)
	if epssNorm >= epssHighFloor {
		band = schemas.MaxBand(band, schemas.BandHigh)
	} else if epssNorm >= epssMediumFloor {
		band = schemas.MaxBand(band, schemas.BandMedium)
	}

	return schemas.RiskAssessment{
		RiskScore: round1(raw * 100),
		RiskBand:  band,
		RiskRaw:   raw,
	}
}

// AssessFinding scores a stored finding against a weight vector.
func AssessFinding(f schemas.Finding, w schemas.WeightConfig) schemas.RiskAssessment {
	return Assess(InputFromFinding(f), w)
}

// ApplyAssessment copies an assessment's outputs onto a finding.
func ApplyAssessment(f *schemas.Finding, a schemas.RiskAssessment) {
	f.RiskScore = a.RiskScore
	f.RiskBand = a.RiskBand
	f.SLAHours = a.SLAHours
}

// Classify maps a 0-100 score to its band. Lower bounds are inclusive:
// 80 is Critical, 60 is High, 40 is Medium, anything below is Low.
func Classify(score float64) schemas.RiskBand {
	switch {
	case score >= 80:
		return schemas.BandCritical
	case score >= 60:
		return schemas.BandHigh
	case score >= 40:
		return schemas.BandMedium
	default:
		return schemas.BandLow
	}
}

// criticalityNorm is the canonical asset-criticality normalization. The 1-4
// ordinal maps onto {0.25, 0.5, 0.75, 1.0}; out-of-range values are clamped
// into the scale first.
func criticalityNorm(v int) float64 {
	return float64(clampInt(v, 1, 4)) / 4.0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
