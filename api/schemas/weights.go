package schemas

// WeightConfig is the single active weight vector of the scoring engine.
// The five positive weights each live in [0,1] and must sum to 1.0 within a
// tolerance of 0.001; the auth weight is a penalty in [-1,0]. The config is
// created lazily with the documented defaults and mutated only through a
// validated replacement that rescores the whole dataset.
type WeightConfig struct {
	CVSSWeight        float64 `json:"cvss_weight"`
	EPSSWeight        float64 `json:"epss_weight"`
	ExposureWeight    float64 `json:"internet_exposed_weight"`
	CriticalityWeight float64 `json:"asset_criticality_weight"`
	AgeWeight         float64 `json:"vuln_age_weight"`
	AuthWeight        float64 `json:"auth_required_weight"`
}

// PositiveSum returns the sum of the five positive weights, the quantity the
// validator holds to 1.0.
func (w WeightConfig) PositiveSum() float64 {
	return w.CVSSWeight + w.EPSSWeight + w.ExposureWeight + w.CriticalityWeight + w.AgeWeight
}
