package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// -- Risk band --

// RiskBand is the ordinal risk category derived from a finding's risk score.
// Bands are totally ordered (Low < Medium < High < Critical) so that triage
// floors can raise a band with a plain comparison and never demote it.
type RiskBand int

// The four risk bands, in ascending order of urgency.
const (
	BandLow RiskBand = iota + 1
	BandMedium
	BandHigh
	BandCritical
)

var bandNames = map[RiskBand]string{
	BandLow:      "Low",
	BandMedium:   "Medium",
	BandHigh:     "High",
	BandCritical: "Critical",
}

func (b RiskBand) String() string {
	if name, ok := bandNames[b]; ok {
		return name
	}
	return fmt.Sprintf("RiskBand(%d)", int(b))
}

// MarshalText renders the band under its display name so JSON output and
// database rows carry "Critical" rather than an integer.
func (b RiskBand) MarshalText() ([]byte, error) {
	name, ok := bandNames[b]
	if !ok {
		return nil, fmt.Errorf("unknown risk band %d", int(b))
	}
	return []byte(name), nil
}

// UnmarshalText parses a band name case-insensitively.
func (b *RiskBand) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseRiskBand converts a band name into its ordinal value.
func ParseRiskBand(s string) (RiskBand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return BandLow, nil
	case "medium":
		return BandMedium, nil
	case "high":
		return BandHigh, nil
	case "critical":
		return BandCritical, nil
	}
	return 0, fmt.Errorf("invalid risk band %q (expected Low, Medium, High or Critical)", s)
}

// MaxBand returns the higher of two bands. Used by the EPSS triage floor,
// which may raise a band but never lower one.
func MaxBand(a, b RiskBand) RiskBand {
	if a >= b {
		return a
	}
	return b
}

// -- Disposition --

// Disposition is the manual triage state of a finding. It records a handling
// decision and never alters the computed risk score.
type Disposition string

// The enumerated disposition values. DispositionNone is the resting state and
// is reachable only by clearing; it is rejected as a target of a set.
const (
	DispositionNone          Disposition = "none"
	DispositionIgnored       Disposition = "ignored"
	DispositionRiskAccepted  Disposition = "risk_accepted"
	DispositionFalsePositive Disposition = "false_positive"
	DispositionNotApplicable Disposition = "not_applicable"
)

// ParseDisposition validates a raw disposition string.
func ParseDisposition(s string) (Disposition, error) {
	switch Disposition(strings.ToLower(strings.TrimSpace(s))) {
	case DispositionNone:
		return DispositionNone, nil
	case DispositionIgnored:
		return DispositionIgnored, nil
	case DispositionRiskAccepted:
		return DispositionRiskAccepted, nil
	case DispositionFalsePositive:
		return DispositionFalsePositive, nil
	case DispositionNotApplicable:
		return DispositionNotApplicable, nil
	}
	return "", fmt.Errorf("invalid disposition %q (expected none, ignored, risk_accepted, false_positive or not_applicable)", s)
}

// -- Finding --

// Finding is one vulnerability-on-asset observation together with its
// computed risk outputs and triage state. It maps directly to the `findings`
// table.
type Finding struct {
	ID int64 `json:"id"`

	// Identity. FindingKey is derived from the source/asset/vulnerability
	// triple and stays stable across repeated ingestions.
	Source     string `json:"source"`
	FindingID  string `json:"finding_id"`
	AssetID    string `json:"asset_id"`
	FindingKey string `json:"finding_key"`

	// Asset context.
	Hostname  *string `json:"hostname,omitempty"`
	IPAddress *string `json:"ip_address,omitempty"`

	// Vulnerability identity.
	CVEID       *string `json:"cve_id,omitempty"`
	Description *string `json:"description,omitempty"`

	// Raw severity inputs for the scoring pipeline.
	CVSSScore        float64 `json:"cvss_score"`
	EPSSScore        float64 `json:"epss_score"`
	InternetExposed  bool    `json:"internet_exposed"`
	AssetCriticality int     `json:"asset_criticality"`
	VulnAgeDays      int     `json:"vuln_age_days"`
	AuthRequired     bool    `json:"auth_required"`

	// KEV enrichment. All metadata fields are nil when IsKEV is false.
	IsKEV                bool       `json:"is_kev"`
	KEVDateAdded         *time.Time `json:"kev_date_added,omitempty"`
	KEVDueDate           *time.Time `json:"kev_due_date,omitempty"`
	KEVVendorProject     *string    `json:"kev_vendor_project,omitempty"`
	KEVProduct           *string    `json:"kev_product,omitempty"`
	KEVVulnerabilityName *string    `json:"kev_vulnerability_name,omitempty"`
	KEVShortDescription  *string    `json:"kev_short_description,omitempty"`
	KEVRequiredAction    *string    `json:"kev_required_action,omitempty"`
	KEVRansomwareUse     *string    `json:"kev_ransomware_use,omitempty"`

	// Computed outputs. SLAHours is set if and only if IsKEV.
	RiskScore float64  `json:"risk_score"`
	RiskBand  RiskBand `json:"risk_band"`
	SLAHours  *int     `json:"sla_hours,omitempty"`

	// Manual triage.
	Disposition          Disposition `json:"disposition"`
	DispositionState     *string     `json:"disposition_state,omitempty"`
	DispositionReason    *string     `json:"disposition_reason,omitempty"`
	DispositionComment   *string     `json:"disposition_comment,omitempty"`
	DispositionExpiresAt *time.Time  `json:"disposition_expires_at,omitempty"`
	DispositionCreatedAt *time.Time  `json:"disposition_created_at,omitempty"`
	DispositionCreatedBy *string     `json:"disposition_created_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RiskAssessment is the output of the scoring pipeline for a single finding.
type RiskAssessment struct {
	// RiskScore is the 0-100 score, rounded to one decimal.
	RiskScore float64  `json:"risk_score"`
	RiskBand  RiskBand `json:"risk_band"`
	// SLAHours is a remediation deadline, present only for KEV findings.
	SLAHours *int `json:"sla_hours,omitempty"`
	// RiskRaw keeps the pre-scaling [0,1] value for tuning and debugging.
	RiskRaw float64 `json:"risk_raw"`
}

// DeriveFindingKey computes the stable identity of a finding. The same
// source/asset/vulnerability triple always yields the same key, so repeated
// ingestions of one observation correlate. The CVE identifier is preferred as
// the vulnerability component; the scanner's finding id is the fallback for
// findings without a CVE.
func DeriveFindingKey(source, assetID, findingID string, cveID *string) string {
	vuln := findingID
	if cveID != nil && strings.TrimSpace(*cveID) != "" {
		vuln = strings.ToUpper(strings.TrimSpace(*cveID))
	}
	seed := strings.ToLower(strings.TrimSpace(source)) + "|" + strings.TrimSpace(assetID) + "|" + vuln
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:16])
}

// EpssScore is one row of the daily EPSS probability table, wholesale
// replaced on each refresh.
type EpssScore struct {
	CVEID       string  `json:"cve_id"`
	Probability float64 `json:"probability"`
	Percentile  float64 `json:"percentile"`
}
