// Package enrich reconciles stored findings against a freshly loaded KEV
// catalog: newly listed CVEs get marked and boosted, delisted ones get
// cleared and demoted, and every touched row is rescored under the active
// weight config in the same transaction.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
	"github.com/vulncontext/vulncontext-cli/internal/kev"
	"github.com/vulncontext/vulncontext-cli/internal/scoring"
)

// findingReconciler is the slice of the store the reconciler needs.
type findingReconciler interface {
	ReconcileFindings(ctx context.Context, fn schemas.ReconcileFunc) (int64, error)
}

// Result summarizes one reconciliation pass.
type Result struct {
	Marked  int64 `json:"marked"`
	Cleared int64 `json:"cleared"`
	Updated int64 `json:"updated"`
}

// Reconciler applies a KEV catalog to the finding store.
type Reconciler struct {
	store   findingReconciler
	catalog kev.Catalog
	log     *zap.Logger
}

func NewReconciler(store findingReconciler, catalog kev.Catalog, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, catalog: catalog, log: logger.Named("enrich")}
}

// Run walks every stored finding once. The catalog is authoritative: a CVE
// absent from it loses its KEV status even if it was listed before.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	updated, err := r.store.ReconcileFindings(ctx, func(f schemas.Finding, w schemas.WeightConfig) (schemas.Finding, bool) {
		entry := r.catalog.Lookup(f.CVEID)
		switch {
		case entry != nil && !f.IsKEV:
			applyEntry(&f, *entry)
			result.Marked++
		case entry != nil && f.IsKEV:
			if !entryDiffers(f, *entry) {
				return f, false
			}
			applyEntry(&f, *entry)
		case entry == nil && f.IsKEV:
			clearEntry(&f)
			result.Cleared++
		default:
			return f, false
		}
		scoring.ApplyAssessment(&f, scoring.AssessFinding(f, w))
		return f, true
	})
	if err != nil {
		return Result{}, err
	}
	result.Updated = updated

	r.log.Info("KEV reconciliation complete.",
		zap.Int64("marked", result.Marked),
		zap.Int64("cleared", result.Cleared),
		zap.Int64("updated", result.Updated),
		zap.Int("catalog_size", len(r.catalog)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func applyEntry(f *schemas.Finding, e kev.Record) {
	f.IsKEV = true
	f.KEVDateAdded = e.DateAdded
	f.KEVDueDate = e.DueDate
	f.KEVVendorProject = e.VendorProject
	f.KEVProduct = e.Product
	f.KEVVulnerabilityName = e.VulnerabilityName
	f.KEVShortDescription = e.ShortDescription
	f.KEVRequiredAction = e.RequiredAction
	f.KEVRansomwareUse = e.RansomwareUse
}

func clearEntry(f *schemas.Finding) {
	f.IsKEV = false
	f.KEVDateAdded = nil
	f.KEVDueDate = nil
	f.KEVVendorProject = nil
	f.KEVProduct = nil
	f.KEVVulnerabilityName = nil
	f.KEVShortDescription = nil
	f.KEVRequiredAction = nil
	f.KEVRansomwareUse = nil
}

// entryDiffers reports whether the catalog metadata disagrees with what is
// already stored on an existing KEV finding.
func entryDiffers(f schemas.Finding, e kev.Record) bool {
	return !timePtrEqual(f.KEVDateAdded, e.DateAdded) ||
		!timePtrEqual(f.KEVDueDate, e.DueDate) ||
		!strPtrEqual(f.KEVVendorProject, e.VendorProject) ||
		!strPtrEqual(f.KEVProduct, e.Product) ||
		!strPtrEqual(f.KEVVulnerabilityName, e.VulnerabilityName) ||
		!strPtrEqual(f.KEVShortDescription, e.ShortDescription) ||
		!strPtrEqual(f.KEVRequiredAction, e.RequiredAction) ||
		!strPtrEqual(f.KEVRansomwareUse, e.RansomwareUse)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
