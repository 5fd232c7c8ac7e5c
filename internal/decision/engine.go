// Package decision evaluates receipts against merchant policies.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/policy"
)

// minSavingsFloorMinorUnits is the smallest price drop worth acting on.
const minSavingsFloorMinorUnits = 200

// minSavingsPct scales the floor up for larger purchases.
const minSavingsPct = 2

// Engine turns a receipt and an optional current price into a suggestion.
type Engine struct {
	catalog *policy.Catalog
}

// NewEngine wires the engine onto a policy catalog.
func NewEngine(catalog *policy.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Preview is pure and deterministic: identical inputs always yield an
// identical preview. Validation failures are encoded in the Suggestion field,
// never returned as errors, so callers branch on the suggestion.
func (e *Engine) Preview(r domain.Receipt, now time.Time, currentMinorUnits *int64) domain.DecisionPreview {
	pol := e.catalog.Resolve(r.Merchant)
	out := domain.DecisionPreview{
		Policy:            pol,
		PurchasedAt:       r.PurchasedAt,
		EvaluatedAt:       now,
		TotalMinorUnits:   r.TotalMinorUnits,
		CurrentMinorUnits: currentMinorUnits,
	}

	if r.PurchasedAt == nil || r.TotalMinorUnits <= 0 {
		out.Suggestion = domain.SuggestionUnknown
		out.Reason = "missing purchase date or total"
		return out
	}
	// Extraction marks dates it could not parse with the zero time.
	if r.PurchasedAt.IsZero() {
		out.Suggestion = domain.SuggestionUnknown
		out.Reason = "invalid purchase date"
		return out
	}

	purchased := r.PurchasedAt.UTC()
	returnEnd := purchased.AddDate(0, 0, pol.ReturnWindowDays)
	out.ReturnWindowEnd = &returnEnd
	withinReturn := !now.After(returnEnd)
	if withinReturn {
		out.ReturnDaysRemaining = daysRemaining(returnEnd, now)
	}

	withinAdjust := false
	if pol.PriceAdjustEnabled() {
		adjustEnd := purchased.AddDate(0, 0, pol.PriceAdjustWindowDays)
		out.AdjustWindowEnd = &adjustEnd
		withinAdjust = !now.After(adjustEnd)
		if withinAdjust {
			out.AdjustDaysRemaining = daysRemaining(adjustEnd, now)
		}
	}

	if currentMinorUnits != nil {
		savings := r.TotalMinorUnits - *currentMinorUnits
		if savings < 0 {
			savings = 0
		}
		out.SavingsMinorUnits = &savings
	}

	switch {
	case withinAdjust && out.SavingsMinorUnits != nil && *out.SavingsMinorUnits >= minSavings(r.TotalMinorUnits):
		out.Suggestion = domain.SuggestionPriceAdjust
		out.Reason = fmt.Sprintf("price dropped %d minor units within the %d-day adjustment window", *out.SavingsMinorUnits, pol.PriceAdjustWindowDays)
	case withinReturn && pol.RestockingFeePct > 0:
		fee := roundPct(pol.RestockingFeePct, r.TotalMinorUnits)
		out.Suggestion = domain.SuggestionReturnFee
		out.FeeEstimate = &fee
		out.Reason = fmt.Sprintf("return window open, %d%% restocking fee applies", pol.RestockingFeePct)
	case withinReturn:
		out.Suggestion = domain.SuggestionReturnFree
		out.Reason = "return window still open"
	default:
		out.Suggestion = domain.SuggestionKeep
		out.Reason = "windows closed"
	}
	return out
}

// minSavings is the threshold a price drop must clear before a price
// adjustment is worth suggesting: max(200, round(2% of the purchase total)).
func minSavings(totalMinorUnits int64) int64 {
	pct := roundPct(minSavingsPct, totalMinorUnits)
	if pct > minSavingsFloorMinorUnits {
		return pct
	}
	return minSavingsFloorMinorUnits
}

func roundPct(pct int, amount int64) int64 {
	return int64(math.Round(float64(pct) / 100 * float64(amount)))
}

// daysRemaining is the ceiling of the whole-day difference between the window
// end and now, never negative.
func daysRemaining(end, now time.Time) int {
	diff := end.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}
