package domain

import "time"

// Suggestion is the action the decision engine recommends for a receipt.
type Suggestion string

const (
	SuggestionUnknown     Suggestion = "unknown"
	SuggestionPriceAdjust Suggestion = "price_adjust"
	SuggestionReturnFee   Suggestion = "return_w_fee"
	SuggestionReturnFree  Suggestion = "return_free"
	SuggestionKeep        Suggestion = "keep"
)

// DecisionPreview is the immutable result of evaluating a receipt against its
// merchant policy at a point in time.
type DecisionPreview struct {
	Policy      MerchantPolicy
	PurchasedAt *time.Time
	EvaluatedAt time.Time

	TotalMinorUnits   int64
	CurrentMinorUnits *int64
	SavingsMinorUnits *int64

	ReturnWindowEnd     *time.Time
	AdjustWindowEnd     *time.Time
	ReturnDaysRemaining int
	AdjustDaysRemaining int

	Suggestion  Suggestion
	FeeEstimate *int64
	Reason      string
}
