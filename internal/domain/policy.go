package domain

// MerchantPolicy describes the return and price-adjustment rules for a merchant.
type MerchantPolicy struct {
	Merchant              string
	ReturnWindowDays      int
	PriceAdjustWindowDays int
	RestockingFeePct      int
}

// PriceAdjustEnabled reports whether the merchant honors price adjustments at all.
func (p MerchantPolicy) PriceAdjustEnabled() bool {
	return p.PriceAdjustWindowDays > 0
}
