package domain

import "time"

// Receipt is a purchase record after extraction and deduplication.
type Receipt struct {
	ID              int64
	UserID          string
	Merchant        string
	OrderID         string
	PurchasedAt     *time.Time
	Currency        string
	TotalMinorUnits int64
	DedupeHash      string
	CreatedAt       time.Time
}

// ReceiptIdentity carries the identity fields of an ingested receipt. Extractors
// leave fields zero-valued when they cannot determine them, so every field is
// optional. The struct exists only to derive a dedupe key and is never persisted
// on its own.
type ReceiptIdentity struct {
	UserID      string
	Merchant    string
	OrderID     string
	PurchasedAt *time.Time
	Currency    string
	// Total is either an integer count of minor currency units or a numeric
	// string as produced by the extractor ("$1,234.00" style values included).
	Total any
}
