// Package identity derives the canonical dedupe key for ingested receipts.
// Ingestion channels deliver at least once, so this key is the sole guard
// against duplicate receipt rows.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/smallbiznis/returnwatch/internal/domain"
)

// defaultCurrency is assumed when the extractor could not determine one.
const defaultCurrency = "USD"

// delimiter joins canonical fields. None of the normalized fields can contain
// it: user/order ids are trimmed opaque tokens, merchant is lower-cased text,
// the date, currency, and amount components are fixed formats.
const delimiter = "|"

// Canonicalize reduces a receipt's identity fields to a deterministic string.
//
// Two receipts that differ only by whitespace padding, merchant casing,
// numeric-vs-string total representation, or purchase time-of-day within the
// same UTC calendar day canonicalize identically.
func Canonicalize(r domain.ReceiptIdentity) string {
	parts := []string{
		strings.TrimSpace(r.UserID),
		strings.ToLower(strings.TrimSpace(r.Merchant)),
		strings.TrimSpace(r.OrderID),
		canonicalDay(r),
		canonicalCurrency(r.Currency),
		strconv.FormatInt(NormalizeAmount(r.Total), 10),
	}
	return strings.Join(parts, delimiter)
}

// Hash returns the 64-character lowercase hex sha256 digest of the canonical
// string.
func Hash(r domain.ReceiptIdentity) string {
	sum := sha256.Sum256([]byte(Canonicalize(r)))
	return hex.EncodeToString(sum[:])
}

func canonicalDay(r domain.ReceiptIdentity) string {
	if r.PurchasedAt == nil || r.PurchasedAt.IsZero() {
		return ""
	}
	return r.PurchasedAt.UTC().Format("2006-01-02")
}

func canonicalCurrency(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return defaultCurrency
	}
	return trimmed
}

// NormalizeAmount reduces the extractor's total representation to an integer
// count of minor currency units. Numeric inputs are taken as minor units
// as-is, with floats rounded to the nearest integer: 129.99 becomes 130, not
// 12999. Strings have every character that is not a digit or minus sign
// stripped before parsing, so "$129.99" becomes 12999. Anything non-finite or
// unparseable normalizes to zero.
func NormalizeAmount(total any) int64 {
	switch v := total.(type) {
	case nil:
		return 0
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(math.Round(v))
	case float32:
		return NormalizeAmount(float64(v))
	case string:
		return parseAmountString(v)
	default:
		return parseAmountString(fmt.Sprint(v))
	}
}

func parseAmountString(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
