package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaPurchasesExceeded = errors.New("quota purchases exceeded")
	ErrQuotaPaymentExceeded   = errors.New("quota payment cap exceeded")
	ErrQuotaCounterOverflow   = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	PurchaseCount uint32
	PaymentUsed   uint64
	EpochID       uint64
}

// Quota defines the per-address purchase limits enforced within one epoch.
// Zero-valued limits are unenforced; a zero EpochSeconds pins all usage to a
// single epoch, making the limits lifetime totals.
type Quota struct {
	MaxPurchasesPerEpoch uint32
	MaxPaymentPerEpoch   uint64
	EpochSeconds         uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxPurchasesPerEpoch > 0 || q.MaxPaymentPerEpoch > 0
}

// CheckQuota verifies whether the additional purchase and payment usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded; counters reset when the epoch
// rolls over.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addPurchases uint32, addPayment uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addPurchases > 0 {
		if next.PurchaseCount > math.MaxUint32-addPurchases {
			return prev, ErrQuotaCounterOverflow
		}
		next.PurchaseCount += addPurchases
	}
	if q.MaxPurchasesPerEpoch > 0 && next.PurchaseCount > q.MaxPurchasesPerEpoch {
		return prev, ErrQuotaPurchasesExceeded
	}

	if addPayment > 0 {
		if next.PaymentUsed > math.MaxUint64-addPayment {
			return prev, ErrQuotaCounterOverflow
		}
		next.PaymentUsed += addPayment
	}
	if q.MaxPaymentPerEpoch > 0 && next.PaymentUsed > q.MaxPaymentPerEpoch {
		return prev, ErrQuotaPaymentExceeded
	}

	return next, nil
}
