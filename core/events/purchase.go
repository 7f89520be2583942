package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"blockcoop/core/types"
)

const (
	// TypePackageAdded is emitted when an administrator registers a new
	// purchasable package.
	TypePackageAdded = "packages.added"
	// TypePackageUpdated is emitted when a package is activated, deactivated
	// or repriced.
	TypePackageUpdated = "packages.updated"
	// TypePurchased is emitted once per successful purchase with the full
	// token split.
	TypePurchased = "packages.purchased"
	// TypeReferralPaid is emitted when a referral reward is minted to the
	// referrer of a purchase.
	TypeReferralPaid = "packages.referral.paid"
	// TypeReferralSkipped is emitted when a purchase carried a referrer that
	// did not qualify for a reward (absent, zero, or the buyer itself).
	TypeReferralSkipped = "packages.referral.skipped"
	// TypeTreasuryAllocated is emitted when the treasury share of a purchase
	// is minted.
	TypeTreasuryAllocated = "packages.treasury.allocated"
	// TypeLiquidityAdded is emitted when the pool share of a purchase is
	// deposited into the market maker pool.
	TypeLiquidityAdded = "liquidity.added"
	// TypeLiquidityFailed is emitted when the pool deposit degraded to the
	// treasury fallback instead of aborting the purchase.
	TypeLiquidityFailed = "liquidity.add_failed"
	// TypeVestingLocked is emitted when a vesting grant is created.
	TypeVestingLocked = "vesting.locked"
	// TypeVestingClaimed is emitted when a beneficiary claims vested tokens.
	TypeVestingClaimed = "vesting.claimed"
	// TypeFeeBucketUpdated is emitted when a fee bucket's rate or payee
	// changes.
	TypeFeeBucketUpdated = "fees.bucket.updated"
)

// PackageAdded captures the definition of a newly registered package.
type PackageAdded struct {
	ID           uint64
	Name         string
	EntryAmount  *big.Int
	ExchangeRate *big.Int
	VestBps      uint32
	ReferralBps  uint32
}

// EventType implements the Event interface.
func (PackageAdded) EventType() string { return TypePackageAdded }

// Event converts the catalog addition to the generic event payload.
func (p PackageAdded) Event() *types.Event {
	return &types.Event{
		Type: TypePackageAdded,
		Attributes: map[string]string{
			"id":           strconv.FormatUint(p.ID, 10),
			"name":         p.Name,
			"entryAmount":  bigString(p.EntryAmount),
			"exchangeRate": bigString(p.ExchangeRate),
			"vestBps":      strconv.FormatUint(uint64(p.VestBps), 10),
			"referralBps":  strconv.FormatUint(uint64(p.ReferralBps), 10),
		},
	}
}

// PackageUpdated captures an activation toggle or exchange-rate adjustment.
type PackageUpdated struct {
	ID           uint64
	Active       bool
	ExchangeRate *big.Int
}

// EventType implements the Event interface.
func (PackageUpdated) EventType() string { return TypePackageUpdated }

// Event converts the catalog update to the generic event payload.
func (p PackageUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePackageUpdated,
		Attributes: map[string]string{
			"id":           strconv.FormatUint(p.ID, 10),
			"active":       strconv.FormatBool(p.Active),
			"exchangeRate": bigString(p.ExchangeRate),
		},
	}
}

// Purchased captures the complete token split of a successful purchase. The
// attribute layout matches the historical Purchased log consumed by the admin
// dashboard.
type Purchased struct {
	Buyer       [20]byte
	PackageID   uint64
	GrossPaid   *big.Int
	NetPaid     *big.Int
	TotalTokens *big.Int
	VestTokens  *big.Int
	PoolTokens  *big.Int
	Referrer    [20]byte
}

// EventType implements the Event interface.
func (Purchased) EventType() string { return TypePurchased }

// Event converts the purchase to the generic event payload.
func (p Purchased) Event() *types.Event {
	return &types.Event{
		Type: TypePurchased,
		Attributes: map[string]string{
			"buyer":       hex.EncodeToString(p.Buyer[:]),
			"packageId":   strconv.FormatUint(p.PackageID, 10),
			"grossPaid":   bigString(p.GrossPaid),
			"netPaid":     bigString(p.NetPaid),
			"totalTokens": bigString(p.TotalTokens),
			"vestTokens":  bigString(p.VestTokens),
			"poolTokens":  bigString(p.PoolTokens),
			"referrer":    hex.EncodeToString(p.Referrer[:]),
		},
	}
}

// ReferralPaid captures a referral reward payout.
type ReferralPaid struct {
	Referrer [20]byte
	Buyer    [20]byte
	Reward   *big.Int
}

// EventType implements the Event interface.
func (ReferralPaid) EventType() string { return TypeReferralPaid }

// Event converts the payout to the generic event payload.
func (r ReferralPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralPaid,
		Attributes: map[string]string{
			"referrer": hex.EncodeToString(r.Referrer[:]),
			"buyer":    hex.EncodeToString(r.Buyer[:]),
			"reward":   bigString(r.Reward),
		},
	}
}

// TreasuryAllocated captures the treasury mint accompanying a purchase. The
// amount is never part of any buyer- or referrer-facing total.
type TreasuryAllocated struct {
	Treasury [20]byte
	Amount   *big.Int
}

// EventType implements the Event interface.
func (TreasuryAllocated) EventType() string { return TypeTreasuryAllocated }

// Event converts the allocation to the generic event payload.
func (a TreasuryAllocated) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryAllocated,
		Attributes: map[string]string{
			"treasury": hex.EncodeToString(a.Treasury[:]),
			"amount":   bigString(a.Amount),
		},
	}
}

// LiquidityAdded captures the amounts actually deposited into the pool.
type LiquidityAdded struct {
	PaymentAmount *big.Int
	TokenAmount   *big.Int
}

// EventType implements the Event interface.
func (LiquidityAdded) EventType() string { return TypeLiquidityAdded }

// Event converts the deposit to the generic event payload.
func (l LiquidityAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidityAdded,
		Attributes: map[string]string{
			"paymentAmount": bigString(l.PaymentAmount),
			"tokenAmount":   bigString(l.TokenAmount),
		},
	}
}

// LiquidityAdditionFailed captures a degraded pool deposit: the payment share
// was redirected to the treasury and the purchase still succeeded.
type LiquidityAdditionFailed struct {
	PaymentAmount *big.Int
	TokenAmount   *big.Int
	Reason        string
}

// EventType implements the Event interface.
func (LiquidityAdditionFailed) EventType() string { return TypeLiquidityFailed }

// Event converts the degraded deposit to the generic event payload.
func (l LiquidityAdditionFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidityFailed,
		Attributes: map[string]string{
			"paymentAmount": bigString(l.PaymentAmount),
			"tokenAmount":   bigString(l.TokenAmount),
			"reason":        l.Reason,
		},
	}
}

// VestingLocked captures the creation of a vesting grant.
type VestingLocked struct {
	Beneficiary [20]byte
	Amount      *big.Int
	Start       uint64
	Cliff       uint64
	End         uint64
}

// EventType implements the Event interface.
func (VestingLocked) EventType() string { return TypeVestingLocked }

// Event converts the grant to the generic event payload.
func (v VestingLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingLocked,
		Attributes: map[string]string{
			"beneficiary": hex.EncodeToString(v.Beneficiary[:]),
			"amount":      bigString(v.Amount),
			"start":       strconv.FormatUint(v.Start, 10),
			"cliff":       strconv.FormatUint(v.Cliff, 10),
			"end":         strconv.FormatUint(v.End, 10),
		},
	}
}

// ReferralSkipped captures a purchase whose referrer did not qualify for a
// reward.
type ReferralSkipped struct {
	Buyer    [20]byte
	Referrer [20]byte
	Reason   string
}

// EventType implements the Event interface.
func (ReferralSkipped) EventType() string { return TypeReferralSkipped }

// Event converts the skipped referral to the generic event payload.
func (r ReferralSkipped) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralSkipped,
		Attributes: map[string]string{
			"buyer":    hex.EncodeToString(r.Buyer[:]),
			"referrer": hex.EncodeToString(r.Referrer[:]),
			"reason":   r.Reason,
		},
	}
}

// VestingClaimed captures a claim of vested tokens.
type VestingClaimed struct {
	Beneficiary [20]byte
	Amount      *big.Int
}

// EventType implements the Event interface.
func (VestingClaimed) EventType() string { return TypeVestingClaimed }

// Event converts the claim to the generic event payload.
func (v VestingClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeVestingClaimed,
		Attributes: map[string]string{
			"beneficiary": hex.EncodeToString(v.Beneficiary[:]),
			"amount":      bigString(v.Amount),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
