package packages

import (
	"fmt"
	"math/big"
	"strings"
)

// Package captures a purchasable tier: its entry price in the payment asset,
// the exchange rate applied to convert payment into reward tokens, and the
// vesting and referral terms.
//
// All fields except Active and ExchangeRate are immutable after creation;
// retiring a package deactivates it rather than deleting it so historical
// purchases stay auditable.
type Package struct {
	ID   uint64
	Name string
	// EntryAmount is the exact purchase price in native payment-asset units.
	EntryAmount *big.Int
	// ExchangeRate is expressed at canonical precision: payment units per
	// one whole reward token.
	ExchangeRate    *big.Int
	VestBps         uint32
	CliffSeconds    uint64
	DurationSeconds uint64
	ReferralBps     uint32
	Active          bool
}

// Clone returns a deep copy of the package so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	clone := *p
	if p.EntryAmount != nil {
		clone.EntryAmount = new(big.Int).Set(p.EntryAmount)
	} else {
		clone.EntryAmount = big.NewInt(0)
	}
	if p.ExchangeRate != nil {
		clone.ExchangeRate = new(big.Int).Set(p.ExchangeRate)
	} else {
		clone.ExchangeRate = big.NewInt(0)
	}
	return &clone
}

// SanitizePackage validates and normalises the supplied definition, returning
// a cloned instance with trimmed naming and non-nil amount fields. The
// function does not mutate the original value.
func SanitizePackage(p *Package) (*Package, error) {
	if p == nil {
		return nil, fmt.Errorf("packages: nil package")
	}
	clone := p.Clone()
	clone.Name = strings.TrimSpace(clone.Name)
	if clone.Name == "" {
		return nil, fmt.Errorf("packages: name must not be empty")
	}
	if clone.EntryAmount.Sign() <= 0 {
		return nil, fmt.Errorf("packages: entry amount must be positive")
	}
	if clone.ExchangeRate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	if clone.VestBps > 10_000 {
		return nil, fmt.Errorf("%w: vest bps %d", ErrBpsOutOfRange, clone.VestBps)
	}
	if clone.ReferralBps > 10_000 {
		return nil, fmt.Errorf("%w: referral bps %d", ErrBpsOutOfRange, clone.ReferralBps)
	}
	if clone.DurationSeconds == 0 {
		return nil, fmt.Errorf("packages: vesting duration must be positive")
	}
	if clone.CliffSeconds > clone.DurationSeconds {
		return nil, fmt.Errorf("packages: cliff exceeds vesting duration")
	}
	return clone, nil
}
