package vesting

import "math/big"

// Grant is a single vesting schedule created by one purchase. Grants are kept
// independent per purchase so a later purchase can never retroactively move
// the cliff or change the unlock curve of an earlier one; queries aggregate
// them per beneficiary.
type Grant struct {
	Beneficiary [20]byte
	Total       *big.Int
	// Start anchors the linear unlock. Vesting accrues from Start but is
	// gated by Cliff: nothing is claimable before the cliff timestamp, and
	// once it passes the accrued amount unlocks at once.
	Start   uint64
	Cliff   uint64
	End     uint64
	Claimed *big.Int
}

// Clone returns a deep copy of the grant.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	clone := *g
	if g.Total != nil {
		clone.Total = new(big.Int).Set(g.Total)
	} else {
		clone.Total = big.NewInt(0)
	}
	if g.Claimed != nil {
		clone.Claimed = new(big.Int).Set(g.Claimed)
	} else {
		clone.Claimed = big.NewInt(0)
	}
	return &clone
}

// VestedAt returns the amount of the grant vested at time t. The function is
// pure: vested amounts depend only on the grant terms and the clock, never on
// claim activity.
func (g *Grant) VestedAt(t uint64) *big.Int {
	if g == nil || g.Total == nil || g.Total.Sign() <= 0 {
		return big.NewInt(0)
	}
	if t < g.Cliff || t < g.Start {
		return big.NewInt(0)
	}
	if t >= g.End || g.End <= g.Start {
		return new(big.Int).Set(g.Total)
	}
	elapsed := new(big.Int).SetUint64(t - g.Start)
	window := new(big.Int).SetUint64(g.End - g.Start)
	vested := new(big.Int).Mul(g.Total, elapsed)
	return vested.Quo(vested, window)
}

// ClaimableAt returns the portion of the grant vested at time t that has not
// been claimed yet.
func (g *Grant) ClaimableAt(t uint64) *big.Int {
	vested := g.VestedAt(t)
	if g == nil || g.Claimed == nil {
		return vested
	}
	claimable := new(big.Int).Sub(vested, g.Claimed)
	if claimable.Sign() < 0 {
		return big.NewInt(0)
	}
	return claimable
}

// Summary aggregates a beneficiary's grants for display.
type Summary struct {
	TotalLocked *big.Int
	Vested      *big.Int
	Claimed     *big.Int
	Claimable   *big.Int
	GrantCount  uint64
}
