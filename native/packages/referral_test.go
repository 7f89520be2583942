package packages

import (
	"math/big"
	"testing"
)

func TestReferralRewardUsesBuyerTotalOnly(t *testing.T) {
	total := new(big.Int).Mul(big.NewInt(50), big.NewInt(1e18))
	reward := ReferralReward(total, 500)
	want := new(big.Int).Mul(big.NewInt(25), big.NewInt(1e17))
	if reward.Cmp(want) != 0 {
		t.Fatalf("reward = %s, want %s", reward, want)
	}
	// a treasury allocation mints on top of the total and must not move
	// the referral base
	withTreasury := new(big.Int).Add(total, shareByBps(total, 500))
	if ReferralReward(total, 500).Cmp(ReferralReward(withTreasury, 500)) == 0 {
		t.Fatalf("expected distinct rewards for distinct bases")
	}
}

func TestReferralRewardZeroCases(t *testing.T) {
	if got := ReferralReward(big.NewInt(0), 500); got.Sign() != 0 {
		t.Fatalf("zero total: got %s", got)
	}
	if got := ReferralReward(big.NewInt(1_000_000), 0); got.Sign() != 0 {
		t.Fatalf("zero bps: got %s", got)
	}
}
