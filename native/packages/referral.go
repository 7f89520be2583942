package packages

import "math/big"

// ReferralReward computes the referral payout for a purchase. The base is the
// buyer's total token amount, so the reward is independent of the treasury
// allocation minted alongside it.
func ReferralReward(totalTokens *big.Int, referralBps uint32) *big.Int {
	return shareByBps(totalTokens, referralBps)
}
