package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"blockcoop/config"
	"blockcoop/native/fees"
	"blockcoop/native/liquidity"
	"blockcoop/native/packages"
	"blockcoop/native/vesting"
)

// decodeParams unmarshals the first positional parameter into out.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("missing params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(s string) ([20]byte, error) {
	return config.ParseAddress(s)
}

// parseOptionalAddress accepts an empty string as the zero address.
func parseOptionalAddress(s string) ([20]byte, error) {
	if s == "" {
		return [20]byte{}, nil
	}
	return parseAddress(s)
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	return v, nil
}

func encodeAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid params", err.Error())
}

func writeServerError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusOK, id, codeServerError, err.Error(), nil)
}

// PackageResult is the wire form of a package definition.
type PackageResult struct {
	ID              uint64 `json:"id"`
	Name            string `json:"name"`
	EntryAmount     string `json:"entryAmount"`
	ExchangeRate    string `json:"exchangeRate"`
	VestBps         uint32 `json:"vestBps"`
	CliffSeconds    uint64 `json:"cliffSeconds"`
	DurationSeconds uint64 `json:"durationSeconds"`
	ReferralBps     uint32 `json:"referralBps"`
	Active          bool   `json:"active"`
}

func packageResult(pkg *packages.Package) *PackageResult {
	return &PackageResult{
		ID:              pkg.ID,
		Name:            pkg.Name,
		EntryAmount:     bigString(pkg.EntryAmount),
		ExchangeRate:    bigString(pkg.ExchangeRate),
		VestBps:         pkg.VestBps,
		CliffSeconds:    pkg.CliffSeconds,
		DurationSeconds: pkg.DurationSeconds,
		ReferralBps:     pkg.ReferralBps,
		Active:          pkg.Active,
	}
}

// PurchaseResult is the wire form of a purchase receipt.
type PurchaseResult struct {
	Buyer          string `json:"buyer"`
	PackageID      uint64 `json:"packageId"`
	GrossPaid      string `json:"grossPaid"`
	NetPaid        string `json:"netPaid"`
	TotalTokens    string `json:"totalTokens"`
	VestTokens     string `json:"vestTokens"`
	PoolTokens     string `json:"poolTokens"`
	TreasuryTokens string `json:"treasuryTokens"`
	ReferralReward string `json:"referralReward"`
	Referrer       string `json:"referrer,omitempty"`
	Provisioned    bool   `json:"liquidityProvisioned"`
	Timestamp      uint64 `json:"timestamp"`
}

func purchaseResult(receipt *packages.Receipt) *PurchaseResult {
	rec := receipt.Record
	result := &PurchaseResult{
		Buyer:          encodeAddress(rec.Buyer),
		PackageID:      rec.PackageID,
		GrossPaid:      bigString(rec.GrossPaid),
		NetPaid:        bigString(rec.NetPaid),
		TotalTokens:    bigString(rec.TotalTokens),
		VestTokens:     bigString(rec.VestTokens),
		PoolTokens:     bigString(rec.PoolTokens),
		TreasuryTokens: bigString(receipt.TreasuryTokens),
		ReferralReward: bigString(receipt.ReferralReward),
		Provisioned:    receipt.Provisioned,
		Timestamp:      rec.Timestamp,
	}
	if rec.Referrer != ([20]byte{}) {
		result.Referrer = encodeAddress(rec.Referrer)
	}
	return result
}

// PurchaseRecordResult is the wire form of a ledger entry.
type PurchaseRecordResult struct {
	Seq         uint64 `json:"seq"`
	PackageID   uint64 `json:"packageId"`
	GrossPaid   string `json:"grossPaid"`
	NetPaid     string `json:"netPaid"`
	TotalTokens string `json:"totalTokens"`
	VestTokens  string `json:"vestTokens"`
	PoolTokens  string `json:"poolTokens"`
	Timestamp   uint64 `json:"timestamp"`
	Referrer    string `json:"referrer,omitempty"`
}

func purchaseRecordResult(rec *packages.PurchaseRecord) *PurchaseRecordResult {
	result := &PurchaseRecordResult{
		Seq:         rec.Seq,
		PackageID:   rec.PackageID,
		GrossPaid:   bigString(rec.GrossPaid),
		NetPaid:     bigString(rec.NetPaid),
		TotalTokens: bigString(rec.TotalTokens),
		VestTokens:  bigString(rec.VestTokens),
		PoolTokens:  bigString(rec.PoolTokens),
		Timestamp:   rec.Timestamp,
	}
	if rec.Referrer != ([20]byte{}) {
		result.Referrer = encodeAddress(rec.Referrer)
	}
	return result
}

// UserStatsResult is the wire form of a buyer's aggregates.
type UserStatsResult struct {
	TotalInvested string `json:"totalInvested"`
	TotalTokens   string `json:"totalTokens"`
	VestTokens    string `json:"vestTokens"`
	PoolTokens    string `json:"poolTokens"`
	PurchaseCount uint64 `json:"purchaseCount"`
}

func userStatsResult(stats *packages.UserStats) *UserStatsResult {
	return &UserStatsResult{
		TotalInvested: bigString(stats.TotalInvested),
		TotalTokens:   bigString(stats.TotalTokens),
		VestTokens:    bigString(stats.VestTokens),
		PoolTokens:    bigString(stats.PoolTokens),
		PurchaseCount: stats.PurchaseCount,
	}
}

// VestingSummaryResult is the wire form of a beneficiary's aggregates.
type VestingSummaryResult struct {
	TotalLocked string `json:"totalLocked"`
	Vested      string `json:"vested"`
	Claimed     string `json:"claimed"`
	Claimable   string `json:"claimable"`
	GrantCount  uint64 `json:"grantCount"`
}

func vestingSummaryResult(summary *vesting.Summary) *VestingSummaryResult {
	return &VestingSummaryResult{
		TotalLocked: bigString(summary.TotalLocked),
		Vested:      bigString(summary.Vested),
		Claimed:     bigString(summary.Claimed),
		Claimable:   bigString(summary.Claimable),
		GrantCount:  summary.GrantCount,
	}
}

// GrantResult is the wire form of a single vesting grant.
type GrantResult struct {
	Total   string `json:"total"`
	Start   uint64 `json:"start"`
	Cliff   uint64 `json:"cliff"`
	End     uint64 `json:"end"`
	Claimed string `json:"claimed"`
}

func grantResult(grant *vesting.Grant) *GrantResult {
	return &GrantResult{
		Total:   bigString(grant.Total),
		Start:   grant.Start,
		Cliff:   grant.Cliff,
		End:     grant.End,
		Claimed: bigString(grant.Claimed),
	}
}

// FeeBucketResult is the wire form of a fee bucket.
type FeeBucketResult struct {
	Key     string `json:"key"`
	RateBps uint32 `json:"rateBps"`
	Payee   string `json:"payee"`
	Usage   uint64 `json:"usage"`
}

func feeBucketResult(bucket *fees.Bucket) *FeeBucketResult {
	return &FeeBucketResult{
		Key:     bucket.Key,
		RateBps: bucket.RateBps,
		Payee:   encodeAddress(bucket.Payee),
		Usage:   bucket.Usage,
	}
}

// LiquidityParamsResult is the wire form of the pool controls.
type LiquidityParamsResult struct {
	TargetPrice     string `json:"targetPrice"`
	SlippageBps     uint32 `json:"slippageBps"`
	DeadlineSeconds uint64 `json:"deadlineSeconds"`
	Treasury        string `json:"treasury,omitempty"`
}

func liquidityParamsResult(params *liquidity.Params) *LiquidityParamsResult {
	result := &LiquidityParamsResult{
		TargetPrice:     bigString(params.TargetPrice),
		SlippageBps:     params.SlippageBps,
		DeadlineSeconds: params.DeadlineSeconds,
	}
	if params.Treasury != ([20]byte{}) {
		result.Treasury = encodeAddress(params.Treasury)
	}
	return result
}
