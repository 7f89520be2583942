package packages

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"blockcoop/core/events"
	nativecommon "blockcoop/native/common"
	"blockcoop/native/fees"
	"blockcoop/native/liquidity"
	"blockcoop/native/vesting"
)

type engineState interface {
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Transfer(from, to []byte, symbol string, amount *big.Int) error
	Mint(addr []byte, symbol string, amount *big.Int) error
	TokenDecimals(symbol string) (uint8, bool)
	VaultAddress(module string) [20]byte
}

// Params are the engine-level purchase controls shared by every package. The
// treasury allocation is minted on top of the buyer total and never reduces
// it.
type Params struct {
	TreasuryBps uint32
	Treasury    [20]byte
}

var engineParamsKey = []byte("packages/params")

// Engine executes purchases: it validates the package, applies the purchase
// fee, converts the net payment to reward tokens, splits them across vesting
// and liquidity, mints the treasury and referral allocations and records the
// outcome in the buyer's ledger. A single purchase either completes every
// step or leaves no trace; callers run it against a copy-on-write state and
// commit only on success.
type Engine struct {
	st       engineState
	registry *Registry
	ledger   *Ledger
	fees     *fees.Registry
	vault    *vesting.Vault
	adapter  *liquidity.Adapter
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	lock     *nativecommon.ReentrancyLock
	nowFn    func() int64
	quota    nativecommon.Quota

	paymentSymbol string
	tokenSymbol   string
}

// NewEngine creates an engine trading the payment asset for the reward token.
// Collaborators are attached with the Set* methods before the first purchase.
func NewEngine(st engineState, paymentSymbol, tokenSymbol string) *Engine {
	return &Engine{
		st:            st,
		registry:      NewRegistry(st),
		ledger:        NewLedger(st),
		emitter:       events.NoopEmitter{},
		lock:          &nativecommon.ReentrancyLock{},
		nowFn:         func() int64 { return time.Now().Unix() },
		paymentSymbol: paymentSymbol,
		tokenSymbol:   tokenSymbol,
	}
}

// Registry exposes the package catalog managed by this engine.
func (e *Engine) Registry() *Registry { return e.registry }

// Ledger exposes the per-buyer purchase history and aggregates.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// SetFees attaches the fee bucket registry consulted on every purchase.
func (e *Engine) SetFees(r *fees.Registry) { e.fees = r }

// SetVault attaches the vesting vault receiving the locked share.
func (e *Engine) SetVault(v *vesting.Vault) { e.vault = v }

// SetLiquidity attaches the pool adapter receiving the liquid share.
func (e *Engine) SetLiquidity(a *liquidity.Adapter) { e.adapter = a }

// SetEmitter configures the event emitter for the engine and its registry.
// Passing nil resets it to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	e.registry.SetEmitter(emitter)
}

// SetPauses wires the pause view honoured by Purchase and the registry.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.pauses = p
	e.registry.SetPauses(p)
}

// SetQuota configures the per-buyer purchase throttle. A zero quota disables
// it.
func (e *Engine) SetQuota(q nativecommon.Quota) { e.quota = q }

// SetNowFunc overrides the purchase timestamp source, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Params loads the engine controls, zero-valued when never configured.
func (e *Engine) Params() (*Params, error) {
	params := &Params{}
	if _, err := e.st.KVGet(engineParamsKey, params); err != nil {
		return nil, err
	}
	return params, nil
}

func (e *Engine) updateParams(caller [20]byte, mutate func(*Params)) error {
	if !e.st.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	params, err := e.Params()
	if err != nil {
		return err
	}
	mutate(params)
	return e.st.KVPut(engineParamsKey, params)
}

// SetTreasury configures the account receiving the treasury allocation and
// the payment remainder.
func (e *Engine) SetTreasury(caller [20]byte, treasury [20]byte) error {
	if treasury == ([20]byte{}) {
		return fmt.Errorf("packages: treasury must not be zero")
	}
	return e.updateParams(caller, func(p *Params) { p.Treasury = treasury })
}

// SetTreasuryBps configures the treasury allocation rate. The allocation is
// minted on top of the buyer total.
func (e *Engine) SetTreasuryBps(caller [20]byte, bps uint32) error {
	if bps > 10_000 {
		return fmt.Errorf("%w: treasury bps %d", ErrBpsOutOfRange, bps)
	}
	return e.updateParams(caller, func(p *Params) { p.TreasuryBps = bps })
}

// Receipt reports the full outcome of a purchase.
type Receipt struct {
	Record         *PurchaseRecord
	TreasuryTokens *big.Int
	ReferralReward *big.Int
	Provisioned    bool
}

// Purchase executes a package purchase for the buyer. The payment amount must
// equal the package entry amount exactly. A zero referrer, or a referrer
// equal to the buyer, forfeits the referral reward without failing the
// purchase.
func (e *Engine) Purchase(buyer [20]byte, packageID uint64, amount *big.Int, referrer [20]byte) (*Receipt, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.lock.Enter(); err != nil {
		return nil, err
	}
	defer e.lock.Exit()
	if e.vault == nil || e.adapter == nil {
		return nil, fmt.Errorf("packages: engine collaborators not configured")
	}

	pkg, err := e.registry.Get(packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, fmt.Errorf("%w: id %d", ErrPackageInactive, packageID)
	}
	if amount == nil || amount.Cmp(pkg.EntryAmount) != 0 {
		return nil, fmt.Errorf("%w: package %d requires %s", ErrWrongPaymentAmount, packageID, pkg.EntryAmount)
	}

	paymentDecimals, ok := e.st.TokenDecimals(e.paymentSymbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, e.paymentSymbol)
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if params.Treasury == ([20]byte{}) {
		return nil, ErrTreasuryNotSet
	}

	quotaUsage, err := e.checkQuota(buyer, amount)
	if err != nil {
		return nil, err
	}

	// purchase fee on the gross payment, collected before any split
	var bucket *fees.Bucket
	if e.fees != nil {
		if b, found, err := e.fees.Bucket(fees.BucketPurchase); err != nil {
			return nil, err
		} else if found {
			bucket = b
		}
	}
	applied := fees.Apply(amount, bucket)
	if applied.Fee.Sign() > 0 {
		if err := e.st.Transfer(buyer[:], applied.Payee[:], e.paymentSymbol, applied.Fee); err != nil {
			return nil, err
		}
	}

	netCanonical, err := ToCanonical(applied.Net, paymentDecimals)
	if err != nil {
		return nil, err
	}
	totalTokens, err := TokensForPayment(netCanonical, pkg.ExchangeRate)
	if err != nil {
		return nil, err
	}
	vestTokens := shareByBps(totalTokens, pkg.VestBps)
	poolTokens := new(big.Int).Sub(totalTokens, vestTokens)

	// the net payment mirrors the token split: the liquid share pairs the
	// pool deposit, the rest funds the treasury
	paymentPool := shareByBps(applied.Net, 10_000-pkg.VestBps)
	paymentTreasury := new(big.Int).Sub(applied.Net, paymentPool)

	adapterAddr := e.adapter.Address()
	if paymentPool.Sign() > 0 {
		if err := e.st.Transfer(buyer[:], adapterAddr[:], e.paymentSymbol, paymentPool); err != nil {
			return nil, err
		}
	}
	if paymentTreasury.Sign() > 0 {
		if err := e.st.Transfer(buyer[:], params.Treasury[:], e.paymentSymbol, paymentTreasury); err != nil {
			return nil, err
		}
	}

	treasuryTokens := shareByBps(totalTokens, params.TreasuryBps)
	if treasuryTokens.Sign() > 0 {
		if err := e.st.Mint(params.Treasury[:], e.tokenSymbol, treasuryTokens); err != nil {
			return nil, err
		}
		e.emitter.Emit(events.TreasuryAllocated{
			Treasury: params.Treasury,
			Amount:   new(big.Int).Set(treasuryTokens),
		})
	}

	if vestTokens.Sign() > 0 {
		if _, err := e.vault.Lock(buyer, vestTokens, pkg.CliffSeconds, pkg.DurationSeconds); err != nil {
			return nil, err
		}
	}

	provisioned := false
	if poolTokens.Sign() > 0 {
		if err := e.st.Mint(adapterAddr[:], e.tokenSymbol, poolTokens); err != nil {
			return nil, err
		}
		result, err := e.adapter.Provision(paymentPool, poolTokens)
		if err != nil {
			return nil, err
		}
		provisioned = result.Provisioned
	}

	referralReward, err := e.payReferral(buyer, referrer, pkg, totalTokens)
	if err != nil {
		return nil, err
	}

	seq, err := e.ledger.NextSeq(buyer)
	if err != nil {
		return nil, err
	}
	record := &PurchaseRecord{
		Buyer:       buyer,
		Seq:         seq,
		PackageID:   packageID,
		GrossPaid:   new(big.Int).Set(amount),
		NetPaid:     new(big.Int).Set(applied.Net),
		TotalTokens: totalTokens,
		VestTokens:  vestTokens,
		PoolTokens:  poolTokens,
		Timestamp:   uint64(e.nowFn()),
		Referrer:    referrer,
	}
	if err := e.ledger.Record(record); err != nil {
		return nil, err
	}
	if e.fees != nil && bucket != nil {
		if err := e.fees.RecordUsage(fees.BucketPurchase); err != nil {
			return nil, err
		}
	}
	if quotaUsage != nil {
		if err := e.st.KVPut(quotaKey(buyer), quotaUsage); err != nil {
			return nil, err
		}
	}

	e.emitter.Emit(events.Purchased{
		Buyer:       buyer,
		PackageID:   packageID,
		GrossPaid:   new(big.Int).Set(amount),
		NetPaid:     new(big.Int).Set(applied.Net),
		TotalTokens: new(big.Int).Set(totalTokens),
		VestTokens:  new(big.Int).Set(vestTokens),
		PoolTokens:  new(big.Int).Set(poolTokens),
		Referrer:    referrer,
	})
	return &Receipt{
		Record:         record,
		TreasuryTokens: treasuryTokens,
		ReferralReward: referralReward,
		Provisioned:    provisioned,
	}, nil
}

func quotaKey(buyer [20]byte) []byte {
	return append([]byte("packages/quota/"), buyer[:]...)
}

// checkQuota evaluates the per-buyer throttle for one more purchase of the
// given payment amount. It returns the updated counters to persist, nil when
// the throttle is disabled.
func (e *Engine) checkQuota(buyer [20]byte, amount *big.Int) (*nativecommon.QuotaNow, error) {
	if !e.quota.Enabled() {
		return nil, nil
	}
	// without an epoch length the counters never roll over; the limits
	// bound the buyer's lifetime usage instead of resetting every second
	var epoch uint64
	if e.quota.EpochSeconds > 0 {
		epoch = uint64(e.nowFn()) / uint64(e.quota.EpochSeconds)
	}
	usage := nativecommon.QuotaNow{}
	if _, err := e.st.KVGet(quotaKey(buyer), &usage); err != nil {
		return nil, err
	}
	addPayment := uint64(math.MaxUint64)
	if amount.IsUint64() {
		addPayment = amount.Uint64()
	}
	next, err := nativecommon.CheckQuota(e.quota, epoch, usage, 1, addPayment)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// referralBps resolves the referral rate for a package: the package value
// wins, the referral fee bucket supplies the default.
func (e *Engine) referralBps(pkg *Package) (uint32, error) {
	if pkg.ReferralBps > 0 || e.fees == nil {
		return pkg.ReferralBps, nil
	}
	bucket, found, err := e.fees.Bucket(fees.BucketReferral)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return bucket.RateBps, nil
}

// payReferral mints the referral reward on the buyer total. It returns the
// amount paid, zero when the referral was skipped.
func (e *Engine) payReferral(buyer, referrer [20]byte, pkg *Package, totalTokens *big.Int) (*big.Int, error) {
	if referrer == ([20]byte{}) {
		return big.NewInt(0), nil
	}
	bps, err := e.referralBps(pkg)
	if err != nil {
		return nil, err
	}
	if bps == 0 {
		return big.NewInt(0), nil
	}
	if referrer == buyer {
		e.emitter.Emit(events.ReferralSkipped{
			Buyer:    buyer,
			Referrer: referrer,
			Reason:   "self referral",
		})
		return big.NewInt(0), nil
	}
	reward := ReferralReward(totalTokens, bps)
	if reward.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := e.st.Mint(referrer[:], e.tokenSymbol, reward); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.ReferralPaid{
		Referrer: referrer,
		Buyer:    buyer,
		Reward:   new(big.Int).Set(reward),
	})
	return reward, nil
}
