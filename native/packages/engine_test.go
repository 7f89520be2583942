package packages

import (
	"errors"
	"math/big"
	"testing"

	"blockcoop/core/events"
	"blockcoop/core/state"
	nativecommon "blockcoop/native/common"
	"blockcoop/native/fees"
	"blockcoop/native/liquidity"
	"blockcoop/native/vesting"
	"blockcoop/storage"
	statetrie "blockcoop/storage/trie"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) byType(eventType string) []events.Event {
	var matched []events.Event
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

type stubPauses struct {
	paused map[string]bool
}

func (s stubPauses) IsPaused(module string) bool { return s.paused[module] }

type purchaseFixture struct {
	manager  *state.Manager
	engine   *Engine
	vault    *vesting.Vault
	adapter  *liquidity.Adapter
	pool     *liquidity.ConstantProductPool
	fees     *fees.Registry
	emitter  *capturingEmitter
	admin    [20]byte
	treasury [20]byte
	now      int64
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("parse big int %q", s)
	}
	return v
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := statetrie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("create trie: %v", err)
	}
	manager := state.NewManager(tr)
	if err := manager.RegisterToken("USDT", "Tether USD", 6); err != nil {
		t.Fatalf("register payment token: %v", err)
	}
	if err := manager.RegisterToken("BLOCKS", "BlockCoop Token", 18); err != nil {
		t.Fatalf("register reward token: %v", err)
	}

	fx := &purchaseFixture{
		manager:  manager,
		emitter:  &capturingEmitter{},
		admin:    addr(0xAD),
		treasury: addr(0xBE),
		now:      1_700_000_000,
	}
	for _, role := range []string{RoleAdmin, liquidity.RoleAdmin, "ROLE_FEE_ADMIN"} {
		if err := manager.SetRole(role, fx.admin[:]); err != nil {
			t.Fatalf("grant %s: %v", role, err)
		}
	}

	clock := func() int64 { return fx.now }

	fx.vault = vesting.NewVault(manager, "BLOCKS")
	fx.vault.SetEmitter(fx.emitter)
	fx.vault.SetNowFunc(clock)

	fx.adapter = liquidity.NewAdapter(manager, "USDT", "BLOCKS")
	fx.adapter.SetEmitter(fx.emitter)
	fx.adapter.SetNowFunc(clock)
	fx.pool = liquidity.NewConstantProductPool(addr(0xCC))
	fx.pool.SetNowFunc(clock)
	fx.adapter.SetPool(fx.pool)
	if err := fx.adapter.SetTreasury(fx.admin, fx.treasury); err != nil {
		t.Fatalf("set adapter treasury: %v", err)
	}
	// one whole token costs two payment units
	if err := fx.adapter.SetGlobalTargetPrice(fx.admin, bigFromString(t, "2000000000000000000")); err != nil {
		t.Fatalf("set target price: %v", err)
	}
	if err := fx.adapter.SetSlippageTolerance(fx.admin, 100); err != nil {
		t.Fatalf("set slippage: %v", err)
	}

	fx.fees = fees.NewRegistry(manager)
	fx.fees.SetEmitter(fx.emitter)

	fx.engine = NewEngine(manager, "USDT", "BLOCKS")
	fx.engine.SetEmitter(fx.emitter)
	fx.engine.SetNowFunc(clock)
	fx.engine.SetVault(fx.vault)
	fx.engine.SetLiquidity(fx.adapter)
	fx.engine.SetFees(fx.fees)
	if err := fx.engine.SetTreasury(fx.admin, fx.treasury); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if err := fx.engine.SetTreasuryBps(fx.admin, 500); err != nil {
		t.Fatalf("set treasury bps: %v", err)
	}
	return fx
}

// addStandardPackage creates the reference package: 100 USDT entry, rate of
// two payment units per token, 70% vested, 5% referral, one-year unlock.
func (fx *purchaseFixture) addStandardPackage(t *testing.T) uint64 {
	t.Helper()
	id, err := fx.engine.Registry().Add(fx.admin, &Package{
		Name:            "Starter",
		EntryAmount:     big.NewInt(100_000_000),
		ExchangeRate:    bigFromString(t, "2000000000000000000"),
		VestBps:         7000,
		CliffSeconds:    0,
		DurationSeconds: 365 * 24 * 3600,
		ReferralBps:     500,
	})
	if err != nil {
		t.Fatalf("add package: %v", err)
	}
	return id
}

func (fx *purchaseFixture) fund(t *testing.T, account [20]byte, symbol string, amount *big.Int) {
	t.Helper()
	if err := fx.manager.Mint(account[:], symbol, amount); err != nil {
		t.Fatalf("fund %s: %v", symbol, err)
	}
}

func (fx *purchaseFixture) balance(t *testing.T, account [20]byte, symbol string) *big.Int {
	t.Helper()
	bal, err := fx.manager.Balance(account[:], symbol)
	if err != nil {
		t.Fatalf("balance %s: %v", symbol, err)
	}
	return bal
}

func TestPurchaseSplitsTokensAndPayment(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	referrer := addr(0x02)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	receipt, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), referrer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	// 100 payment at rate 2 buys 50 tokens; 70% vests, 30% pairs the pool
	wantTotal := bigFromString(t, "50000000000000000000")
	wantVest := bigFromString(t, "35000000000000000000")
	wantPool := bigFromString(t, "15000000000000000000")
	if receipt.Record.TotalTokens.Cmp(wantTotal) != 0 {
		t.Fatalf("total tokens: got %s want %s", receipt.Record.TotalTokens, wantTotal)
	}
	if receipt.Record.VestTokens.Cmp(wantVest) != 0 {
		t.Fatalf("vest tokens: got %s want %s", receipt.Record.VestTokens, wantVest)
	}
	if receipt.Record.PoolTokens.Cmp(wantPool) != 0 {
		t.Fatalf("pool tokens: got %s want %s", receipt.Record.PoolTokens, wantPool)
	}

	// treasury and referral are minted on top of the buyer total, 5% each
	wantExtra := bigFromString(t, "2500000000000000000")
	if receipt.TreasuryTokens.Cmp(wantExtra) != 0 {
		t.Fatalf("treasury tokens: got %s want %s", receipt.TreasuryTokens, wantExtra)
	}
	if receipt.ReferralReward.Cmp(wantExtra) != 0 {
		t.Fatalf("referral reward: got %s want %s", receipt.ReferralReward, wantExtra)
	}
	if got := fx.balance(t, referrer, "BLOCKS"); got.Cmp(wantExtra) != 0 {
		t.Fatalf("referrer balance: got %s want %s", got, wantExtra)
	}
	if got := fx.balance(t, fx.treasury, "BLOCKS"); got.Cmp(wantExtra) != 0 {
		t.Fatalf("treasury token balance: got %s want %s", got, wantExtra)
	}

	// payment side mirrors the split: 30 pairs the pool, 70 funds treasury
	if !receipt.Provisioned {
		t.Fatalf("expected pool deposit to succeed")
	}
	if got := fx.balance(t, fx.pool.Address(), "USDT"); got.Cmp(big.NewInt(30_000_000)) != 0 {
		t.Fatalf("pool payment balance: got %s", got)
	}
	if got := fx.balance(t, fx.pool.Address(), "BLOCKS"); got.Cmp(wantPool) != 0 {
		t.Fatalf("pool token balance: got %s", got)
	}
	if got := fx.balance(t, fx.treasury, "USDT"); got.Cmp(big.NewInt(70_000_000)) != 0 {
		t.Fatalf("treasury payment balance: got %s", got)
	}
	if got := fx.balance(t, buyer, "USDT"); got.Sign() != 0 {
		t.Fatalf("buyer should have spent the full entry amount, got %s", got)
	}
	if got := fx.balance(t, fx.vault.Address(), "BLOCKS"); got.Cmp(wantVest) != 0 {
		t.Fatalf("vault token balance: got %s want %s", got, wantVest)
	}

	if evts := fx.emitter.byType(events.TypePurchased); len(evts) != 1 {
		t.Fatalf("expected one purchase event, got %d", len(evts))
	}
	if evts := fx.emitter.byType(events.TypeReferralPaid); len(evts) != 1 {
		t.Fatalf("expected one referral event, got %d", len(evts))
	}
	if evts := fx.emitter.byType(events.TypeLiquidityAdded); len(evts) != 1 {
		t.Fatalf("expected one liquidity event, got %d", len(evts))
	}
}

func TestPurchaseAppliesFeeBucket(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	feeCollector := addr(0x0F)
	if err := fx.fees.SetBucket(fx.admin, fees.BucketPurchase, 100, feeCollector); err != nil {
		t.Fatalf("set fee bucket: %v", err)
	}
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	receipt, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got := fx.balance(t, feeCollector, "USDT"); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("fee collector balance: got %s", got)
	}
	if receipt.Record.NetPaid.Cmp(big.NewInt(99_000_000)) != 0 {
		t.Fatalf("net paid: got %s", receipt.Record.NetPaid)
	}
	// 99 payment at rate 2 buys 49.5 tokens
	wantTotal := bigFromString(t, "49500000000000000000")
	if receipt.Record.TotalTokens.Cmp(wantTotal) != 0 {
		t.Fatalf("total tokens: got %s want %s", receipt.Record.TotalTokens, wantTotal)
	}
	bucket, ok, err := fx.fees.Bucket(fees.BucketPurchase)
	if err != nil || !ok {
		t.Fatalf("load bucket: ok=%v err=%v", ok, err)
	}
	if bucket.Usage != 1 {
		t.Fatalf("bucket usage: got %d want 1", bucket.Usage)
	}
}

func TestPurchaseRejectsWrongAmountAndInactivePackage(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(200_000_000))

	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(99_000_000), [20]byte{}); !errors.Is(err, ErrWrongPaymentAmount) {
		t.Fatalf("expected wrong amount error, got %v", err)
	}
	if _, err := fx.engine.Purchase(buyer, id, nil, [20]byte{}); !errors.Is(err, ErrWrongPaymentAmount) {
		t.Fatalf("expected wrong amount error for nil, got %v", err)
	}
	if err := fx.engine.Registry().SetActive(fx.admin, id, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); !errors.Is(err, ErrPackageInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
	if _, err := fx.engine.Purchase(buyer, id+1, big.NewInt(100_000_000), [20]byte{}); !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestPurchaseSkipsSelfReferral(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	receipt, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), buyer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.ReferralReward.Sign() != 0 {
		t.Fatalf("expected zero referral reward, got %s", receipt.ReferralReward)
	}
	if evts := fx.emitter.byType(events.TypeReferralSkipped); len(evts) != 1 {
		t.Fatalf("expected one skip event, got %d", len(evts))
	}
	if evts := fx.emitter.byType(events.TypeReferralPaid); len(evts) != 0 {
		t.Fatalf("expected no referral payout, got %d", len(evts))
	}
}

func TestPurchaseWithoutReferrerSkipsSilently(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	receipt, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.ReferralReward.Sign() != 0 {
		t.Fatalf("expected zero referral reward, got %s", receipt.ReferralReward)
	}
	if evts := fx.emitter.byType(events.TypeReferralSkipped); len(evts) != 0 {
		t.Fatalf("expected no skip event for absent referrer, got %d", len(evts))
	}
}

func TestPurchaseFallsBackToReferralBucketRate(t *testing.T) {
	fx := newPurchaseFixture(t)
	id, err := fx.engine.Registry().Add(fx.admin, &Package{
		Name:            "Flat",
		EntryAmount:     big.NewInt(100_000_000),
		ExchangeRate:    bigFromString(t, "2000000000000000000"),
		VestBps:         7000,
		DurationSeconds: 365 * 24 * 3600,
	})
	if err != nil {
		t.Fatalf("add package: %v", err)
	}
	if err := fx.fees.SetBucket(fx.admin, fees.BucketReferral, 300, fx.treasury); err != nil {
		t.Fatalf("set referral bucket: %v", err)
	}
	buyer := addr(0x01)
	referrer := addr(0x02)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	receipt, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), referrer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// 3% of the 50-token total
	want := bigFromString(t, "1500000000000000000")
	if receipt.ReferralReward.Cmp(want) != 0 {
		t.Fatalf("referral reward: got %s want %s", receipt.ReferralReward, want)
	}
	if got := fx.balance(t, referrer, "BLOCKS"); got.Cmp(want) != 0 {
		t.Fatalf("referrer balance: got %s want %s", got, want)
	}
}

func TestPurchaseRequiresTreasury(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	// a fresh engine over the same state, with no treasury configured
	bare := NewEngine(fx.manager, "USDT", "BLOCKS")
	bare.SetVault(fx.vault)
	bare.SetLiquidity(fx.adapter)
	if err := fx.manager.KVPut([]byte("packages/params"), &Params{}); err != nil {
		t.Fatalf("reset params: %v", err)
	}
	if _, err := bare.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); !errors.Is(err, ErrTreasuryNotSet) {
		t.Fatalf("expected treasury error, got %v", err)
	}
}

func TestPurchaseHonoursPause(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(100_000_000))

	fx.engine.SetPauses(stubPauses{paused: map[string]bool{"packages": true}})
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err == nil {
		t.Fatalf("expected pause to block purchase")
	}
	fx.engine.SetPauses(stubPauses{})
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
		t.Fatalf("purchase after unpause: %v", err)
	}
}

func TestPurchaseInsufficientFundsFails(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(50_000_000))

	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestSetTreasuryBpsValidation(t *testing.T) {
	fx := newPurchaseFixture(t)
	if err := fx.engine.SetTreasuryBps(fx.admin, 10_001); !errors.Is(err, ErrBpsOutOfRange) {
		t.Fatalf("expected bps error, got %v", err)
	}
	outsider := addr(0x33)
	if err := fx.engine.SetTreasuryBps(outsider, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := fx.engine.SetTreasury(outsider, addr(0x44)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPurchaseEnforcesQuota(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(300_000_000))

	fx.engine.SetQuota(nativecommon.Quota{MaxPurchasesPerEpoch: 2, EpochSeconds: 3600})
	for i := 0; i < 2; i++ {
		if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); !errors.Is(err, nativecommon.ErrQuotaPurchasesExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// a new epoch resets the counters
	fx.now += 3600
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
		t.Fatalf("purchase after rollover: %v", err)
	}
}

func TestPurchaseQuotaWithoutEpochNeverResets(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(300_000_000))

	// no epoch length: the limit caps the buyer's lifetime purchases
	fx.engine.SetQuota(nativecommon.Quota{MaxPurchasesPerEpoch: 1})
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	fx.now += 86_400
	if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); !errors.Is(err, nativecommon.ErrQuotaPurchasesExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestPurchaseAccumulatesLedgerStats(t *testing.T) {
	fx := newPurchaseFixture(t)
	id := fx.addStandardPackage(t)
	buyer := addr(0x01)
	fx.fund(t, buyer, "USDT", big.NewInt(200_000_000))

	for i := 0; i < 2; i++ {
		if _, err := fx.engine.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	stats, err := fx.engine.Ledger().Stats(buyer)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PurchaseCount != 2 {
		t.Fatalf("purchase count: got %d want 2", stats.PurchaseCount)
	}
	if stats.TotalInvested.Cmp(big.NewInt(200_000_000)) != 0 {
		t.Fatalf("total invested: got %s", stats.TotalInvested)
	}
	wantTotal := bigFromString(t, "100000000000000000000")
	if stats.TotalTokens.Cmp(wantTotal) != 0 {
		t.Fatalf("total tokens: got %s want %s", stats.TotalTokens, wantTotal)
	}
	history, err := fx.engine.Ledger().Purchases(buyer)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Seq != 0 || history[1].Seq != 1 {
		t.Fatalf("unexpected history: %+v", history)
	}
	grants, err := fx.vault.Grants(buyer)
	if err != nil {
		t.Fatalf("grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected two independent grants, got %d", len(grants))
	}
}
