package core

import (
	"errors"
	"math/big"
	"testing"

	"blockcoop/core/events"
	"blockcoop/native/liquidity"
	"blockcoop/native/packages"
	"blockcoop/storage"
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func testGenesis() *Genesis {
	return &Genesis{
		PaymentToken: TokenSpec{Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		RewardToken:  TokenSpec{Symbol: "BLOCKS", Name: "BlockCoop Token", Decimals: 18},
		Admin:        testAddr(0xAD),
		Treasury:     testAddr(0xBE),
		TreasuryBps:  500,
	}
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := NewNode(db, testGenesis())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	now := int64(1_700_000_000)
	node.SetNowFunc(func() int64 { return now })

	pool := liquidity.NewConstantProductPool(testAddr(0xCC))
	pool.SetNowFunc(func() int64 { return now })
	node.SetPool(pool)

	admin := testAddr(0xAD)
	if err := node.SetLiquidityTargetPrice(admin, bigMust(t, "2000000000000000000")); err != nil {
		t.Fatalf("set target price: %v", err)
	}
	if err := node.SetLiquiditySlippage(admin, 100); err != nil {
		t.Fatalf("set slippage: %v", err)
	}
	return node
}

func bigMust(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("parse big int %q", s)
	}
	return v
}

func addTestPackage(t *testing.T, node *Node) uint64 {
	t.Helper()
	id, err := node.AddPackage(testAddr(0xAD), &packages.Package{
		Name:            "Starter",
		EntryAmount:     big.NewInt(100_000_000),
		ExchangeRate:    bigMust(t, "2000000000000000000"),
		VestBps:         7000,
		DurationSeconds: 365 * 24 * 3600,
		ReferralBps:     500,
	})
	if err != nil {
		t.Fatalf("add package: %v", err)
	}
	return id
}

func TestNodePurchaseCommitsAtomically(t *testing.T) {
	node := newTestNode(t)
	id := addTestPackage(t, node)
	buyer := testAddr(0x01)
	referrer := testAddr(0x02)

	if err := node.MintPayment(buyer, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("mint payment: %v", err)
	}
	receipt, err := node.Purchase(buyer, id, big.NewInt(100_000_000), referrer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Record.TotalTokens.Cmp(bigMust(t, "50000000000000000000")) != 0 {
		t.Fatalf("total tokens: got %s", receipt.Record.TotalTokens)
	}

	stats, err := node.UserStats(buyer)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PurchaseCount != 1 {
		t.Fatalf("purchase count: got %d", stats.PurchaseCount)
	}
	balance, err := node.Balance(referrer, "BLOCKS")
	if err != nil {
		t.Fatalf("referrer balance: %v", err)
	}
	if balance.Cmp(bigMust(t, "2500000000000000000")) != 0 {
		t.Fatalf("referrer reward: got %s", balance)
	}
}

func TestNodeFailedPurchaseLeavesStateUntouched(t *testing.T) {
	node := newTestNode(t)
	id := addTestPackage(t, node)
	buyer := testAddr(0x01)

	// partially funded: the treasury transfer inside the purchase fails
	if err := node.MintPayment(buyer, big.NewInt(50_000_000)); err != nil {
		t.Fatalf("mint payment: %v", err)
	}
	rootBefore := node.StateRoot()
	if _, err := node.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err == nil {
		t.Fatalf("expected purchase to fail")
	}
	rootAfter := node.StateRoot()
	if string(rootBefore) != string(rootAfter) {
		t.Fatalf("state root changed on failed purchase")
	}
	balance, err := node.Balance(buyer, "USDT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("buyer balance mutated: got %s", balance)
	}
	stats, err := node.UserStats(buyer)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PurchaseCount != 0 {
		t.Fatalf("ledger mutated on failed purchase")
	}
}

func TestNodePublishesEventsOnCommitOnly(t *testing.T) {
	node := newTestNode(t)
	id := addTestPackage(t, node)
	buyer := testAddr(0x01)

	offset := len(node.Events(0))
	if _, err := node.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err == nil {
		t.Fatalf("expected unfunded purchase to fail")
	}
	if evts := node.Events(offset); len(evts) != 0 {
		t.Fatalf("failed purchase must not publish events, got %d", len(evts))
	}

	if err := node.MintPayment(buyer, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("mint payment: %v", err)
	}
	if _, err := node.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	var purchased bool
	for _, evt := range node.Events(offset) {
		if evt.Type == events.TypePurchased {
			purchased = true
		}
	}
	if !purchased {
		t.Fatalf("expected a purchase event after commit")
	}
}

func TestNodeVestingClaimFlow(t *testing.T) {
	node := newTestNode(t)
	id := addTestPackage(t, node)
	buyer := testAddr(0x01)

	if err := node.MintPayment(buyer, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("mint payment: %v", err)
	}
	if _, err := node.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	summary, err := node.VestingSummary(buyer)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalLocked.Cmp(bigMust(t, "35000000000000000000")) != 0 {
		t.Fatalf("total locked: got %s", summary.TotalLocked)
	}

	// half the vesting window later, roughly half the grant is claimable
	now := int64(1_700_000_000 + 365*12*3600)
	node.SetNowFunc(func() int64 { return now })
	paid, err := node.ClaimVested(buyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(bigMust(t, "17500000000000000000")) != 0 {
		t.Fatalf("claimed: got %s", paid)
	}
	balance, err := node.Balance(buyer, "BLOCKS")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(paid) != 0 {
		t.Fatalf("beneficiary balance: got %s", balance)
	}

	// an immediate retry releases nothing new and succeeds as a no-op
	retry, err := node.ClaimVested(buyer)
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if retry.Sign() != 0 {
		t.Fatalf("retry should pay nothing, got %s", retry)
	}
	balance, err = node.Balance(buyer, "BLOCKS")
	if err != nil {
		t.Fatalf("balance after retry: %v", err)
	}
	if balance.Cmp(paid) != 0 {
		t.Fatalf("retry must not move tokens, balance %s", balance)
	}
}

func TestNodePauseBlocksPurchases(t *testing.T) {
	node := newTestNode(t)
	id := addTestPackage(t, node)
	buyer := testAddr(0x01)
	if err := node.MintPayment(buyer, big.NewInt(100_000_000)); err != nil {
		t.Fatalf("mint payment: %v", err)
	}

	node.Pause("packages")
	if _, err := node.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err == nil {
		t.Fatalf("expected paused purchase to fail")
	}
	node.Resume("packages")
	if _, err := node.Purchase(buyer, id, big.NewInt(100_000_000), [20]byte{}); err != nil {
		t.Fatalf("purchase after resume: %v", err)
	}
}

func TestNodeCatalogQueries(t *testing.T) {
	node := newTestNode(t)
	first := addTestPackage(t, node)
	second := addTestPackage(t, node)

	next, err := node.NextPackageID()
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if next != second+1 {
		t.Fatalf("next id: got %d want %d", next, second+1)
	}
	if err := node.SetPackageActive(testAddr(0xAD), first, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	ids, err := node.ActivePackageIDs()
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != second {
		t.Fatalf("active ids: got %v", ids)
	}
	if _, err := node.GetPackage(99); !errors.Is(err, packages.ErrPackageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNodeReopensFromPersistedRoot(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	node, err := NewNode(db, testGenesis())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	id, err := node.AddPackage(testAddr(0xAD), &packages.Package{
		Name:            "Persistent",
		EntryAmount:     big.NewInt(10_000_000),
		ExchangeRate:    bigMust(t, "1000000000000000000"),
		VestBps:         5000,
		DurationSeconds: 1000,
	})
	if err != nil {
		t.Fatalf("add package: %v", err)
	}
	db.Close()

	db, err = storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer db.Close()
	reopened, err := NewNode(db, testGenesis())
	if err != nil {
		t.Fatalf("reopen node: %v", err)
	}
	pkg, err := reopened.GetPackage(id)
	if err != nil {
		t.Fatalf("get package after reopen: %v", err)
	}
	if pkg.Name != "Persistent" {
		t.Fatalf("unexpected package: %+v", pkg)
	}
}
