package core

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"blockcoop/core/events"
	"blockcoop/core/state"
	"blockcoop/core/types"
	nativecommon "blockcoop/native/common"
	"blockcoop/native/fees"
	"blockcoop/native/liquidity"
	"blockcoop/native/packages"
	"blockcoop/native/vesting"
	"blockcoop/storage"
	statetrie "blockcoop/storage/trie"
)

// stateRootKey locates the latest committed state root in the raw store.
var stateRootKey = []byte("blockcoop/state-root")

// TokenSpec declares a token registered at genesis.
type TokenSpec struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// Genesis seeds a fresh store on first start. It is ignored once a state
// root exists.
type Genesis struct {
	PaymentToken TokenSpec
	RewardToken  TokenSpec
	// Admin receives the package, fee and liquidity administrator roles.
	Admin [20]byte
	// Treasury, when set, is configured for both the purchase engine and
	// the liquidity fallback.
	Treasury    [20]byte
	TreasuryBps uint32
}

// Node is the central controller: it owns the state trie and executes every
// operation as an atomic transaction. A failed operation leaves the committed
// state untouched; a successful one commits a new root and appends its events
// to the log.
type Node struct {
	mu       sync.Mutex
	db       storage.Database
	trie     *statetrie.Trie
	sequence uint64

	paymentSymbol string
	tokenSymbol   string
	pool          liquidity.Pool
	quota         nativecommon.Quota
	nowFn         func() int64

	pauseMu sync.RWMutex
	paused  map[string]bool

	eventMu  sync.RWMutex
	eventLog []*types.Event
}

// NewNode opens the state at the last committed root, seeding it from the
// genesis definition when the store is empty.
func NewNode(db storage.Database, genesis *Genesis) (*Node, error) {
	var root []byte
	hasRoot, err := db.Has(stateRootKey)
	if err != nil {
		return nil, fmt.Errorf("probe state root: %w", err)
	}
	if hasRoot {
		if root, err = db.Get(stateRootKey); err != nil {
			return nil, fmt.Errorf("load state root: %w", err)
		}
	}
	tr, err := statetrie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	n := &Node{
		db:     db,
		trie:   tr,
		paused: make(map[string]bool),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
	if genesis != nil {
		n.paymentSymbol = genesis.PaymentToken.Symbol
		n.tokenSymbol = genesis.RewardToken.Symbol
	}
	if len(root) == 0 {
		if genesis == nil {
			return nil, fmt.Errorf("empty store requires a genesis definition")
		}
		if err := n.applyGenesis(genesis); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
	}
	return n, nil
}

// SetPool attaches the market maker pool used for liquidity provisioning.
func (n *Node) SetPool(pool liquidity.Pool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pool = pool
}

// SetQuota configures the per-buyer purchase throttle.
func (n *Node) SetQuota(q nativecommon.Quota) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.quota = q
}

// SetNowFunc overrides the clock, primarily for deterministic tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

// IsPaused reports whether the named module is paused. The node itself is the
// pause view handed to the engines.
func (n *Node) IsPaused(module string) bool {
	n.pauseMu.RLock()
	defer n.pauseMu.RUnlock()
	return n.paused[module]
}

// Pause suspends the named module's state-changing operations.
func (n *Node) Pause(module string) {
	n.pauseMu.Lock()
	defer n.pauseMu.Unlock()
	n.paused[module] = true
}

// Resume lifts a pause.
func (n *Node) Resume(module string) {
	n.pauseMu.Lock()
	defer n.pauseMu.Unlock()
	delete(n.paused, module)
}

// runtime binds the engines to one state view for the duration of a single
// operation.
type runtime struct {
	manager *state.Manager
	engine  *packages.Engine
	fees    *fees.Registry
	vault   *vesting.Vault
	adapter *liquidity.Adapter
}

type eventCollector struct {
	collected []*types.Event
}

func (c *eventCollector) Emit(evt events.Event) {
	type converter interface {
		Event() *types.Event
	}
	if conv, ok := evt.(converter); ok {
		c.collected = append(c.collected, conv.Event())
		return
	}
	c.collected = append(c.collected, &types.Event{Type: evt.EventType()})
}

func (n *Node) newRuntime(manager *state.Manager, emitter events.Emitter) *runtime {
	feesReg := fees.NewRegistry(manager)
	feesReg.SetEmitter(emitter)

	vault := vesting.NewVault(manager, n.tokenSymbol)
	vault.SetEmitter(emitter)
	vault.SetNowFunc(n.nowFn)

	adapter := liquidity.NewAdapter(manager, n.paymentSymbol, n.tokenSymbol)
	adapter.SetEmitter(emitter)
	adapter.SetNowFunc(n.nowFn)
	if n.pool != nil {
		adapter.SetPool(n.pool)
	}

	engine := packages.NewEngine(manager, n.paymentSymbol, n.tokenSymbol)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(n.nowFn)
	engine.SetPauses(n)
	engine.SetQuota(n.quota)
	engine.SetFees(feesReg)
	engine.SetVault(vault)
	engine.SetLiquidity(adapter)

	return &runtime{
		manager: manager,
		engine:  engine,
		fees:    feesReg,
		vault:   vault,
		adapter: adapter,
	}
}

// withState runs fn against a speculative copy of the trie. The copy is
// committed and its events published only when fn succeeds.
func (n *Node) withState(fn func(rt *runtime) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	working, err := n.trie.Copy()
	if err != nil {
		return err
	}
	collector := &eventCollector{}
	rt := n.newRuntime(state.NewManager(working), collector)
	if err := fn(rt); err != nil {
		return err
	}

	parent := n.trie.Root()
	n.sequence++
	root, err := working.Commit(parent, n.sequence)
	if err != nil {
		n.sequence--
		return fmt.Errorf("commit state: %w", err)
	}
	if err := n.db.Put(stateRootKey, root.Bytes()); err != nil {
		return fmt.Errorf("persist state root: %w", err)
	}
	n.trie = working

	if len(collector.collected) > 0 {
		n.eventMu.Lock()
		n.eventLog = append(n.eventLog, collector.collected...)
		n.eventMu.Unlock()
	}
	return nil
}

// withView runs fn against the committed state without copying it. fn must
// not mutate.
func (n *Node) withView(fn func(rt *runtime) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	rt := n.newRuntime(state.NewManager(n.trie), events.NoopEmitter{})
	return fn(rt)
}

func (n *Node) applyGenesis(genesis *Genesis) error {
	if genesis.PaymentToken.Symbol == "" || genesis.RewardToken.Symbol == "" {
		return fmt.Errorf("genesis requires payment and reward token symbols")
	}
	return n.withState(func(rt *runtime) error {
		payment := genesis.PaymentToken
		if err := rt.manager.RegisterToken(payment.Symbol, payment.Name, payment.Decimals); err != nil {
			return err
		}
		reward := genesis.RewardToken
		if err := rt.manager.RegisterToken(reward.Symbol, reward.Name, reward.Decimals); err != nil {
			return err
		}
		if genesis.Admin != ([20]byte{}) {
			for _, role := range []string{packages.RoleAdmin, liquidity.RoleAdmin, fees.RoleAdmin} {
				if err := rt.manager.SetRole(role, genesis.Admin[:]); err != nil {
					return err
				}
			}
		}
		if genesis.Treasury != ([20]byte{}) {
			if genesis.Admin == ([20]byte{}) {
				return fmt.Errorf("genesis treasury requires an admin")
			}
			if err := rt.engine.SetTreasury(genesis.Admin, genesis.Treasury); err != nil {
				return err
			}
			if err := rt.adapter.SetTreasury(genesis.Admin, genesis.Treasury); err != nil {
				return err
			}
		}
		if genesis.TreasuryBps > 0 {
			if err := rt.engine.SetTreasuryBps(genesis.Admin, genesis.TreasuryBps); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddPackage registers a new purchasable package and returns its id.
func (n *Node) AddPackage(caller [20]byte, pkg *packages.Package) (uint64, error) {
	var id uint64
	err := n.withState(func(rt *runtime) error {
		var err error
		id, err = rt.engine.Registry().Add(caller, pkg)
		return err
	})
	return id, err
}

// SetPackageActive toggles a package's listing.
func (n *Node) SetPackageActive(caller [20]byte, id uint64, active bool) error {
	return n.withState(func(rt *runtime) error {
		return rt.engine.Registry().SetActive(caller, id, active)
	})
}

// SetExchangeRate reprices a package.
func (n *Node) SetExchangeRate(caller [20]byte, id uint64, rate *big.Int) error {
	return n.withState(func(rt *runtime) error {
		return rt.engine.Registry().SetExchangeRate(caller, id, rate)
	})
}

// SetTreasury updates the purchase engine treasury account.
func (n *Node) SetTreasury(caller [20]byte, treasury [20]byte) error {
	return n.withState(func(rt *runtime) error {
		return rt.engine.SetTreasury(caller, treasury)
	})
}

// SetTreasuryBps updates the treasury allocation rate.
func (n *Node) SetTreasuryBps(caller [20]byte, bps uint32) error {
	return n.withState(func(rt *runtime) error {
		return rt.engine.SetTreasuryBps(caller, bps)
	})
}

// SetFeeBucket creates or reconfigures a fee bucket.
func (n *Node) SetFeeBucket(caller [20]byte, key string, rateBps uint32, payee [20]byte) error {
	return n.withState(func(rt *runtime) error {
		return rt.fees.SetBucket(caller, key, rateBps, payee)
	})
}

// SetLiquidityTargetPrice updates the bootstrap pairing price.
func (n *Node) SetLiquidityTargetPrice(caller [20]byte, price *big.Int) error {
	return n.withState(func(rt *runtime) error {
		return rt.adapter.SetGlobalTargetPrice(caller, price)
	})
}

// SetLiquiditySlippage updates the pool deposit tolerance.
func (n *Node) SetLiquiditySlippage(caller [20]byte, bps uint32) error {
	return n.withState(func(rt *runtime) error {
		return rt.adapter.SetSlippageTolerance(caller, bps)
	})
}

// SetLiquidityDeadline updates the pool deposit deadline window.
func (n *Node) SetLiquidityDeadline(caller [20]byte, seconds uint64) error {
	return n.withState(func(rt *runtime) error {
		return rt.adapter.SetDeadlineWindow(caller, seconds)
	})
}

// SetLiquidityTreasury updates the fallback account for degraded deposits.
func (n *Node) SetLiquidityTreasury(caller [20]byte, treasury [20]byte) error {
	return n.withState(func(rt *runtime) error {
		return rt.adapter.SetTreasury(caller, treasury)
	})
}

// Purchase executes a package purchase atomically.
func (n *Node) Purchase(buyer [20]byte, packageID uint64, amount *big.Int, referrer [20]byte) (*packages.Receipt, error) {
	var receipt *packages.Receipt
	err := n.withState(func(rt *runtime) error {
		var err error
		receipt, err = rt.engine.Purchase(buyer, packageID, amount, referrer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ClaimVested pays out every claimable vested token for the beneficiary.
func (n *Node) ClaimVested(beneficiary [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := n.withState(func(rt *runtime) error {
		var err error
		paid, err = rt.vault.Claim(beneficiary)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// MintPayment credits payment tokens to an account. Deployments bridge real
// deposits through this entry point.
func (n *Node) MintPayment(to [20]byte, amount *big.Int) error {
	return n.withState(func(rt *runtime) error {
		return rt.manager.Mint(to[:], n.paymentSymbol, amount)
	})
}

// GetPackage returns a package definition by id.
func (n *Node) GetPackage(id uint64) (*packages.Package, error) {
	var pkg *packages.Package
	err := n.withView(func(rt *runtime) error {
		var err error
		pkg, err = rt.engine.Registry().Get(id)
		return err
	})
	return pkg, err
}

// ActivePackageIDs lists the ids of all purchasable packages, ascending.
func (n *Node) ActivePackageIDs() ([]uint64, error) {
	var ids []uint64
	err := n.withView(func(rt *runtime) error {
		var err error
		ids, err = rt.engine.Registry().ActiveIDs()
		return err
	})
	return ids, err
}

// NextPackageID returns the id the next registered package will receive.
func (n *Node) NextPackageID() (uint64, error) {
	var id uint64
	err := n.withView(func(rt *runtime) error {
		var err error
		id, err = rt.engine.Registry().NextID()
		return err
	})
	return id, err
}

// UserStats returns a buyer's aggregate purchase statistics.
func (n *Node) UserStats(buyer [20]byte) (*packages.UserStats, error) {
	var stats *packages.UserStats
	err := n.withView(func(rt *runtime) error {
		var err error
		stats, err = rt.engine.Ledger().Stats(buyer)
		return err
	})
	return stats, err
}

// UserPurchases returns a buyer's full purchase history in order.
func (n *Node) UserPurchases(buyer [20]byte) ([]*packages.PurchaseRecord, error) {
	var records []*packages.PurchaseRecord
	err := n.withView(func(rt *runtime) error {
		var err error
		records, err = rt.engine.Ledger().Purchases(buyer)
		return err
	})
	return records, err
}

// UserPackageIDs returns the distinct package ids a buyer has purchased.
func (n *Node) UserPackageIDs(buyer [20]byte) ([]uint64, error) {
	var ids []uint64
	err := n.withView(func(rt *runtime) error {
		var err error
		ids, err = rt.engine.Ledger().PackageIDs(buyer)
		return err
	})
	return ids, err
}

// VestingSummary aggregates a beneficiary's grants.
func (n *Node) VestingSummary(beneficiary [20]byte) (*vesting.Summary, error) {
	var summary *vesting.Summary
	err := n.withView(func(rt *runtime) error {
		var err error
		summary, err = rt.vault.Summarize(beneficiary)
		return err
	})
	return summary, err
}

// VestingGrants lists a beneficiary's grants in creation order.
func (n *Node) VestingGrants(beneficiary [20]byte) ([]*vesting.Grant, error) {
	var grants []*vesting.Grant
	err := n.withView(func(rt *runtime) error {
		var err error
		grants, err = rt.vault.Grants(beneficiary)
		return err
	})
	return grants, err
}

// FeeBucket returns a fee bucket configuration by key.
func (n *Node) FeeBucket(key string) (*fees.Bucket, bool, error) {
	var (
		bucket *fees.Bucket
		found  bool
	)
	err := n.withView(func(rt *runtime) error {
		var err error
		bucket, found, err = rt.fees.Bucket(key)
		return err
	})
	return bucket, found, err
}

// LiquidityParams returns the current pool controls.
func (n *Node) LiquidityParams() (*liquidity.Params, error) {
	var params *liquidity.Params
	err := n.withView(func(rt *runtime) error {
		var err error
		params, err = rt.adapter.Params()
		return err
	})
	return params, err
}

// MarketPrice reports the live pool price and whether the pool has liquidity.
func (n *Node) MarketPrice() (*big.Int, bool, error) {
	var (
		price        *big.Int
		hasLiquidity bool
	)
	err := n.withView(func(rt *runtime) error {
		var err error
		price, hasLiquidity, err = rt.adapter.MarketPrice()
		return err
	})
	return price, hasLiquidity, err
}

// Balance returns an account's balance for the given token symbol.
func (n *Node) Balance(account [20]byte, symbol string) (*big.Int, error) {
	var balance *big.Int
	err := n.withView(func(rt *runtime) error {
		var err error
		balance, err = rt.manager.Balance(account[:], symbol)
		return err
	})
	return balance, err
}

// Token returns a registered token's metadata.
func (n *Node) Token(symbol string) (*state.TokenMetadata, error) {
	var meta *state.TokenMetadata
	err := n.withView(func(rt *runtime) error {
		var err error
		meta, err = rt.manager.Token(symbol)
		return err
	})
	return meta, err
}

// Events returns the events published since offset. The returned slice is a
// copy.
func (n *Node) Events(offset int) []*types.Event {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(n.eventLog) {
		return nil
	}
	out := make([]*types.Event, len(n.eventLog)-offset)
	copy(out, n.eventLog[offset:])
	return out
}

// StateRoot returns the current committed state root.
func (n *Node) StateRoot() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	root := n.trie.Root()
	return root.Bytes()
}
