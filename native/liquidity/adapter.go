package liquidity

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"blockcoop/core/events"
)

const (
	// RoleAdmin may adjust the pool parameters: target price, slippage
	// tolerance, deadline window and treasury fallback.
	RoleAdmin = "ROLE_LIQUIDITY_ADMIN"
)

var (
	errNilState = errors.New("liquidity adapter: state not configured")
	errNilPool  = errors.New("liquidity adapter: pool not configured")

	ErrUnauthorized = errors.New("liquidity: unauthorized")
	// ErrNoPriceReference is produced when the pool is empty and no global
	// target price has been configured; it degrades to the treasury fallback
	// like any other deposit failure.
	ErrNoPriceReference = errors.New("liquidity: no usable price reference")
	// ErrSlippageExceeded is returned by pools when the deposit ratio moved
	// beyond the configured tolerance.
	ErrSlippageExceeded = errors.New("liquidity: slippage exceeded")
	// ErrDeadlineExceeded is returned by pools when the deposit deadline
	// passed before execution.
	ErrDeadlineExceeded = errors.New("liquidity: deadline exceeded")
)

// Pool is the external automated market maker the adapter deposits into. The
// engine never assumes the pool is available or balanced; every error is
// converted into the treasury fallback.
type Pool interface {
	// Reserves reports the pool's current holdings in native payment units
	// and reward-token units. ok is false when the pool is empty or its
	// state cannot be read.
	Reserves() (payment *big.Int, token *big.Int, ok bool)
	// Address identifies the pool's settlement account; deposited funds are
	// transferred there on success.
	Address() [20]byte
	// AddLiquidity submits a deposit. Implementations reject it when the
	// executable amounts fall below the supplied minimums or the deadline
	// has passed.
	AddLiquidity(payment, token, minPayment, minToken *big.Int, deadline int64) (*Deposit, error)
}

// Deposit reports the amounts a pool actually accepted.
type Deposit struct {
	Payment   *big.Int
	Token     *big.Int
	Liquidity *big.Int
}

// Params are the administrator-configured pool controls.
type Params struct {
	// TargetPrice is the fallback pairing reference, expressed at canonical
	// precision: payment units per one whole reward token. Used only when
	// the pool has no readable reserves.
	TargetPrice *big.Int
	SlippageBps uint32
	// DeadlineSeconds is added to the current time to form the absolute
	// deposit deadline.
	DeadlineSeconds uint64
	Treasury        [20]byte
}

func (p *Params) normalize() *Params {
	if p.TargetPrice == nil {
		p.TargetPrice = big.NewInt(0)
	}
	if p.DeadlineSeconds == 0 {
		p.DeadlineSeconds = 300
	}
	return p
}

type adapterState interface {
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Transfer(from, to []byte, symbol string, amount *big.Int) error
	TokenDecimals(symbol string) (uint8, bool)
	VaultAddress(module string) [20]byte
}

// Adapter provisions a payment-asset amount and a matching reward-token
// amount into the external pool at a slippage-bounded ratio. Failures degrade
// to a treasury credit instead of aborting the purchase that reserved the
// funds.
type Adapter struct {
	st            adapterState
	pool          Pool
	emitter       events.Emitter
	paymentSymbol string
	tokenSymbol   string
	nowFn         func() int64
}

// NewAdapter creates an adapter pairing the payment asset with the reward
// token.
func NewAdapter(st adapterState, paymentSymbol, tokenSymbol string) *Adapter {
	return &Adapter{
		st:            st,
		emitter:       events.NoopEmitter{},
		paymentSymbol: paymentSymbol,
		tokenSymbol:   tokenSymbol,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetPool configures the external pool collaborator.
func (a *Adapter) SetPool(pool Pool) { a.pool = pool }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (a *Adapter) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (a *Adapter) SetNowFunc(now func() int64) {
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

// Address returns the module account that stages funds awaiting deposit.
func (a *Adapter) Address() [20]byte {
	return a.st.VaultAddress("liquidity")
}

var paramsKey = []byte("liquidity/params")

// Params loads the configured pool controls, applying defaults when unset.
func (a *Adapter) Params() (*Params, error) {
	params := &Params{}
	if _, err := a.st.KVGet(paramsKey, params); err != nil {
		return nil, err
	}
	return params.normalize(), nil
}

func (a *Adapter) updateParams(caller [20]byte, mutate func(*Params)) error {
	if !a.st.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	params, err := a.Params()
	if err != nil {
		return err
	}
	mutate(params)
	return a.st.KVPut(paramsKey, params)
}

// SetGlobalTargetPrice configures the fallback pairing price used when the
// pool has no liquidity.
func (a *Adapter) SetGlobalTargetPrice(caller [20]byte, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("liquidity: target price must be positive")
	}
	return a.updateParams(caller, func(p *Params) {
		p.TargetPrice = new(big.Int).Set(price)
	})
}

// SetSlippageTolerance configures the maximum acceptable deposit deviation.
func (a *Adapter) SetSlippageTolerance(caller [20]byte, bps uint32) error {
	if bps > 10_000 {
		return fmt.Errorf("liquidity: slippage bps out of range: %d", bps)
	}
	return a.updateParams(caller, func(p *Params) {
		p.SlippageBps = bps
	})
}

// SetDeadlineWindow configures the relative deadline applied to deposits.
func (a *Adapter) SetDeadlineWindow(caller [20]byte, seconds uint64) error {
	if seconds == 0 {
		return fmt.Errorf("liquidity: deadline window must be positive")
	}
	return a.updateParams(caller, func(p *Params) {
		p.DeadlineSeconds = seconds
	})
}

// SetTreasury configures the fallback account credited when deposits fail.
func (a *Adapter) SetTreasury(caller [20]byte, treasury [20]byte) error {
	if treasury == ([20]byte{}) {
		return fmt.Errorf("liquidity: treasury must not be zero")
	}
	return a.updateParams(caller, func(p *Params) {
		p.Treasury = treasury
	})
}

// MarketPrice returns the live pool price at canonical precision (payment
// units per whole reward token) and whether the pool currently has liquidity.
// An empty pool yields (0, false) rather than an error.
func (a *Adapter) MarketPrice() (*big.Int, bool, error) {
	if a == nil || a.st == nil {
		return nil, false, errNilState
	}
	if a.pool == nil {
		return big.NewInt(0), false, nil
	}
	payment, token, ok := a.pool.Reserves()
	if !ok || payment == nil || token == nil || payment.Sign() <= 0 || token.Sign() <= 0 {
		return big.NewInt(0), false, nil
	}
	decimals, known := a.st.TokenDecimals(a.paymentSymbol)
	if !known {
		return nil, false, fmt.Errorf("liquidity: payment token %s not registered", a.paymentSymbol)
	}
	canonical := scaleUp(payment, 18-int(decimals))
	price := new(big.Int).Mul(canonical, canonicalUnit)
	price.Quo(price, token)
	return price, true, nil
}

// Result reports the outcome of a provisioning attempt. Provisioned is false
// when the deposit degraded to the treasury fallback; the purchase that
// triggered it still succeeds either way.
type Result struct {
	Provisioned bool
	Payment     *big.Int
	Token       *big.Int
	Reason      string
}

// Provision deposits the staged payment and token amounts into the pool. The
// pairing reference is the live pool price whenever the pool has liquidity;
// the administrator target price is only a bootstrap fallback for an empty
// pool. On any failure the staged payment is credited to the treasury, a
// degraded-liquidity event is emitted, and the tokens stay in the adapter
// vault for a later deposit.
func (a *Adapter) Provision(payment, token *big.Int) (*Result, error) {
	if a == nil || a.st == nil {
		return nil, errNilState
	}
	params, err := a.Params()
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Sign() <= 0 || token == nil || token.Sign() <= 0 {
		return &Result{Provisioned: false, Payment: big.NewInt(0), Token: big.NewInt(0), Reason: "empty deposit"}, nil
	}
	if a.pool == nil {
		return a.fallback(params, payment, token, errNilPool.Error())
	}

	_, hasLiquidity, err := a.MarketPrice()
	if err != nil {
		return nil, err
	}
	if !hasLiquidity {
		// bootstrap: an empty pool takes the admin target price as its
		// initial ratio, so the token side is re-paired against it
		if params.TargetPrice.Sign() <= 0 {
			return a.fallback(params, payment, token, ErrNoPriceReference.Error())
		}
		paired, err := a.pairAtPrice(payment, params.TargetPrice)
		if err != nil {
			return nil, err
		}
		if paired.Cmp(token) < 0 {
			token = paired
		}
	}

	minPayment := applySlippage(payment, params.SlippageBps)
	minToken := applySlippage(token, params.SlippageBps)
	deadline := a.nowFn() + int64(params.DeadlineSeconds)

	deposit, err := a.pool.AddLiquidity(payment, token, minPayment, minToken, deadline)
	if err != nil {
		return a.fallback(params, payment, token, err.Error())
	}

	poolAddr := a.pool.Address()
	vault := a.Address()
	if err := a.st.Transfer(vault[:], poolAddr[:], a.paymentSymbol, deposit.Payment); err != nil {
		return nil, err
	}
	if err := a.st.Transfer(vault[:], poolAddr[:], a.tokenSymbol, deposit.Token); err != nil {
		return nil, err
	}
	// the pool quotes the executable amounts against its reserve ratio, so
	// a live-pool deposit can leave part of the staged payment undeposited.
	// That residue funds the treasury; undeposited tokens stay staged for
	// the next deposit.
	if residue := new(big.Int).Sub(payment, deposit.Payment); residue.Sign() > 0 {
		if params.Treasury == ([20]byte{}) {
			return nil, fmt.Errorf("liquidity: treasury fallback not configured")
		}
		if err := a.st.Transfer(vault[:], params.Treasury[:], a.paymentSymbol, residue); err != nil {
			return nil, err
		}
	}
	a.emitter.Emit(events.LiquidityAdded{
		PaymentAmount: new(big.Int).Set(deposit.Payment),
		TokenAmount:   new(big.Int).Set(deposit.Token),
	})
	return &Result{
		Provisioned: true,
		Payment:     new(big.Int).Set(deposit.Payment),
		Token:       new(big.Int).Set(deposit.Token),
	}, nil
}

func (a *Adapter) fallback(params *Params, payment, token *big.Int, reason string) (*Result, error) {
	if params.Treasury == ([20]byte{}) {
		return nil, fmt.Errorf("liquidity: treasury fallback not configured")
	}
	vault := a.Address()
	if err := a.st.Transfer(vault[:], params.Treasury[:], a.paymentSymbol, payment); err != nil {
		return nil, err
	}
	a.emitter.Emit(events.LiquidityAdditionFailed{
		PaymentAmount: new(big.Int).Set(payment),
		TokenAmount:   new(big.Int).Set(token),
		Reason:        reason,
	})
	return &Result{
		Provisioned: false,
		Payment:     new(big.Int).Set(payment),
		Token:       new(big.Int).Set(token),
		Reason:      reason,
	}, nil
}

// pairAtPrice converts a native payment amount into the reward-token amount
// it buys at the given canonical price.
func (a *Adapter) pairAtPrice(payment, price *big.Int) (*big.Int, error) {
	decimals, known := a.st.TokenDecimals(a.paymentSymbol)
	if !known {
		return nil, fmt.Errorf("liquidity: payment token %s not registered", a.paymentSymbol)
	}
	canonical := scaleUp(payment, 18-int(decimals))
	paired := new(big.Int).Mul(canonical, canonicalUnit)
	return paired.Quo(paired, price), nil
}

func applySlippage(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	keep := new(big.Int).Mul(amount, big.NewInt(int64(10_000-int(bps))))
	return keep.Quo(keep, big.NewInt(10_000))
}

var canonicalUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func scaleUp(amount *big.Int, decimalsDelta int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	if decimalsDelta <= 0 {
		return new(big.Int).Set(amount)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimalsDelta)), nil)
	return new(big.Int).Mul(amount, factor)
}
