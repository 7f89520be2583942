package liquidity

import (
	"math/big"
	"time"
)

// ConstantProductPool is an in-process pool with pair semantics matching the
// external market maker: deposits must track the current reserve ratio within
// the caller's minimums and respect the deadline. It backs local deployments
// and tests; production wiring points the adapter at the external venue.
type ConstantProductPool struct {
	addr           [20]byte
	paymentReserve *big.Int
	tokenReserve   *big.Int
	totalLiquidity *big.Int
	nowFn          func() int64
}

// NewConstantProductPool creates an empty pool settling to addr.
func NewConstantProductPool(addr [20]byte) *ConstantProductPool {
	return &ConstantProductPool{
		addr:           addr,
		paymentReserve: big.NewInt(0),
		tokenReserve:   big.NewInt(0),
		totalLiquidity: big.NewInt(0),
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the deadline clock for tests.
func (p *ConstantProductPool) SetNowFunc(now func() int64) {
	if now == nil {
		p.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	p.nowFn = now
}

// Address implements Pool.
func (p *ConstantProductPool) Address() [20]byte { return p.addr }

// Reserves implements Pool.
func (p *ConstantProductPool) Reserves() (*big.Int, *big.Int, bool) {
	if p.paymentReserve.Sign() <= 0 || p.tokenReserve.Sign() <= 0 {
		return nil, nil, false
	}
	return new(big.Int).Set(p.paymentReserve), new(big.Int).Set(p.tokenReserve), true
}

// AddLiquidity implements Pool. On a non-empty pool the executable amounts
// are quoted against the current reserve ratio; whichever side would exceed
// its offered amount is scaled down, and the result is rejected when either
// executable amount falls below its minimum.
func (p *ConstantProductPool) AddLiquidity(payment, token, minPayment, minToken *big.Int, deadline int64) (*Deposit, error) {
	if deadline > 0 && p.nowFn() > deadline {
		return nil, ErrDeadlineExceeded
	}
	if payment == nil || payment.Sign() <= 0 || token == nil || token.Sign() <= 0 {
		return nil, ErrSlippageExceeded
	}

	usePayment := new(big.Int).Set(payment)
	useToken := new(big.Int).Set(token)
	if p.paymentReserve.Sign() > 0 && p.tokenReserve.Sign() > 0 {
		// quote token for the offered payment at the reserve ratio
		quotedToken := new(big.Int).Mul(payment, p.tokenReserve)
		quotedToken.Quo(quotedToken, p.paymentReserve)
		if quotedToken.Cmp(token) <= 0 {
			useToken = quotedToken
		} else {
			quotedPayment := new(big.Int).Mul(token, p.paymentReserve)
			quotedPayment.Quo(quotedPayment, p.tokenReserve)
			usePayment = quotedPayment
		}
	}
	if minPayment != nil && usePayment.Cmp(minPayment) < 0 {
		return nil, ErrSlippageExceeded
	}
	if minToken != nil && useToken.Cmp(minToken) < 0 {
		return nil, ErrSlippageExceeded
	}

	var minted *big.Int
	if p.totalLiquidity.Sign() == 0 {
		minted = new(big.Int).Mul(usePayment, useToken)
		minted.Sqrt(minted)
	} else {
		minted = new(big.Int).Mul(usePayment, p.totalLiquidity)
		minted.Quo(minted, p.paymentReserve)
	}

	p.paymentReserve.Add(p.paymentReserve, usePayment)
	p.tokenReserve.Add(p.tokenReserve, useToken)
	p.totalLiquidity.Add(p.totalLiquidity, minted)

	return &Deposit{
		Payment:   new(big.Int).Set(usePayment),
		Token:     new(big.Int).Set(useToken),
		Liquidity: minted,
	}, nil
}
