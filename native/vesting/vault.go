package vesting

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"blockcoop/core/events"
)

var (
	errNilState = errors.New("vesting vault: state not configured")

	// ErrNothingToClaim is returned when a claim targets a beneficiary with
	// no grants at all. A beneficiary with grants but nothing newly vested
	// gets a zero no-op instead.
	ErrNothingToClaim = errors.New("vesting: nothing to claim")
	// ErrInvalidGrant is returned when a grant request carries a non-positive
	// amount or an empty duration.
	ErrInvalidGrant = errors.New("vesting: invalid grant")
)

type vaultState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Mint(addr []byte, symbol string, amount *big.Int) error
	Transfer(from, to []byte, symbol string, amount *big.Int) error
	VaultAddress(module string) [20]byte
}

// Vault manages per-purchase linear vesting grants. Reward tokens are minted
// into the vault's module account on lock and released to the beneficiary on
// claim.
type Vault struct {
	st      vaultState
	emitter events.Emitter
	token   string
	nowFn   func() int64
}

// NewVault creates a vesting vault that locks the provided reward token.
func NewVault(st vaultState, token string) *Vault {
	return &Vault{
		st:      st,
		emitter: events.NoopEmitter{},
		token:   token,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// SetNowFunc overrides the time source used by the vault. Primarily intended
// for tests to provide deterministic timestamps.
func (v *Vault) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

func (v *Vault) now() uint64 {
	n := v.nowFn()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// Address returns the module account holding locked tokens.
func (v *Vault) Address() [20]byte {
	return v.st.VaultAddress("vesting")
}

func grantCountKey(beneficiary [20]byte) []byte {
	return append([]byte("vesting/count/"), beneficiary[:]...)
}

func grantKey(beneficiary [20]byte, seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	key := append([]byte("vesting/grant/"), beneficiary[:]...)
	return append(key, buf...)
}

// Lock mints the supplied amount into the vault and records a new independent
// grant for the beneficiary. Existing grants are never merged or extended.
func (v *Vault) Lock(beneficiary [20]byte, amount *big.Int, cliffSeconds, durationSeconds uint64) (*Grant, error) {
	if v == nil || v.st == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidGrant)
	}
	if durationSeconds == 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidGrant)
	}
	if cliffSeconds > durationSeconds {
		return nil, fmt.Errorf("%w: cliff exceeds duration", ErrInvalidGrant)
	}
	start := v.now()
	grant := &Grant{
		Beneficiary: beneficiary,
		Total:       new(big.Int).Set(amount),
		Start:       start,
		Cliff:       start + cliffSeconds,
		End:         start + durationSeconds,
		Claimed:     big.NewInt(0),
	}
	var count uint64
	if _, err := v.st.KVGet(grantCountKey(beneficiary), &count); err != nil {
		return nil, err
	}
	vault := v.Address()
	if err := v.st.Mint(vault[:], v.token, amount); err != nil {
		return nil, err
	}
	if err := v.st.KVPut(grantKey(beneficiary, count), grant); err != nil {
		return nil, err
	}
	if err := v.st.KVPut(grantCountKey(beneficiary), count+1); err != nil {
		return nil, err
	}
	v.emitter.Emit(events.VestingLocked{
		Beneficiary: beneficiary,
		Amount:      new(big.Int).Set(amount),
		Start:       grant.Start,
		Cliff:       grant.Cliff,
		End:         grant.End,
	})
	return grant.Clone(), nil
}

// Grants returns all grants recorded for the beneficiary in creation order.
func (v *Vault) Grants(beneficiary [20]byte) ([]*Grant, error) {
	if v == nil || v.st == nil {
		return nil, errNilState
	}
	var count uint64
	if _, err := v.st.KVGet(grantCountKey(beneficiary), &count); err != nil {
		return nil, err
	}
	grants := make([]*Grant, 0, count)
	for seq := uint64(0); seq < count; seq++ {
		grant := &Grant{}
		ok, err := v.st.KVGet(grantKey(beneficiary, seq), grant)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// Claimable returns the total vested, unclaimed amount across all grants at
// the current time.
func (v *Vault) Claimable(beneficiary [20]byte) (*big.Int, error) {
	grants, err := v.Grants(beneficiary)
	if err != nil {
		return nil, err
	}
	now := v.now()
	total := big.NewInt(0)
	for _, grant := range grants {
		total.Add(total, grant.ClaimableAt(now))
	}
	return total, nil
}

// Claim transfers every vested, unclaimed token across the beneficiary's
// grants and records the new claimed totals. A beneficiary with grants but
// nothing newly vested gets a zero no-op, so retries are idempotent; only a
// beneficiary with no grants at all fails with ErrNothingToClaim.
func (v *Vault) Claim(beneficiary [20]byte) (*big.Int, error) {
	if v == nil || v.st == nil {
		return nil, errNilState
	}
	var count uint64
	if _, err := v.st.KVGet(grantCountKey(beneficiary), &count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNothingToClaim
	}
	now := v.now()
	total := big.NewInt(0)
	for seq := uint64(0); seq < count; seq++ {
		grant := &Grant{}
		ok, err := v.st.KVGet(grantKey(beneficiary, seq), grant)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		claimable := grant.ClaimableAt(now)
		if claimable.Sign() <= 0 {
			continue
		}
		if grant.Claimed == nil {
			grant.Claimed = big.NewInt(0)
		}
		grant.Claimed = new(big.Int).Add(grant.Claimed, claimable)
		if err := v.st.KVPut(grantKey(beneficiary, seq), grant); err != nil {
			return nil, err
		}
		total.Add(total, claimable)
	}
	if total.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	vault := v.Address()
	if err := v.st.Transfer(vault[:], beneficiary[:], v.token, total); err != nil {
		return nil, err
	}
	v.emitter.Emit(events.VestingClaimed{Beneficiary: beneficiary, Amount: new(big.Int).Set(total)})
	return total, nil
}

// Summarize aggregates the beneficiary's grants at the current time.
func (v *Vault) Summarize(beneficiary [20]byte) (*Summary, error) {
	grants, err := v.Grants(beneficiary)
	if err != nil {
		return nil, err
	}
	now := v.now()
	summary := &Summary{
		TotalLocked: big.NewInt(0),
		Vested:      big.NewInt(0),
		Claimed:     big.NewInt(0),
		Claimable:   big.NewInt(0),
		GrantCount:  uint64(len(grants)),
	}
	for _, grant := range grants {
		summary.TotalLocked.Add(summary.TotalLocked, grant.Total)
		summary.Vested.Add(summary.Vested, grant.VestedAt(now))
		if grant.Claimed != nil {
			summary.Claimed.Add(summary.Claimed, grant.Claimed)
		}
		summary.Claimable.Add(summary.Claimable, grant.ClaimableAt(now))
	}
	return summary, nil
}
