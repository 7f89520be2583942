package fees

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"blockcoop/core/events"
)

// BucketPurchase is consulted on every package purchase.
const BucketPurchase = "purchase"

// BucketReferral carries the default referral rate applied when a package
// does not override it.
const BucketReferral = "referral"

// RoleAdmin may create and reconfigure fee buckets.
const RoleAdmin = "ROLE_FEE_ADMIN"

var (
	ErrUnauthorized   = errors.New("fees: unauthorized")
	ErrBucketNotFound = errors.New("fees: bucket not found")
	ErrRateOutOfRange = errors.New("fees: rate bps out of range")
)

// Bucket is a named percentage-fee configuration: a rate in basis points and
// the payee the collected fee is routed to.
type Bucket struct {
	Key     string
	RateBps uint32
	Payee   [20]byte
	Usage   uint64
}

// Clone returns a copy of the bucket.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// NormalizeKey canonicalises bucket keys for consistent lookups.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

type registryState interface {
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Registry manages persistence of the fee buckets consulted by the purchase
// engine.
type Registry struct {
	st      registryState
	emitter events.Emitter
}

// NewRegistry creates a fee bucket registry backed by the provided state.
func NewRegistry(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast bucket updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func bucketKey(key string) []byte {
	return []byte("fees/bucket/" + NormalizeKey(key))
}

// SetBucket creates or updates the bucket under the supplied key. Only fee
// administrators may change rates or payees.
func (r *Registry) SetBucket(caller [20]byte, key string, rateBps uint32, payee [20]byte) error {
	normalized := NormalizeKey(key)
	if normalized == "" {
		return fmt.Errorf("fees: bucket key must not be empty")
	}
	if rateBps > 10_000 {
		return fmt.Errorf("%w: %d", ErrRateOutOfRange, rateBps)
	}
	if payee == ([20]byte{}) {
		return fmt.Errorf("fees: payee must not be zero")
	}
	if !r.st.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	stored := &Bucket{}
	if ok, err := r.st.KVGet(bucketKey(normalized), stored); err != nil {
		return err
	} else if ok {
		// Usage survives reconfiguration for reporting continuity.
		stored = &Bucket{Key: normalized, RateBps: rateBps, Payee: payee, Usage: stored.Usage}
	} else {
		stored = &Bucket{Key: normalized, RateBps: rateBps, Payee: payee}
	}
	if err := r.st.KVPut(bucketKey(normalized), stored); err != nil {
		return err
	}
	r.emitter.Emit(events.FeeBucketUpdated{Key: normalized, RateBps: rateBps, Payee: payee})
	return nil
}

// Bucket resolves the configuration stored under the supplied key.
func (r *Registry) Bucket(key string) (*Bucket, bool, error) {
	stored := &Bucket{}
	ok, err := r.st.KVGet(bucketKey(key), stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return stored, true, nil
}

// RecordUsage bumps the bucket's usage counter after a successful purchase.
func (r *Registry) RecordUsage(key string) error {
	stored := &Bucket{}
	ok, err := r.st.KVGet(bucketKey(key), stored)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, NormalizeKey(key))
	}
	stored.Usage++
	return r.st.KVPut(bucketKey(key), stored)
}

// ApplyResult summarises the computed fee and resulting net amount after
// evaluating a gross amount against a bucket.
type ApplyResult struct {
	Fee   *big.Int
	Net   *big.Int
	Payee [20]byte
}

// Apply evaluates the bucket against the supplied gross amount. A missing or
// zero-rate bucket yields a zero fee. The fee never exceeds the gross amount.
func Apply(gross *big.Int, bucket *Bucket) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0)}
	if gross != nil {
		result.Net = new(big.Int).Set(gross)
	} else {
		result.Net = big.NewInt(0)
	}
	if bucket == nil || result.Net.Sign() <= 0 {
		return result
	}
	result.Payee = bucket.Payee
	if bucket.RateBps == 0 {
		return result
	}
	fee := new(big.Int).Mul(result.Net, big.NewInt(int64(bucket.RateBps)))
	fee = fee.Div(fee, big.NewInt(10_000))
	if fee.Sign() <= 0 {
		return result
	}
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}
