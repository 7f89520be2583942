package fees_test

import (
	"errors"
	"math/big"
	"testing"

	"blockcoop/core/state"
	"blockcoop/native/fees"
	"blockcoop/storage"
	statetrie "blockcoop/storage/trie"
)

func newTestRegistry(t *testing.T) (*fees.Registry, *state.Manager) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := statetrie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("create trie: %v", err)
	}
	manager := state.NewManager(tr)
	return fees.NewRegistry(manager), manager
}

func TestSetBucketRequiresRole(t *testing.T) {
	registry, manager := newTestRegistry(t)
	var caller, payee [20]byte
	caller[19] = 0x01
	payee[19] = 0x02

	err := registry.SetBucket(caller, fees.BucketPurchase, 250, payee)
	if !errors.Is(err, fees.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if err := manager.SetRole("ROLE_FEE_ADMIN", caller[:]); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := registry.SetBucket(caller, fees.BucketPurchase, 250, payee); err != nil {
		t.Fatalf("set bucket: %v", err)
	}

	bucket, ok, err := registry.Bucket("Purchase")
	if err != nil || !ok {
		t.Fatalf("bucket lookup: ok=%v err=%v", ok, err)
	}
	if bucket.RateBps != 250 || bucket.Payee != payee {
		t.Fatalf("unexpected bucket: %+v", bucket)
	}
}

func TestSetBucketRejectsRateAboveDenominator(t *testing.T) {
	registry, manager := newTestRegistry(t)
	var caller [20]byte
	caller[19] = 0x01
	if err := manager.SetRole("ROLE_FEE_ADMIN", caller[:]); err != nil {
		t.Fatalf("set role: %v", err)
	}
	err := registry.SetBucket(caller, fees.BucketPurchase, 10_001, [20]byte{})
	if !errors.Is(err, fees.ErrRateOutOfRange) {
		t.Fatalf("expected rate error, got %v", err)
	}
}

func TestApplyComputesFeeAndNet(t *testing.T) {
	bucket := &fees.Bucket{Key: fees.BucketPurchase, RateBps: 250}
	result := fees.Apply(big.NewInt(10_000), bucket)
	if result.Fee.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected fee: %s", result.Fee)
	}
	if result.Net.Cmp(big.NewInt(9_750)) != 0 {
		t.Fatalf("unexpected net: %s", result.Net)
	}
}

func TestApplyZeroRateAndNilBucket(t *testing.T) {
	result := fees.Apply(big.NewInt(100), &fees.Bucket{RateBps: 0})
	if result.Fee.Sign() != 0 || result.Net.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected result: fee=%s net=%s", result.Fee, result.Net)
	}
	result = fees.Apply(big.NewInt(100), nil)
	if result.Fee.Sign() != 0 || result.Net.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected nil-bucket result: fee=%s net=%s", result.Fee, result.Net)
	}
}

func TestApplyClampsFeeToGross(t *testing.T) {
	bucket := &fees.Bucket{RateBps: 10_000}
	result := fees.Apply(big.NewInt(55), bucket)
	if result.Fee.Cmp(big.NewInt(55)) != 0 || result.Net.Sign() != 0 {
		t.Fatalf("expected full clamp, got fee=%s net=%s", result.Fee, result.Net)
	}
}

func TestSetBucketRejectsZeroPayee(t *testing.T) {
	registry, manager := newTestRegistry(t)
	var caller [20]byte
	caller[19] = 0x01
	if err := manager.SetRole("ROLE_FEE_ADMIN", caller[:]); err != nil {
		t.Fatalf("set role: %v", err)
	}
	// a bucket with a zero payee would burn every fee it collects
	if err := registry.SetBucket(caller, fees.BucketPurchase, 250, [20]byte{}); err == nil {
		t.Fatalf("expected zero payee to be rejected")
	}
	if _, ok, err := registry.Bucket(fees.BucketPurchase); err != nil || ok {
		t.Fatalf("bucket should not exist: ok=%v err=%v", ok, err)
	}
}

func TestRecordUsageIncrements(t *testing.T) {
	registry, manager := newTestRegistry(t)
	var caller, payee [20]byte
	caller[19] = 0x01
	payee[19] = 0x02
	if err := manager.SetRole("ROLE_FEE_ADMIN", caller[:]); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := registry.SetBucket(caller, fees.BucketPurchase, 100, payee); err != nil {
		t.Fatalf("set bucket: %v", err)
	}
	if err := registry.RecordUsage(fees.BucketPurchase); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := registry.RecordUsage(fees.BucketPurchase); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	bucket, _, err := registry.Bucket(fees.BucketPurchase)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if bucket.Usage != 2 {
		t.Fatalf("expected usage 2, got %d", bucket.Usage)
	}
	if err := registry.RecordUsage("unknown"); !errors.Is(err, fees.ErrBucketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
