package packages

import (
	"encoding/binary"
	"math/big"
)

// PurchaseRecord is the immutable receipt of a single successful purchase,
// keyed by (buyer, sequence number).
type PurchaseRecord struct {
	Buyer       [20]byte
	Seq         uint64
	PackageID   uint64
	GrossPaid   *big.Int
	NetPaid     *big.Int
	TotalTokens *big.Int
	VestTokens  *big.Int
	PoolTokens  *big.Int
	Timestamp   uint64
	Referrer    [20]byte
}

// Clone returns a deep copy of the record.
func (p *PurchaseRecord) Clone() *PurchaseRecord {
	if p == nil {
		return nil
	}
	clone := *p
	clone.GrossPaid = cloneBigInt(p.GrossPaid)
	clone.NetPaid = cloneBigInt(p.NetPaid)
	clone.TotalTokens = cloneBigInt(p.TotalTokens)
	clone.VestTokens = cloneBigInt(p.VestTokens)
	clone.PoolTokens = cloneBigInt(p.PoolTokens)
	return &clone
}

// UserStats aggregates a buyer's cumulative purchase activity.
// TotalTokens covers the buyer's net allocation only; treasury and referral
// mints are excluded by construction.
type UserStats struct {
	TotalInvested *big.Int
	TotalTokens   *big.Int
	VestTokens    *big.Int
	PoolTokens    *big.Int
	PurchaseCount uint64
}

func newUserStats() *UserStats {
	return &UserStats{
		TotalInvested: big.NewInt(0),
		TotalTokens:   big.NewInt(0),
		VestTokens:    big.NewInt(0),
		PoolTokens:    big.NewInt(0),
	}
}

func (s *UserStats) normalize() *UserStats {
	if s.TotalInvested == nil {
		s.TotalInvested = big.NewInt(0)
	}
	if s.TotalTokens == nil {
		s.TotalTokens = big.NewInt(0)
	}
	if s.VestTokens == nil {
		s.VestTokens = big.NewInt(0)
	}
	if s.PoolTokens == nil {
		s.PoolTokens = big.NewInt(0)
	}
	return s
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is the append-only purchase history plus the derived per-user stats
// aggregate.
type Ledger struct {
	st ledgerState
}

// NewLedger creates a ledger backed by the provided state manager.
func NewLedger(st ledgerState) *Ledger {
	return &Ledger{st: st}
}

func historyCountKey(buyer [20]byte) []byte {
	return append([]byte("packages/history/count/"), buyer[:]...)
}

func historyRecordKey(buyer [20]byte, seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	key := append([]byte("packages/history/rec/"), buyer[:]...)
	return append(key, buf...)
}

func statsKey(buyer [20]byte) []byte {
	return append([]byte("packages/stats/"), buyer[:]...)
}

// NextSeq returns the sequence number the next purchase record for the buyer
// will be stored under.
func (l *Ledger) NextSeq(buyer [20]byte) (uint64, error) {
	var count uint64
	if _, err := l.st.KVGet(historyCountKey(buyer), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Record appends a purchase record and folds it into the buyer's stats. The
// record's TotalTokens is the buyer-facing allocation; callers must never
// include treasury or referral mints in it.
func (l *Ledger) Record(rec *PurchaseRecord) error {
	if err := l.st.KVPut(historyRecordKey(rec.Buyer, rec.Seq), rec); err != nil {
		return err
	}
	if err := l.st.KVPut(historyCountKey(rec.Buyer), rec.Seq+1); err != nil {
		return err
	}
	stats, err := l.Stats(rec.Buyer)
	if err != nil {
		return err
	}
	stats.TotalInvested = new(big.Int).Add(stats.TotalInvested, cloneBigInt(rec.GrossPaid))
	stats.TotalTokens = new(big.Int).Add(stats.TotalTokens, cloneBigInt(rec.TotalTokens))
	stats.VestTokens = new(big.Int).Add(stats.VestTokens, cloneBigInt(rec.VestTokens))
	stats.PoolTokens = new(big.Int).Add(stats.PoolTokens, cloneBigInt(rec.PoolTokens))
	stats.PurchaseCount++
	return l.st.KVPut(statsKey(rec.Buyer), stats)
}

// Stats returns the buyer's aggregate statistics, zero-valued when the buyer
// has no history.
func (l *Ledger) Stats(buyer [20]byte) (*UserStats, error) {
	stats := newUserStats()
	ok, err := l.st.KVGet(statsKey(buyer), stats)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newUserStats(), nil
	}
	return stats.normalize(), nil
}

// Purchases returns the buyer's purchase records in sequence order.
func (l *Ledger) Purchases(buyer [20]byte) ([]*PurchaseRecord, error) {
	count, err := l.NextSeq(buyer)
	if err != nil {
		return nil, err
	}
	records := make([]*PurchaseRecord, 0, count)
	for seq := uint64(0); seq < count; seq++ {
		rec := &PurchaseRecord{}
		ok, err := l.st.KVGet(historyRecordKey(buyer, seq), rec)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// PackageIDs returns the distinct package ids the buyer has purchased, in
// first-purchase order.
func (l *Ledger) PackageIDs(buyer [20]byte) ([]uint64, error) {
	records, err := l.Purchases(buyer)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{}, len(records))
	ids := make([]uint64, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.PackageID]; ok {
			continue
		}
		seen[rec.PackageID] = struct{}{}
		ids = append(ids, rec.PackageID)
	}
	return ids, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
