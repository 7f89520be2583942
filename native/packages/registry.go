package packages

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"blockcoop/core/events"
	nativecommon "blockcoop/native/common"
)

const (
	// RoleAdmin may create packages, toggle their active flag and adjust
	// exchange rates.
	RoleAdmin  = "ROLE_PACKAGE_ADMIN"
	moduleName = "packages"
)

type registryState interface {
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Registry manages the catalog of purchasable packages. Package ids are
// assigned monotonically and never reused.
type Registry struct {
	st      registryState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewRegistry creates a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast catalog updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

var (
	nextIDKey       = []byte("packages/next-id")
	packageIndexKey = []byte("packages/index")
)

func packageKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return append([]byte("packages/pkg/"), buf...)
}

// Add validates and persists a new package definition, returning the
// assigned id. Only package administrators may create packages.
func (r *Registry) Add(caller [20]byte, p *Package) (uint64, error) {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return 0, err
	}
	sanitized, err := SanitizePackage(p)
	if err != nil {
		return 0, err
	}
	if !r.st.HasRole(RoleAdmin, caller[:]) {
		return 0, ErrUnauthorized
	}
	id, err := r.NextID()
	if err != nil {
		return 0, err
	}
	sanitized.ID = id
	sanitized.Active = true
	if err := r.st.KVPut(packageKey(id), sanitized); err != nil {
		return 0, err
	}
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	if err := r.st.KVAppend(packageIndexKey, idBytes); err != nil {
		return 0, err
	}
	if err := r.st.KVPut(nextIDKey, id+1); err != nil {
		return 0, err
	}
	r.emitter.Emit(events.PackageAdded{
		ID:           id,
		Name:         sanitized.Name,
		EntryAmount:  new(big.Int).Set(sanitized.EntryAmount),
		ExchangeRate: new(big.Int).Set(sanitized.ExchangeRate),
		VestBps:      sanitized.VestBps,
		ReferralBps:  sanitized.ReferralBps,
	})
	return id, nil
}

// NextID returns the id that will be assigned to the next package.
func (r *Registry) NextID() (uint64, error) {
	var next uint64
	ok, err := r.st.KVGet(nextIDKey, &next)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return next, nil
}

// Get retrieves a package definition by id.
func (r *Registry) Get(id uint64) (*Package, error) {
	stored := &Package{}
	ok, err := r.st.KVGet(packageKey(id), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPackageNotFound, id)
	}
	return stored, nil
}

// SetActive toggles the active flag of an existing package. Deactivated
// packages stay in the catalog for purchase-history auditability.
func (r *Registry) SetActive(caller [20]byte, id uint64, active bool) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if !r.st.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	stored, err := r.Get(id)
	if err != nil {
		return err
	}
	if stored.Active == active {
		return nil
	}
	stored.Active = active
	if err := r.st.KVPut(packageKey(id), stored); err != nil {
		return err
	}
	r.emitter.Emit(events.PackageUpdated{ID: id, Active: active, ExchangeRate: new(big.Int).Set(stored.ExchangeRate)})
	return nil
}

// SetExchangeRate updates the exchange rate of an existing package. The rate
// is the only priced field that may change post-creation; everything else
// requires a new package.
func (r *Registry) SetExchangeRate(caller [20]byte, id uint64, rate *big.Int) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if !r.st.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	stored, err := r.Get(id)
	if err != nil {
		return err
	}
	stored.ExchangeRate = new(big.Int).Set(rate)
	if err := r.st.KVPut(packageKey(id), stored); err != nil {
		return err
	}
	r.emitter.Emit(events.PackageUpdated{ID: id, Active: stored.Active, ExchangeRate: new(big.Int).Set(rate)})
	return nil
}

// ActiveIDs returns the ids of all active packages in ascending order.
func (r *Registry) ActiveIDs() ([]uint64, error) {
	var raw [][]byte
	if err := r.st.KVGetList(packageIndexKey, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			continue
		}
		id := binary.BigEndian.Uint64(entry)
		stored, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		if stored.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
