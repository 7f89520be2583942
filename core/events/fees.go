package events

import (
	"encoding/hex"
	"strconv"

	"blockcoop/core/types"
)

// FeeBucketUpdated captures a fee bucket reconfiguration.
type FeeBucketUpdated struct {
	Key     string
	RateBps uint32
	Payee   [20]byte
}

// EventType implements the Event interface.
func (FeeBucketUpdated) EventType() string { return TypeFeeBucketUpdated }

// Event converts the reconfiguration to the generic event payload.
func (f FeeBucketUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeBucketUpdated,
		Attributes: map[string]string{
			"key":     f.Key,
			"rateBps": strconv.FormatUint(uint64(f.RateBps), 10),
			"payee":   hex.EncodeToString(f.Payee[:]),
		},
	}
}
