// Package slots makes allocation decisions over a single device's slot map.
// Nothing here performs I/O.
package slots

import (
	"errors"
	"fmt"
	"sort"

	"lock-credential-bridge/internal/credentials"
	"lock-credential-bridge/internal/types"
)

// ErrNoCapacity is returned when a device has no free slot left for an allocation
var ErrNoCapacity = errors.New("no free slot available")

// Kind selects which part of the slot range an allocation may use
type Kind int

const (
	// Regular allocations skip the reserved ids
	Regular Kind = iota
	// Master allocations draw only from the reserved ids
	Master
)

func (k Kind) String() string {
	if k == Master {
		return "master"
	}
	return "regular"
}

// Layout describes the addressable slot range shared by devices of a deployment
type Layout struct {
	First    int
	Last     int
	Reserved []int
}

// DefaultLayout returns slots 1..64 with the lowest id reserved for the master card
func DefaultLayout() Layout {
	return Layout{
		First:    1,
		Last:     64,
		Reserved: []int{1},
	}
}

// Validate checks the range is non-empty and every reserved id lies inside it
func (l Layout) Validate() error {
	if l.First < 0 {
		return fmt.Errorf("first slot must not be negative")
	}
	if l.Last < l.First {
		return fmt.Errorf("last slot %d is below first slot %d", l.Last, l.First)
	}
	for _, id := range l.Reserved {
		if id < l.First || id > l.Last {
			return fmt.Errorf("reserved slot %d outside range %d-%d", id, l.First, l.Last)
		}
	}
	return nil
}

// MasterSlot returns the lowest reserved id, the conventional master card position
func (l Layout) MasterSlot() (int, bool) {
	if len(l.Reserved) == 0 {
		return 0, false
	}
	lowest := l.Reserved[0]
	for _, id := range l.Reserved[1:] {
		if id < lowest {
			lowest = id
		}
	}
	return lowest, true
}

// rangeFor returns the inclusive slot range of a specific device
func (l Layout) rangeFor(device types.DeviceRecord) (int, int) {
	if device.SlotCapacity > 0 {
		return l.First, l.First + device.SlotCapacity - 1
	}
	return l.First, l.Last
}

func (l Layout) isReserved(id int) bool {
	for _, r := range l.Reserved {
		if r == id {
			return true
		}
	}
	return false
}

// FreeSlots lists, in ascending order, every slot of the device's range whose
// occupant is empty or unknown. A device without any slot data is treated as
// entirely free.
func (l Layout) FreeSlots(device types.DeviceRecord, kind Kind) []int {
	first, last := l.rangeFor(device)

	free := make([]int, 0, last-first+1)
	for id := first; id <= last; id++ {
		if l.isReserved(id) != (kind == Master) {
			continue
		}
		if device.Slots[id] != "" {
			continue
		}
		free = append(free, id)
	}
	return free
}

// Locate returns the lowest slot id whose occupant is the same credential as uid
func Locate(device types.DeviceRecord, uid string) (int, bool) {
	target := credentials.Key(uid)
	if target == "" {
		return 0, false
	}

	ids := make([]int, 0, len(device.Slots))
	for id := range device.Slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if credentials.Key(device.Slots[id]) == target {
			return id, true
		}
	}
	return 0, false
}

// NextAllocation returns the first free slot not listed in exclude. Callers
// pass the slots already claimed in the current batch.
func (l Layout) NextAllocation(device types.DeviceRecord, kind Kind, exclude map[int]struct{}) (int, error) {
	for _, id := range l.FreeSlots(device, kind) {
		if _, claimed := exclude[id]; claimed {
			continue
		}
		return id, nil
	}
	return 0, ErrNoCapacity
}
