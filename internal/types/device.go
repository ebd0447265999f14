package types

import (
	"sort"
)

// Scope identifies which listing a device was discovered through
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeSpace   Scope = "space"
)

// SpaceAttributes holds the descriptive block shared by all devices of a space
type SpaceAttributes struct {
	Street        string `json:"street,omitempty"`
	ApartmentType string `json:"apartmentType,omitempty"`
}

// IsZero reports whether no attribute is set
func (a SpaceAttributes) IsZero() bool {
	return a.Street == "" && a.ApartmentType == ""
}

// FillMissing copies every attribute of src that is empty in a
func (a SpaceAttributes) FillMissing(src SpaceAttributes) SpaceAttributes {
	if a.Street == "" {
		a.Street = src.Street
	}
	if a.ApartmentType == "" {
		a.ApartmentType = src.ApartmentType
	}
	return a
}

// DeviceRecord is the canonical view of one physical lock
type DeviceRecord struct {
	CanonicalID    string          `json:"canonicalId"`
	DisplayLabel   string          `json:"displayLabel"`
	GatewayID      string          `json:"gatewayId,omitempty"`
	AssetID        string          `json:"assetId,omitempty"`
	Scope          Scope           `json:"scope"`
	ProjectID      string          `json:"projectId,omitempty"`
	SpaceID        string          `json:"spaceId,omitempty"`
	SpaceName      string          `json:"spaceName,omitempty"`
	Attributes     SpaceAttributes `json:"attributes"`
	Classification string          `json:"classification,omitempty"`
	SlotCapacity   int             `json:"slotCapacity,omitempty"`
	Slots          map[int]string  `json:"slots,omitempty"`
}

// Writable reports whether slot writes can be routed to this device
func (d DeviceRecord) Writable() bool {
	return d.CanonicalID != "" && d.GatewayID != ""
}

// Name returns the best identifier for messages about this device
func (d DeviceRecord) Name() string {
	if d.CanonicalID != "" {
		return d.CanonicalID
	}
	if d.DisplayLabel != "" {
		return d.DisplayLabel
	}
	return "<unidentified device>"
}

// Clone returns a deep copy so callers can mutate the slot map freely
func (d DeviceRecord) Clone() DeviceRecord {
	if d.Slots != nil {
		slots := make(map[int]string, len(d.Slots))
		for id, uid := range d.Slots {
			slots[id] = uid
		}
		d.Slots = slots
	}
	return d
}

// SlotIDs returns the known slot ids in ascending order
func (d DeviceRecord) SlotIDs() []int {
	ids := make([]int, 0, len(d.Slots))
	for id := range d.Slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OccupiedSlots returns the ids of slots holding a credential, ascending
func (d DeviceRecord) OccupiedSlots() []int {
	var ids []int
	for _, id := range d.SlotIDs() {
		if d.Slots[id] != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// DeviceCredentials is one device's entry in a credential snapshot
type DeviceCredentials struct {
	DeviceID  string         `json:"deviceId"`
	GatewayID string         `json:"gatewayId,omitempty"`
	Slots     map[int]string `json:"slots"`
}

// CredentialSnapshot maps device id to its authoritative slot contents
type CredentialSnapshot map[string]DeviceCredentials
