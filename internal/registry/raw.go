package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"lock-credential-bridge/internal/types"
)

// RawSensor is a sensor reported on a device listing entry
type RawSensor struct {
	Type  string `json:"type"`
	Usage string `json:"usage"`
}

// RawAttributes is the descriptive block attached to spaces and containers
type RawAttributes struct {
	Street        string `json:"street"`
	ApartmentType string `json:"apartment_type"`
}

func (a *RawAttributes) toTypes() types.SpaceAttributes {
	if a == nil {
		return types.SpaceAttributes{}
	}
	return types.SpaceAttributes{
		Street:        strings.TrimSpace(a.Street),
		ApartmentType: strings.TrimSpace(a.ApartmentType),
	}
}

// RawDevice holds the fields shared by every device listing entry.
// Upstream is inconsistent about which id field carries the hardware id.
type RawDevice struct {
	ID           string            `json:"id"`
	DeviceID     string            `json:"device_id"`
	SerialNumber string            `json:"serial_number"`
	Name         string            `json:"name"`
	Room         string            `json:"room"`
	DeviceType   string            `json:"device_type"`
	LockType     string            `json:"lock_type"`
	GatewayID    string            `json:"gateway_id"`
	AssetID      string            `json:"asset_id"`
	SlotCount    int               `json:"slot_count"`
	Sensors      []RawSensor       `json:"sensors"`
	Slots        map[string]string `json:"slots"`
	Attributes   *RawAttributes    `json:"attributes"`
}

// HardwareID returns the stable hardware identifier of the entry
func (d RawDevice) HardwareID() string {
	for _, id := range []string{d.DeviceID, d.SerialNumber, d.ID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// RawProjectDevice is an entry of the project-wide listing. It may carry
// sub-devices routed through it.
type RawProjectDevice struct {
	RawDevice
	SpaceID    string      `json:"space_id"`
	SpaceName  string      `json:"space_name"`
	SubDevices []RawDevice `json:"devices"`
}

// RawSpaceDevice is a device listed directly under a space
type RawSpaceDevice struct {
	RawDevice
}

// RawSpaceContainer groups devices behind one gateway inside a space
type RawSpaceContainer struct {
	UUID       string           `json:"uuid"`
	AssetID    string           `json:"asset_id"`
	Attributes *RawAttributes   `json:"attributes"`
	Devices    []RawSpaceDevice `json:"devices"`
}

// RawSpaceEntry is one element of a space listing: exactly one of
// Container or Device is set.
type RawSpaceEntry struct {
	Container *RawSpaceContainer
	Device    *RawSpaceDevice
}

// UnmarshalJSON treats any object with a non-null devices array as a container
func (e *RawSpaceEntry) UnmarshalJSON(data []byte) error {
	var shape struct {
		Devices json.RawMessage `json:"devices"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return fmt.Errorf("failed to decode space entry: %w", err)
	}

	trimmed := bytes.TrimSpace(shape.Devices)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		var container RawSpaceContainer
		if err := json.Unmarshal(data, &container); err != nil {
			return fmt.Errorf("failed to decode device container: %w", err)
		}
		e.Container = &container
		return nil
	}

	var device RawSpaceDevice
	if err := json.Unmarshal(data, &device); err != nil {
		return fmt.Errorf("failed to decode space device: %w", err)
	}
	e.Device = &device
	return nil
}

// MarshalJSON writes back whichever variant is set
func (e RawSpaceEntry) MarshalJSON() ([]byte, error) {
	if e.Container != nil {
		return json.Marshal(e.Container)
	}
	return json.Marshal(e.Device)
}

// RawSpace is an entry of a project's space listing
type RawSpace struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Attributes RawAttributes `json:"attributes"`
}

// ParseSlotMap converts wire slot keys to numeric ids, dropping non-numeric keys
func ParseSlotMap(raw map[string]string) (map[int]string, []string) {
	if len(raw) == 0 {
		return nil, nil
	}

	slots := make(map[int]string, len(raw))
	var skipped []string
	for key, uid := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		slots[id] = strings.TrimSpace(uid)
	}
	return slots, skipped
}
