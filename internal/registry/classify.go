package registry

import (
	"strings"
)

// Lock classification rules, in priority order
const (
	ClassLockSensor    = "sensor_type_lock"
	ClassCommunityDoor = "sensor_usage_community_door"
	ClassDeviceType    = "device_type_lock"
	ClassLockType      = "lock_type"
)

// ClassifyLock reports which rule marks the entry as a lock; the first
// matching rule wins and an empty result excludes the entry.
func ClassifyLock(d RawDevice) string {
	for _, s := range d.Sensors {
		if strings.EqualFold(strings.TrimSpace(s.Type), "LOCK") {
			return ClassLockSensor
		}
	}
	for _, s := range d.Sensors {
		if strings.TrimSpace(s.Usage) == "CommunityDoor" {
			return ClassCommunityDoor
		}
	}
	if strings.Contains(strings.ToLower(d.DeviceType), "lock") {
		return ClassDeviceType
	}
	if strings.TrimSpace(d.LockType) != "" {
		return ClassLockType
	}
	return ""
}
