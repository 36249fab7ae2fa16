package printer

import (
	"strings"
)

// Device is a printer found by a transport. For classic devices ID and
// Address are both the MAC address or port path.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Key is the dedup key for merged device lists
func (d Device) Key() string {
	if d.Address == "" {
		return strings.ToUpper(d.ID)
	}
	return strings.ToUpper(d.Address)
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Name + " (" + d.Address + ")"
}

// MergeDevices concatenates lists in order and keeps the first device seen
// for each address.
func MergeDevices(lists ...[]Device) []Device {
	seen := make(map[string]struct{})
	merged := make([]Device, 0)
	for _, list := range lists {
		for _, d := range list {
			key := d.Key()
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, d)
		}
	}
	return merged
}
