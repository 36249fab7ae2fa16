package printer

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bluezDeviceProps(address, alias string, paired bool) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		bluezDevice: {
			"Address": dbus.MakeVariant(address),
			"Alias":   dbus.MakeVariant(alias),
			"Paired":  dbus.MakeVariant(paired),
		},
	}
}

func TestDevicesFromObjects(t *testing.T) {
	t.Parallel()

	objs := managedObjects{
		"/org/bluez/hci0": {
			bluezAdapter: {"Address": dbus.MakeVariant("00:1A:7D:DA:71:13")},
		},
		"/org/bluez/hci0/dev_66_22_AB_01_02_03": bluezDeviceProps("66:22:AB:01:02:03", "RPP02N", true),
		"/org/bluez/hci0/dev_11_22_33_44_55_66": bluezDeviceProps("11:22:33:44:55:66", "Headphones", false),
		"/org/bluez/hci0/dev_00_00_00_00_00_01": {
			bluezDevice: {
				"Address": dbus.MakeVariant("00:00:00:00:00:01"),
				"Name":    dbus.MakeVariant("MTP-II"),
				"Paired":  dbus.MakeVariant(true),
			},
		},
	}

	paired := devicesFromObjects(objs, true)
	require.Len(t, paired, 2)
	assert.Equal(t, Device{ID: "00:00:00:00:00:01", Name: "MTP-II", Address: "00:00:00:00:00:01"}, paired[0])
	assert.Equal(t, "RPP02N", paired[1].Name)

	all := devicesFromObjects(objs, false)
	assert.Len(t, all, 3)

	adapter, ok := firstAdapter(objs)
	require.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), adapter)
}

func TestDeviceFromPropsRequiresAddress(t *testing.T) {
	t.Parallel()

	_, ok := deviceFromProps(map[string]dbus.Variant{"Name": dbus.MakeVariant("x")})
	assert.False(t, ok)

	_, ok = firstAdapter(managedObjects{})
	assert.False(t, ok)
}
