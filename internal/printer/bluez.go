package printer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezService      = "org.bluez"
	bluezDevice       = "org.bluez.Device1"
	bluezAdapter      = "org.bluez.Adapter1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// SystemClassicStack reaches classic printers through BlueZ and RFCOMM
// sockets, or through serial ports the OS has bound to paired devices.
type SystemClassicStack struct {
	Channel int
	Baud    int
}

func NewSystemClassicStack(channel, baud int) *SystemClassicStack {
	return &SystemClassicStack{Channel: channel, Baud: baud}
}

func (*SystemClassicStack) Available() bool {
	if rfcommSupported() {
		return true
	}
	ports, err := boundPorts()
	return err == nil && len(ports) > 0
}

// PairedDevices merges BlueZ paired devices with bound serial ports
func (*SystemClassicStack) PairedDevices(ctx context.Context) ([]Device, error) {
	bluez, bluezErr := bluezPaired(ctx)
	if bluezErr != nil {
		log.Debug().Err(bluezErr).Msg("bluez paired list unavailable")
	}
	ports, portsErr := boundPorts()
	if portsErr != nil {
		log.Debug().Err(portsErr).Msg("bound port list unavailable")
	}
	if bluezErr != nil && portsErr != nil {
		return nil, errors.Join(bluezErr, portsErr)
	}
	return MergeDevices(bluez, ports), nil
}

// Discover runs a BR/EDR inquiry through BlueZ until ctx ends
func (*SystemClassicStack) Discover(ctx context.Context, found func(Device)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close D-Bus connection")
		}
	}()

	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		return err
	}
	adapterPath, ok := firstAdapter(objs)
	if !ok {
		return errors.New("no bluetooth adapter found")
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return fmt.Errorf("failed to add match for InterfacesAdded: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	adapter := conn.Object(bluezService, adapterPath)
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("bredr")}
	if call := adapter.CallWithContext(ctx, bluezAdapter+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		log.Debug().Err(call.Err).Msg("failed to set discovery filter")
	}
	if call := adapter.CallWithContext(ctx, bluezAdapter+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("failed to start discovery: %w", call.Err)
	}
	defer func() {
		if call := adapter.Call(bluezAdapter+".StopDiscovery", 0); call.Err != nil {
			log.Debug().Err(call.Err).Msg("failed to stop discovery")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if sig.Name != dbusObjectManager+".InterfacesAdded" || len(sig.Body) < 2 {
				continue
			}
			ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
			if !ok {
				continue
			}
			props, ok := ifaces[bluezDevice]
			if !ok {
				continue
			}
			if d, ok := deviceFromProps(props); ok && d.Name != "" {
				found(d)
			}
		}
	}
}

func (s *SystemClassicStack) Dial(ctx context.Context, address string) (Link, error) {
	if isPortAddress(address) {
		return dialPort(address, s.Baud)
	}
	return dialRFCOMM(ctx, address, s.Channel)
}

func bluezPaired(ctx context.Context) ([]Device, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		return nil, err
	}
	return devicesFromObjects(objs, true), nil
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	root := conn.Object(bluezService, "/")
	if err := root.CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0).Store(&objs); err != nil {
		return nil, fmt.Errorf("failed to query bluez objects: %w", err)
	}
	return objs, nil
}

func firstAdapter(objs managedObjects) (dbus.ObjectPath, bool) {
	paths := make([]string, 0)
	for path, ifaces := range objs {
		if _, ok := ifaces[bluezAdapter]; ok {
			paths = append(paths, string(path))
		}
	}
	if len(paths) == 0 {
		return "", false
	}
	sort.Strings(paths)
	return dbus.ObjectPath(paths[0]), true
}

// devicesFromObjects extracts Device1 objects in object path order
func devicesFromObjects(objs managedObjects, pairedOnly bool) []Device {
	paths := make([]string, 0, len(objs))
	for path := range objs {
		paths = append(paths, string(path))
	}
	sort.Strings(paths)

	devices := make([]Device, 0)
	for _, path := range paths {
		props, ok := objs[dbus.ObjectPath(path)][bluezDevice]
		if !ok {
			continue
		}
		if pairedOnly {
			paired, _ := props["Paired"].Value().(bool)
			if !paired {
				continue
			}
		}
		if d, ok := deviceFromProps(props); ok {
			devices = append(devices, d)
		}
	}
	return devices
}

func deviceFromProps(props map[string]dbus.Variant) (Device, bool) {
	address, _ := props["Address"].Value().(string)
	if address == "" {
		return Device{}, false
	}
	name, _ := props["Alias"].Value().(string)
	if name == "" {
		name, _ = props["Name"].Value().(string)
	}
	return Device{ID: address, Name: name, Address: address}, true
}
