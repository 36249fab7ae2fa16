package printer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

// SystemCentral drives the host BLE radio through go-ble
type SystemCentral struct {
	dev ble.Device
}

func (c *SystemCentral) Scan(ctx context.Context, found func(Device)) error {
	err := c.dev.Scan(ctx, false, func(a ble.Advertisement) {
		addr := a.Addr().String()
		found(Device{ID: addr, Name: a.LocalName(), Address: addr})
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("ble scan: %w", err)
}

func (c *SystemCentral) Dial(ctx context.Context, id string) (GATTClient, error) {
	cln, err := c.dev.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		return nil, fmt.Errorf("ble dial: %w", err)
	}
	return &goBLEClient{cln: cln}, nil
}

// Close stops the HCI device
func (c *SystemCentral) Close() error {
	return c.dev.Stop()
}

type goBLEClient struct {
	cln ble.Client
}

func (c *goBLEClient) Characteristics() ([]Characteristic, error) {
	prof, err := c.cln.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	var chars []Characteristic
	for _, s := range prof.Services {
		for _, ch := range s.Characteristics {
			chars = append(chars, Characteristic{
				ref:             ch,
				Service:         uuidString(s.UUID),
				UUID:            uuidString(ch.UUID),
				Write:           ch.Property&ble.CharWrite != 0,
				WriteNoResponse: ch.Property&ble.CharWriteNR != 0,
			})
		}
	}
	return chars, nil
}

func (c *goBLEClient) ExchangeMTU(mtu int) (int, error) {
	return c.cln.ExchangeMTU(mtu)
}

func (c *goBLEClient) Write(ch Characteristic, b []byte, noRsp bool) error {
	bc, ok := ch.ref.(*ble.Characteristic)
	if !ok {
		return ErrNoWritableCharacteristic
	}
	return c.cln.WriteCharacteristic(bc, b, noRsp)
}

func (c *goBLEClient) Close() error {
	return c.cln.CancelConnection()
}

func (c *goBLEClient) Disconnected() <-chan struct{} {
	return c.cln.Disconnected()
}

// uuidString renders a go-ble UUID, stored little endian, in dashed form
func uuidString(u ble.UUID) string {
	b := make([]byte, len(u))
	for i := range u {
		b[len(u)-1-i] = u[i]
	}
	return NormalizeUUID(hex.EncodeToString(b))
}
