package bluez

import (
	"context"
	"sync"

	"github.com/FastGo/RiderBox/internal/peripheral"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

// Transport drives the host's BLE radio through BlueZ. It filters scans to
// the box's advertised service and binds connections to the box's command
// characteristic.
type Transport struct {
	adapter *bluetooth.Adapter

	serviceUUID bluetooth.UUID
	charUUID    bluetooth.UUID

	enableOnce sync.Once
	enableErr  error
}

func New() (*Transport, error) {
	svc, err := bluetooth.ParseUUID(peripheral.ServiceUUID)
	if err != nil {
		return nil, errors.Wrap(err, "parse service uuid")
	}
	chr, err := bluetooth.ParseUUID(peripheral.CommandCharUUID)
	if err != nil {
		return nil, errors.Wrap(err, "parse characteristic uuid")
	}
	return &Transport{
		adapter:     bluetooth.DefaultAdapter,
		serviceUUID: svc,
		charUUID:    chr,
	}, nil
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		t.enableErr = t.adapter.Enable()
	})
	if t.enableErr != nil {
		return errors.Wrap(t.enableErr, "enable adapter")
	}
	return nil
}

func (t *Transport) Scan(ctx context.Context, onFound func(peripheral.Discovered)) error {
	if err := t.enable(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.adapter.StopScan()
		case <-done:
		}
	}()

	err := t.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
		if !res.AdvertisementPayload.HasServiceUUID(t.serviceUUID) {
			return
		}
		onFound(peripheral.Discovered{
			ID:   res.Address.String(),
			Name: res.LocalName(),
		})
	})
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "ble scan")
	}
	return nil
}

func (t *Transport) StopScan() error {
	return t.adapter.StopScan()
}

func (t *Transport) Connect(ctx context.Context, deviceID string) (peripheral.Device, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	mac, err := bluetooth.ParseMAC(deviceID)
	if err != nil {
		return nil, errors.Wrap(err, "parse device id")
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	dev, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, errors.Wrap(err, "ble connect")
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{t.serviceUUID})
	if err != nil {
		_ = dev.Disconnect()
		return nil, errors.Wrap(err, "discover services")
	}
	if len(svcs) == 0 {
		_ = dev.Disconnect()
		return nil, errors.New("command service not found")
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{t.charUUID})
	if err != nil {
		_ = dev.Disconnect()
		return nil, errors.Wrap(err, "discover characteristics")
	}
	if len(chars) == 0 {
		_ = dev.Disconnect()
		return nil, errors.New("command characteristic not found")
	}

	return &device{dev: dev, char: chars[0]}, nil
}

type device struct {
	dev  bluetooth.Device
	char bluetooth.DeviceCharacteristic
}

func (d *device) ReadIdentification() ([]byte, error) {
	buf := make([]byte, 64)
	n, err := d.char.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "read characteristic")
	}
	return buf[:n], nil
}

func (d *device) WriteCommand(data []byte) error {
	// Write with response: the firmware acks each command.
	if _, err := d.char.Write(data); err != nil {
		return errors.Wrap(err, "write characteristic")
	}
	return nil
}

func (d *device) Disconnect() error {
	return d.dev.Disconnect()
}
