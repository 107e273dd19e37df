package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows).
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects enabled and the connections map.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinyGoConnection // keyed by device ID
}

// NewTinyGoAdapter creates an adapter over the system default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// Adapter-level handler; tinygo/bluetooth reports peripheral drops here
	// with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *TinyGoAdapter) Scan(ctx context.Context, filter ScanFilter) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		d := Device{
			Name: result.LocalName(),
			ID:   result.Address.String(),
			RSSI: int(result.RSSI),
		}
		if !filter.Match(d) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[d.ID] {
			return
		}
		seen[d.ID] = true
		devices = append(devices, d)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks with its own timeout; ctx bounds
	// how long we wait for it.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &tinyGoConnection{
			id:     id,
			device: result.device,
			chars:  make(map[string]*bluetooth.DeviceCharacteristic),
		}

		a.mu.Lock()
		a.connections[id] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	id     string
	device bluetooth.Device

	mu           sync.Mutex
	chars        map[string]*bluetooth.DeviceCharacteristic
	disconnectCb func()
}

func (c *tinyGoConnection) ID() string { return c.id }

func (c *tinyGoConnection) characteristic(ctx context.Context, serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	key := serviceUUID + "/" + charUUID
	c.mu.Lock()
	if ch, ok := c.chars[key]; ok {
		c.mu.Unlock()
		return ch, nil
	}
	c.mu.Unlock()

	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	chrUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	var found *bluetooth.DeviceCharacteristic
	err = runWithContext(ctx, func() error {
		svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
		if err != nil {
			return fmt.Errorf("ble: discover services: %w", err)
		}
		if len(svcs) == 0 {
			return fmt.Errorf("ble: service %s not found", serviceUUID)
		}
		chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chrUUID})
		if err != nil {
			return fmt.Errorf("ble: discover characteristics: %w", err)
		}
		if len(chars) == 0 {
			return fmt.Errorf("ble: characteristic %s not found", charUUID)
		}
		found = &chars[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chars[key] = found
	c.mu.Unlock()
	return found, nil
}

func (c *tinyGoConnection) Write(ctx context.Context, serviceUUID, charUUID string, data []byte) error {
	ch, err := c.characteristic(ctx, serviceUUID, charUUID)
	if err != nil {
		return err
	}
	return runWithContext(ctx, func() error {
		_, err := ch.WriteWithoutResponse(data)
		return err
	})
}

func (c *tinyGoConnection) Subscribe(ctx context.Context, serviceUUID, charUUID string, cb func([]byte)) (Subscription, error) {
	ch, err := c.characteristic(ctx, serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	err = runWithContext(ctx, func() error {
		return ch.EnableNotifications(func(buf []byte) {
			// The buffer is reused by the stack after the callback returns.
			cp := make([]byte, len(buf))
			copy(cp, buf)
			cb(cp)
		})
	})
	if err != nil {
		return nil, err
	}
	return &tinyGoSubscription{char: ch}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoSubscription struct {
	char *bluetooth.DeviceCharacteristic
}

func (s *tinyGoSubscription) Unsubscribe() error {
	return s.char.EnableNotifications(nil)
}

// runWithContext runs fn and returns its result, or ctx's error if ctx ends
// first. fn keeps running in the background in that case.
func runWithContext(ctx context.Context, fn func() error) error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}
