package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// DefaultScanWindow is how long discovery listens for advertisements.
const DefaultScanWindow = 10 * time.Second

// DefaultNameFilter matches the ring family's advertised names (R02, R03, R06...).
const DefaultNameFilter = "R0"

// ErrNoDevice is returned when a scan window closes without a match.
var ErrNoDevice = errors.New("ble: no matching device found")

// ScanForDevices enables the adapter if needed and scans for window.
// Results are sorted strongest signal first.
func ScanForDevices(ctx context.Context, adapter Adapter, filter ScanFilter, window time.Duration) ([]Device, error) {
	if !adapter.Enabled() {
		if err := adapter.Enable(); err != nil {
			return nil, fmt.Errorf("ble: enable adapter: %w", err)
		}
	}
	if window <= 0 {
		window = DefaultScanWindow
	}

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	slog.Debug("[BLE] scanning", "filter", filter.NameContains, "window", window)
	devices, err := adapter.Scan(scanCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Adapters are expected to filter; re-check so a permissive one
	// cannot hand back a foreign device.
	matched := make([]Device, 0, len(devices))
	for _, d := range devices {
		if filter.Match(d) {
			matched = append(matched, d)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].RSSI > matched[j].RSSI })
	return matched, nil
}

// FindDevice returns the strongest matching device, or ErrNoDevice.
func FindDevice(ctx context.Context, adapter Adapter, filter ScanFilter, window time.Duration) (Device, error) {
	devices, err := ScanForDevices(ctx, adapter, filter, window)
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}
	slog.Info("[BLE] device found", "name", devices[0].Name, "id", devices[0].ID, "rssi", devices[0].RSSI, "candidates", len(devices))
	return devices[0], nil
}
