// Package ble provides the transport the session engine uses to reach the
// ring: discovery, connection, characteristic writes and notifications over
// Bluetooth Low Energy.
package ble

import (
	"context"
	"strings"
)

// Ring GATT UUIDs
const (
	CommandServiceUUID = "6e40fff0-b5a3-f393-e0a9-e50e24dcca9e"
	CommandWriteUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	CommandNotifyUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"

	DataServiceUUID = "de5bf728-d711-4e47-af26-65e3012a5dc7"
	DataNotifyUUID  = "de5bf729-d711-4e47-af26-65e3012a5dc7"
)

// NotifySource names one notification characteristic.
type NotifySource struct {
	ServiceUUID string
	CharUUID    string
}

// NotifySources are the characteristics a collection session listens on.
var NotifySources = []NotifySource{
	{ServiceUUID: CommandServiceUUID, CharUUID: CommandNotifyUUID},
	{ServiceUUID: DataServiceUUID, CharUUID: DataNotifyUUID},
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	ID   string // MAC address, or CoreBluetooth UUID on macOS
	RSSI int
}

// ScanFilter narrows discovery results.
type ScanFilter struct {
	NameContains string // case-insensitive substring of the advertised name
}

// Match reports whether d passes the filter.
func (f ScanFilter) Match(d Device) bool {
	if f.NameContains == "" {
		return true
	}
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.NameContains))
}

// Subscription is a live notification registration.
type Subscription interface {
	Unsubscribe() error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// ID returns the transport-assigned device identifier.
	ID() string
	// Write sends data to a characteristic.
	Write(ctx context.Context, serviceUUID, charUUID string, data []byte) error
	// Subscribe registers a callback for notifications on a characteristic.
	Subscribe(ctx context.Context, serviceUUID, charUUID string, callback func(data []byte)) (Subscription, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Enabled reports whether Enable has succeeded.
	Enabled() bool
	// Scan discovers peripherals matching filter until ctx is done.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}
