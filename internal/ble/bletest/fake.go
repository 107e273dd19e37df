// Package bletest provides an in-memory ble.Adapter for tests.
package bletest

import (
	"context"
	"errors"
	"sync"

	"github.com/chaz8081/ringtap/internal/ble"
)

// Write is one recorded characteristic write.
type Write struct {
	ServiceUUID string
	CharUUID    string
	Data        []byte
}

// Conn simulates a BLE connection.
type Conn struct {
	id string

	mu            sync.Mutex
	writes        []Write
	subscribes    int
	unsubscribes  int
	callbacks     map[string]func([]byte)
	disconnectCb  func()
	disconnected  bool
	disconnectErr error

	// WriteErr, when set, is consulted before every write.
	WriteErr func(w Write) error
	// SubscribeErr, when set, fails subscriptions.
	SubscribeErr error
}

func newConn(id string) *Conn {
	return &Conn{id: id, callbacks: make(map[string]func([]byte))}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Write(ctx context.Context, serviceUUID, charUUID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	w := Write{ServiceUUID: serviceUUID, CharUUID: charUUID, Data: cp}

	c.mu.Lock()
	hook := c.WriteErr
	c.mu.Unlock()
	if hook != nil {
		if err := hook(w); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return errors.New("bletest: not connected")
	}
	c.writes = append(c.writes, w)
	return nil
}

func (c *Conn) Subscribe(_ context.Context, serviceUUID, charUUID string, cb func([]byte)) (ble.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	key := serviceUUID + "/" + charUUID
	c.subscribes++
	c.callbacks[key] = cb
	return &subscription{conn: c, key: key}, nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return c.disconnectErr
}

func (c *Conn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SetWriteErr installs a write hook.
func (c *Conn) SetWriteErr(fn func(w Write) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WriteErr = fn
}

// SetSubscribeErr makes every later Subscribe call fail with err.
func (c *Conn) SetSubscribeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeErr = err
}

// SetDisconnectErr makes Disconnect report err.
func (c *Conn) SetDisconnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectErr = err
}

// Writes returns a copy of the recorded writes.
func (c *Conn) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Write, len(c.writes))
	copy(out, c.writes)
	return out
}

// Subscribes returns how many times Subscribe succeeded.
func (c *Conn) Subscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

// Unsubscribes returns how many subscriptions were released.
func (c *Conn) Unsubscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}

// Disconnected reports whether Disconnect was called.
func (c *Conn) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Notify delivers data to the subscriber of the given characteristic.
// It reports whether a subscriber was present.
func (c *Conn) Notify(serviceUUID, charUUID string, data []byte) bool {
	c.mu.Lock()
	cb := c.callbacks[serviceUUID+"/"+charUUID]
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(data)
	return true
}

// SimulateDisconnect marks the link down and triggers the disconnect callback.
func (c *Conn) SimulateDisconnect() {
	c.mu.Lock()
	c.disconnected = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type subscription struct {
	conn *Conn
	key  string
	once sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.conn.mu.Lock()
		defer s.conn.mu.Unlock()
		delete(s.conn.callbacks, s.key)
		s.conn.unsubscribes++
	})
	return nil
}

// Adapter simulates the BLE adapter.
type Adapter struct {
	mu       sync.Mutex
	devices  []ble.Device
	enabled  bool
	conns    []*Conn
	scans    int
	connects int

	EnableErr  error
	ScanErr    error
	ConnectErr error
}

// NewAdapter returns an adapter that discovers devices on every scan.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{devices: devices}
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.EnableErr != nil {
		return a.EnableErr
	}
	a.enabled = true
	return nil
}

func (a *Adapter) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Scan returns immediately; the fake does not wait out the scan window.
func (a *Adapter) Scan(_ context.Context, filter ble.ScanFilter) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans++
	if a.ScanErr != nil {
		return nil, a.ScanErr
	}
	var out []ble.Device
	for _, d := range a.devices {
		if filter.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *Adapter) Connect(ctx context.Context, id string) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.ConnectErr != nil {
		return nil, a.ConnectErr
	}
	conn := newConn(id)
	a.conns = append(a.conns, conn)
	return conn, nil
}

// SetDevices replaces the discoverable devices.
func (a *Adapter) SetDevices(devices ...ble.Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices = devices
}

// SetConnectErr makes later Connect calls fail with err.
func (a *Adapter) SetConnectErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ConnectErr = err
}

// Latest returns the most recently created connection, or nil.
func (a *Adapter) Latest() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// Connects returns the number of Connect calls.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Scans returns the number of Scan calls.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

var (
	_ ble.Adapter    = (*Adapter)(nil)
	_ ble.Connection = (*Conn)(nil)
)
