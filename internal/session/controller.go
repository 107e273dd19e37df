// Package session implements the device session state machine: connect,
// arm notifications, collect, then drain and export on stop.
//
// A Controller is an actor. Every operation and every asynchronous input
// (notification frames, link loss, auto-stop timers) is applied by a single
// goroutine, one at a time. Callers only read Snapshots.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/ringtap/internal/ble"
	"github.com/chaz8081/ringtap/internal/ble/protocol"
	"github.com/chaz8081/ringtap/internal/delivery"
	"github.com/chaz8081/ringtap/internal/keepalive"
	"github.com/chaz8081/ringtap/internal/sample"
)

// Options configures a Controller.
type Options struct {
	NameFilter     string        // device name substring, case-insensitive
	ScanWindow     time.Duration // discovery window (default 10s)
	ConnectTimeout time.Duration // bound on a connect attempt (default 20s)
	IOTimeout      time.Duration // bound on each write and subscribe (default 5s)
	StopTimeout    time.Duration // bound on a timer-driven stop (default 2m)

	KeepaliveTitle   string
	KeepaliveBody    string
	KeepaliveChannel string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		NameFilter:       ble.DefaultNameFilter,
		ScanWindow:       ble.DefaultScanWindow,
		ConnectTimeout:   20 * time.Second,
		IOTimeout:        5 * time.Second,
		StopTimeout:      2 * time.Minute,
		KeepaliveTitle:   "ringtap",
		KeepaliveBody:    "Collecting ring telemetry",
		KeepaliveChannel: "ringtap-session",
	}
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Adapter   ble.Adapter
	Pipeline  *delivery.Pipeline  // default: pipeline into a DiscardSink
	Exporters []delivery.Exporter // run in order at session end
	Keepalive keepalive.Keepalive // default: keepalive.Nop
	Now       func() time.Time    // default: time.Now
}

// link is the connected device and the notification handles held on it.
type link struct {
	device ble.Device
	conn   ble.Connection
	subs   []ble.Subscription
}

// run is one collection window.
type run struct {
	id        string
	label     string
	deviceID  string
	startedAt time.Time
	timer     *time.Timer
}

// Controller owns the device connection lifecycle.
type Controller struct {
	opts      Options
	adapter   ble.Adapter
	pipeline  *delivery.Pipeline
	exporters []delivery.Exporter
	keepalive keepalive.Keepalive
	now       func() time.Time

	// base is cancelled by Close so no operation outlives teardown.
	base       context.Context
	cancelBase context.CancelFunc

	ops       chan func()
	inbox     *inbox
	done      chan struct{}
	ended     chan Summary
	closeOnce sync.Once

	// Owned by the actor goroutine.
	link    *link
	run     *run
	pending *run // collection cut short by link loss, awaiting export
	closed  bool

	// Observable state. Written only by the actor, under mu.
	mu        sync.RWMutex
	state     State
	deviceID  string
	samples   []sample.Sample
	skipped   int
	exportDue bool
	battery   *protocol.Battery
	errs      map[Category]errEntry
}

// New creates a Controller and starts its actor goroutine.
// Panics if deps.Adapter is nil (programmer error).
func New(opts Options, deps Deps) *Controller {
	if deps.Adapter == nil {
		panic("session: New called with nil adapter")
	}
	def := DefaultOptions()
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = def.ScanWindow
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = def.IOTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = def.StopTimeout
	}
	if deps.Pipeline == nil {
		deps.Pipeline = delivery.NewPipeline(nil, delivery.DefaultOptions())
	}
	if deps.Keepalive == nil {
		deps.Keepalive = keepalive.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	base, cancelBase := context.WithCancel(context.Background())
	c := &Controller{
		base:       base,
		cancelBase: cancelBase,
		opts:       opts,
		adapter:    deps.Adapter,
		pipeline:   deps.Pipeline,
		exporters:  deps.Exporters,
		keepalive:  deps.Keepalive,
		now:        deps.Now,
		ops:        make(chan func()),
		inbox:      newInbox(),
		done:       make(chan struct{}),
		ended:      make(chan Summary, 16),
		state:      Idle,
		errs:       make(map[Category]errEntry),
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.ops:
			// Events posted before the operation was requested apply first.
			c.handleEvents()
			fn()
			if c.closed {
				return
			}
		case <-c.inbox.wake:
			c.handleEvents()
		}
	}
}

// do runs fn on the actor goroutine and returns its result. The context
// passed to fn also ends when the controller is closed.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()

	errc := make(chan error, 1)
	select {
	case c.ops <- func() { errc <- fn(ctx) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// ScanAndConnect discovers the strongest device matching the name filter and
// connects to it. Valid only from Idle.
func (c *Controller) ScanAndConnect(ctx context.Context) (ble.Device, error) {
	var dev ble.Device
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		dev, err = c.scanAndConnect(ctx)
		return err
	})
	return dev, err
}

func (c *Controller) scanAndConnect(ctx context.Context) (ble.Device, error) {
	if c.state != Idle {
		return ble.Device{}, stateErr(AlreadyConnected, c.state)
	}
	c.setState(Connecting)

	slog.Info("[SESSION] Scanning for device", "filter", c.opts.NameFilter, "window", c.opts.ScanWindow)
	dev, err := ble.FindDevice(ctx, c.adapter, ble.ScanFilter{NameContains: c.opts.NameFilter}, c.opts.ScanWindow)
	if err != nil {
		c.setState(Idle)
		if errors.Is(err, ble.ErrNoDevice) {
			err = &StateError{Kind: NoDeviceFound}
		} else {
			err = &TransportError{Op: "scan", Err: err}
		}
		c.recordErr(CategoryConnect, err)
		return ble.Device{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, err := c.adapter.Connect(cctx, dev.ID)
	cancel()
	if err != nil {
		c.setState(Idle)
		err = &TransportError{Op: "connect", Err: err}
		c.recordErr(CategoryConnect, err)
		return ble.Device{}, err
	}
	conn.OnDisconnect(func() {
		c.inbox.post(event{kind: evDisconnected, conn: conn})
	})

	c.link = &link{device: dev, conn: conn}
	c.mu.Lock()
	c.state = Armed
	c.deviceID = dev.ID
	c.mu.Unlock()
	c.clearErr(CategoryConnect)

	slog.Info("[SESSION] Connected", "name", dev.Name, "device", dev.ID, "rssi", dev.RSSI)
	return dev, nil
}

// StartCollection begins a collection window on the linked device. The
// window ends by itself after d; pass Forever to collect until stopped.
// Negative durations are treated as zero.
func (c *Controller) StartCollection(ctx context.Context, d time.Duration, label string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.startCollection(ctx, d, label)
	})
}

func (c *Controller) startCollection(ctx context.Context, d time.Duration, label string) error {
	switch c.state {
	case Armed:
	case Collecting, Stopping:
		return stateErr(AlreadyCollecting, c.state)
	default:
		return stateErr(NotConnected, c.state)
	}
	if c.pending != nil {
		if err := c.finishPending(ctx); err != nil {
			slog.Warn("[SESSION] Pending session finished with errors", "error", err)
		}
	}
	if d < 0 {
		d = 0
	}

	r := &run{
		id:        uuid.NewString(),
		label:     label,
		deviceID:  c.link.device.ID,
		startedAt: c.now(),
	}
	c.setState(Collecting)

	if err := c.keepalive.Start(r.id, c.opts.KeepaliveTitle, c.opts.KeepaliveBody, c.opts.KeepaliveChannel); err != nil {
		slog.Warn("[SESSION] Keepalive unavailable", "error", err)
	}

	c.mu.Lock()
	c.samples = nil
	c.skipped = 0
	c.mu.Unlock()

	if err := c.subscribe(ctx); err != nil {
		return c.abortStart(err)
	}

	for _, cmd := range []struct {
		name  string
		frame []byte
	}{
		{"query battery", protocol.QueryBattery()},
		{"set units", protocol.SetUnitsMetric()},
		{"enable raw sensor", protocol.EnableRawSensor()},
	} {
		if err := c.write(ctx, cmd.frame); err != nil {
			return c.abortStart(&TransportError{Op: "write " + cmd.name, Err: err})
		}
	}

	if d != Forever {
		id := r.id
		r.timer = time.AfterFunc(d, func() {
			c.inbox.post(event{kind: evAutoStop, runID: id})
		})
	}
	c.run = r
	c.clearErr(CategoryCollect)

	slog.Info("[SESSION] Collection started", "session", r.id, "device", r.deviceID, "label", label, "duration", durationAttr(d))
	return nil
}

// abortStart rolls a failed start back to Armed.
func (c *Controller) abortStart(err error) error {
	c.setState(Armed)
	if kerr := c.keepalive.Stop(); kerr != nil {
		slog.Warn("[SESSION] Keepalive release failed", "error", kerr)
	}
	c.recordErr(CategoryCollect, err)
	slog.Error("[SESSION] Collection start failed", "error", err)
	return err
}

// subscribe arms both notification sources once per link. Handles live on
// the link, so a repeated start on the same device reuses them.
func (c *Controller) subscribe(ctx context.Context) error {
	if c.link.subs != nil {
		return nil
	}
	conn := c.link.conn
	subs := make([]ble.Subscription, 0, len(ble.NotifySources))
	for _, src := range ble.NotifySources {
		sctx, cancel := context.WithTimeout(ctx, c.opts.IOTimeout)
		sub, err := conn.Subscribe(sctx, src.ServiceUUID, src.CharUUID, func(data []byte) {
			c.inbox.post(event{kind: evFrame, conn: conn, data: bytes.Clone(data), at: c.now()})
		})
		cancel()
		if err != nil {
			unsubscribeAll(subs)
			return &TransportError{Op: "subscribe", Err: fmt.Errorf("%s: %w", src.CharUUID, err)}
		}
		subs = append(subs, sub)
	}
	c.link.subs = subs
	return nil
}

func (c *Controller) write(ctx context.Context, frame []byte) error {
	if !protocol.ValidFrame(frame) {
		return fmt.Errorf("%w: bad frame %x", protocol.ErrInvalidCommand, frame)
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.IOTimeout)
	defer cancel()
	return c.link.conn.Write(wctx, ble.CommandServiceUUID, ble.CommandWriteUUID, frame)
}

// StopCollection ends the active collection: disable the sensor stream,
// drain uploads, export the session log, and disconnect. From Idle or Armed
// it is a no-op unless a disconnected session still awaits export.
// Delivery and export failures are returned after cleanup completes.
func (c *Controller) StopCollection(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.stop(ctx, "stopped")
	})
}

func (c *Controller) stop(ctx context.Context, reason string) error {
	for _, r := range []*run{c.run, c.pending} {
		if r != nil && r.timer != nil {
			r.timer.Stop()
		}
	}
	if c.state != Collecting {
		if c.pending != nil {
			return c.finishPending(ctx)
		}
		return nil
	}

	r := c.run
	c.run = nil
	c.setState(Stopping)
	defer func() {
		if err := c.keepalive.Stop(); err != nil {
			slog.Warn("[SESSION] Keepalive release failed", "error", err)
		}
	}()

	if err := c.write(ctx, protocol.DisableRawSensor()); err != nil {
		slog.Warn("[SESSION] Disable raw sensor failed", "device", r.deviceID, "error", err)
	}

	err := c.finish(ctx, r, reason)

	c.dropLink()
	c.mu.Lock()
	c.state = Idle
	c.deviceID = ""
	c.mu.Unlock()
	return err
}

// finishPending drains and exports a session whose link was lost.
func (c *Controller) finishPending(ctx context.Context) error {
	r := c.pending
	c.pending = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	err := c.finish(ctx, r, "disconnected")
	c.mu.Lock()
	c.exportDue = false
	c.mu.Unlock()
	if kerr := c.keepalive.Stop(); kerr != nil {
		slog.Warn("[SESSION] Keepalive release failed", "error", kerr)
	}
	return err
}

// finish drains the pipeline, exports the session log, and publishes a
// Summary. It never stops early: every exporter runs even if delivery fails.
func (c *Controller) finish(ctx context.Context, r *run, reason string) error {
	var errs []error

	if err := c.pipeline.Drain(ctx); err != nil {
		slog.Warn("[SESSION] Delivery incomplete", "session", r.id, "pending", c.pipeline.Pending(), "error", err)
		c.recordErr(CategoryDelivery, err)
		errs = append(errs, err)
	} else {
		c.clearErr(CategoryDelivery)
	}

	log := delivery.SessionLog{
		SessionID: r.id,
		DeviceID:  r.deviceID,
		Label:     r.label,
		StartedAt: r.startedAt,
		EndedAt:   c.now(),
		Samples:   c.samples,
	}
	var exports []string
	exportFailed := false
	for _, exp := range c.exporters {
		where, err := exp.Export(ctx, log)
		if err != nil {
			slog.Warn("[SESSION] Export failed", "format", exp.Format(), "error", err)
			c.recordErr(CategoryExport, err)
			errs = append(errs, err)
			exportFailed = true
			continue
		}
		exports = append(exports, where)
		slog.Info("[SESSION] Session exported", "format", exp.Format(), "path", where, "samples", len(log.Samples))
	}
	if !exportFailed {
		c.clearErr(CategoryExport)
	}

	sum := Summary{
		SessionID: r.id,
		DeviceID:  r.deviceID,
		Label:     r.label,
		StartedAt: r.startedAt,
		EndedAt:   log.EndedAt,
		Samples:   len(log.Samples),
		Skipped:   c.skipped,
		Reason:    reason,
		Exports:   exports,
		Err:       errors.Join(errs...),
	}
	select {
	case c.ended <- sum:
	default:
		slog.Warn("[SESSION] Summary dropped, nobody is reading Ended()", "session", r.id)
	}
	slog.Info("[SESSION] Collection finished", "session", r.id, "reason", reason, "samples", sum.Samples)
	return sum.Err
}

// Disconnect releases the linked device. A collecting session is stopped
// first. From Idle it is a no-op.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		switch c.state {
		case Collecting:
			return c.stop(ctx, "stopped")
		case Armed:
			c.dropLink()
			c.mu.Lock()
			c.state = Idle
			c.deviceID = ""
			c.mu.Unlock()
			slog.Info("[SESSION] Disconnected")
		}
		return nil
	})
}

// dropLink releases subscriptions and disconnects, logging failures.
func (c *Controller) dropLink() {
	l := c.link
	c.link = nil
	if l == nil {
		return
	}
	unsubscribeAll(l.subs)
	if err := l.conn.Disconnect(); err != nil {
		slog.Warn("[SESSION] Disconnect failed", "device", l.device.ID, "error", err)
	}
}

func unsubscribeAll(subs []ble.Subscription) {
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			slog.Debug("[SESSION] Unsubscribe failed", "error", err)
		}
	}
}

// Close tears the controller down without waiting on the device: timers are
// cancelled, an operation in progress has its context cancelled, and a linked
// device is disconnected in the background. A session that was not stopped
// is not exported. Close is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.cancelBase()
		select {
		case c.ops <- c.teardown:
		case <-c.done:
		}
		<-c.done
	})
	return nil
}

func (c *Controller) teardown() {
	for _, r := range []*run{c.run, c.pending} {
		if r == nil {
			continue
		}
		if r.timer != nil {
			r.timer.Stop()
		}
		slog.Warn("[SESSION] Closing with unexported session", "session", r.id, "samples", len(c.samples))
	}
	if c.run != nil || c.pending != nil {
		if err := c.keepalive.Stop(); err != nil {
			slog.Debug("[SESSION] Keepalive release failed", "error", err)
		}
	}
	c.run, c.pending = nil, nil

	if l := c.link; l != nil {
		c.link = nil
		go func() {
			if err := l.conn.Disconnect(); err != nil {
				slog.Debug("[SESSION] Disconnect on close failed", "device", l.device.ID, "error", err)
			}
		}()
	}

	c.mu.Lock()
	c.state = Idle
	c.deviceID = ""
	c.exportDue = false
	c.mu.Unlock()

	c.closed = true
	close(c.ended)
}

func (c *Controller) handleEvents() {
	for _, ev := range c.inbox.take() {
		switch ev.kind {
		case evFrame:
			c.handleFrame(ev)
		case evDisconnected:
			c.handleDisconnect(ev.conn)
		case evAutoStop:
			c.handleAutoStop(ev.runID)
		}
	}
}

func (c *Controller) handleFrame(ev event) {
	if c.link == nil || ev.conn != c.link.conn {
		return
	}
	frame, lossy, err := protocol.Normalize(ev.data)
	if err != nil {
		slog.Debug("[SESSION] Unreadable notification", "error", err)
		return
	}
	if lossy {
		slog.Debug("[SESSION] Notification recovered lossily", "payload", fmt.Sprintf("%x", frame))
	}

	if b, ok := protocol.ParseBattery(frame); ok {
		c.mu.Lock()
		c.battery = &b
		c.mu.Unlock()
		slog.Info("[SESSION] Battery", "level", b.Level, "charging", b.Charging)
		return
	}

	if c.state != Collecting || c.run == nil {
		return
	}
	s, err := sample.New(frame, c.run.label, ev.at)
	if err != nil {
		c.mu.Lock()
		c.skipped++
		c.mu.Unlock()
		if protocol.IsSkip(err) {
			slog.Debug("[SESSION] Frame skipped", "payload", fmt.Sprintf("%x", frame), "error", err)
		} else {
			slog.Warn("[SESSION] Frame dropped", "payload", fmt.Sprintf("%x", frame), "error", err)
		}
		return
	}

	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
	c.pipeline.Enqueue(c.run.deviceID, s)
}

// handleDisconnect moves to Idle when the transport reports the link gone.
// A collection in progress keeps its log and auto-stop timer; the next stop
// or collection start drains and exports it.
func (c *Controller) handleDisconnect(conn ble.Connection) {
	if c.link == nil || c.link.conn != conn {
		return
	}
	slog.Warn("[SESSION] Device disconnected", "device", c.link.device.ID, "state", c.state)

	if c.state == Collecting && c.run != nil {
		c.pending = c.run
		c.run = nil
	}
	c.link = nil

	c.mu.Lock()
	c.state = Idle
	c.deviceID = ""
	c.exportDue = c.pending != nil
	c.mu.Unlock()
	c.recordErr(CategoryConnect, &TransportError{Op: "link", Err: errors.New("device disconnected")})
}

func (c *Controller) handleAutoStop(runID string) {
	if (c.run == nil || c.run.id != runID) && (c.pending == nil || c.pending.id != runID) {
		return
	}
	ctx, cancel := context.WithTimeout(c.base, c.opts.StopTimeout)
	defer cancel()
	slog.Info("[SESSION] Collection window elapsed", "session", runID)
	if err := c.stop(ctx, "timer"); err != nil {
		slog.Warn("[SESSION] Auto-stop finished with errors", "error", err)
	}
}

// Ended delivers one Summary per finished collection. It is closed by Close.
func (c *Controller) Ended() <-chan Summary {
	return c.ended
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Collecting reports whether a collection window is active.
func (c *Controller) Collecting() bool {
	return c.State() == Collecting
}

// Busy reports whether a collection window is active or still draining.
func (c *Controller) Busy() bool {
	s := c.State()
	return s == Collecting || s == Stopping
}

// Linked reports whether a device is connected.
func (c *Controller) Linked() bool {
	s := c.State()
	return s == Armed || s == Collecting || s == Stopping
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		State:      c.state,
		DeviceID:   c.deviceID,
		Collecting: c.state == Collecting,
		Samples:    slices.Clone(c.samples),
		Skipped:    c.skipped,
		ExportDue:  c.exportDue,
		Errors:     make(map[Category]string, len(c.errs)),
	}
	if c.battery != nil {
		b := *c.battery
		s.Battery = &b
	}
	var newest time.Time
	for cat, e := range c.errs {
		s.Errors[cat] = e.msg
		if s.LastError == "" || e.at.After(newest) {
			s.LastError, newest = e.msg, e.at
		}
	}
	return s
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) recordErr(cat Category, err error) {
	c.mu.Lock()
	c.errs[cat] = errEntry{msg: err.Error(), at: c.now()}
	c.mu.Unlock()
}

func (c *Controller) clearErr(cat Category) {
	c.mu.Lock()
	delete(c.errs, cat)
	c.mu.Unlock()
}

func durationAttr(d time.Duration) string {
	if d == Forever {
		return "until stopped"
	}
	return d.String()
}
