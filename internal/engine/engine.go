// Package engine composes the session controller, delivery pipeline and
// scheduler into the surface the CLI drives.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chaz8081/ringtap/internal/ble"
	"github.com/chaz8081/ringtap/internal/config"
	"github.com/chaz8081/ringtap/internal/delivery"
	"github.com/chaz8081/ringtap/internal/keepalive"
	"github.com/chaz8081/ringtap/internal/scheduler"
	"github.com/chaz8081/ringtap/internal/session"
)

// Deps overrides collaborators normally built from config.
type Deps struct {
	Adapter   ble.Adapter         // required
	Sink      delivery.Sink       // default: from upload config
	Exporters []delivery.Exporter // default: from export config
	Keepalive keepalive.Keepalive // default: from keepalive config
}

// Engine is the ring telemetry collector.
type Engine struct {
	cfg      *config.Config
	adapter  ble.Adapter
	pipeline *delivery.Pipeline
	ctrl     *session.Controller
	sched    *scheduler.Scheduler
	closers  []func() error
}

// New builds an Engine from cfg. The adapter is not touched until
// Initialize.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Adapter == nil {
		return nil, errors.New("engine: adapter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	e := &Engine{cfg: cfg, adapter: deps.Adapter}

	sink := deps.Sink
	if sink == nil {
		s, closer, err := BuildSink(cfg.Upload)
		if err != nil {
			return nil, err
		}
		sink = s
		if closer != nil {
			e.closers = append(e.closers, closer)
		}
	}

	exporters := deps.Exporters
	if exporters == nil {
		exps, closers := BuildExporters(cfg.Export)
		exporters = exps
		e.closers = append(e.closers, closers...)
	}

	ka := deps.Keepalive
	if ka == nil {
		if cfg.Keepalive.Enabled {
			ka = &keepalive.Inhibitor{}
		} else {
			ka = &keepalive.Logger{}
		}
	}

	e.pipeline = delivery.NewPipeline(sink, delivery.Options{
		BatchSize: cfg.Upload.BatchSize,
		Timeout:   cfg.Upload.Timeout,
		Metadata:  recordMetadata(),
	})

	e.ctrl = session.New(session.Options{
		NameFilter:       cfg.Device.NameFilter,
		ScanWindow:       cfg.Device.ScanWindow,
		ConnectTimeout:   cfg.Device.ConnectTimeout,
		IOTimeout:        cfg.Device.IOTimeout,
		KeepaliveTitle:   cfg.Keepalive.Title,
		KeepaliveBody:    cfg.Keepalive.Body,
		KeepaliveChannel: cfg.Keepalive.Channel,
	}, session.Deps{
		Adapter:   deps.Adapter,
		Pipeline:  e.pipeline,
		Exporters: exporters,
		Keepalive: ka,
	})
	e.sched = scheduler.New(e.ctrl)

	return e, nil
}

// BuildSink creates the remote sink named by cfg.Sink. The returned closer
// may be nil.
func BuildSink(cfg config.UploadConfig) (delivery.Sink, func() error, error) {
	switch cfg.Sink {
	case "", "none":
		return delivery.DiscardSink{}, nil, nil
	case "http":
		s, err := delivery.NewHTTPSink(cfg.HTTP.URL, cfg.HTTP.AuthSecret, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "mqtt":
		s, err := delivery.NewMQTTSink(delivery.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("engine: unknown sink %q", cfg.Sink)
	}
}

// BuildExporters creates the exporters named by cfg. CSV is always included.
func BuildExporters(cfg config.ExportConfig) ([]delivery.Exporter, []func() error) {
	exporters := []delivery.Exporter{&delivery.CSVExporter{Dir: cfg.Dir}}
	for _, f := range cfg.Formats {
		if f == "xlsx" {
			exporters = append(exporters, &delivery.XLSXExporter{Dir: cfg.Dir})
		}
	}
	var closers []func() error
	if cfg.SQLitePath != "" {
		archive := delivery.NewSQLiteExporter(cfg.SQLitePath)
		exporters = append(exporters, archive)
		closers = append(closers, archive.Close)
	}
	return exporters, closers
}

func recordMetadata() json.RawMessage {
	host, _ := os.Hostname()
	meta, err := json.Marshal(map[string]string{"source": "ringtap", "host": host})
	if err != nil {
		return nil
	}
	return meta
}

// Initialize powers on the radio and prepares the export directory.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.adapter.Enabled() {
		if err := e.adapter.Enable(); err != nil {
			return &session.TransportError{Op: "enable", Err: err}
		}
	}
	if err := os.MkdirAll(e.cfg.Export.Dir, 0755); err != nil {
		return &delivery.PersistenceError{Format: "dir", Path: e.cfg.Export.Dir, Err: err}
	}
	slog.Info("[BLE] Adapter ready", "export_dir", e.cfg.Export.Dir, "sink", e.cfg.Upload.Sink)
	return nil
}

// ScanAndConnect links the strongest matching device.
func (e *Engine) ScanAndConnect(ctx context.Context) (ble.Device, error) {
	return e.ctrl.ScanAndConnect(ctx)
}

// StartCollection begins a window of length d. An empty label uses the
// configured session label; pass session.Forever to collect until stopped.
func (e *Engine) StartCollection(ctx context.Context, d time.Duration, label string) error {
	if label == "" {
		label = e.cfg.Session.Label
	}
	return e.ctrl.StartCollection(ctx, d, label)
}

// StopCollection ends the active window, or exports a session whose device
// dropped. It is a no-op otherwise.
func (e *Engine) StopCollection(ctx context.Context) error {
	return e.ctrl.StopCollection(ctx)
}

// Disconnect releases the linked device, stopping any active window first.
func (e *Engine) Disconnect(ctx context.Context) error {
	return e.ctrl.Disconnect(ctx)
}

// StartPeriodic collects sampleSeconds of data every periodMinutes.
func (e *Engine) StartPeriodic(periodMinutes, sampleSeconds int, label string, autoConnect bool) error {
	if periodMinutes <= 0 {
		return fmt.Errorf("engine: period must be at least one minute, got %d", periodMinutes)
	}
	if sampleSeconds <= 0 {
		return fmt.Errorf("engine: sample window must be positive, got %ds", sampleSeconds)
	}
	if label == "" {
		label = e.cfg.Periodic.Label
	}
	return e.sched.Start(scheduler.Options{
		Period:      time.Duration(periodMinutes) * time.Minute,
		Window:      time.Duration(sampleSeconds) * time.Second,
		Label:       label,
		AutoConnect: autoConnect,
	})
}

// StopPeriodic cancels the schedule. An active window runs to its end.
func (e *Engine) StopPeriodic() {
	e.sched.Stop()
}

// PeriodicRunning reports whether a schedule is active.
func (e *Engine) PeriodicRunning() bool {
	return e.sched.Running()
}

// Snapshot returns the observable session state.
func (e *Engine) Snapshot() session.Snapshot {
	return e.ctrl.Snapshot()
}

// Delivery returns the upload pipeline counters.
func (e *Engine) Delivery() delivery.Stats {
	return e.pipeline.Stats()
}

// Ended delivers a Summary for every finished session.
func (e *Engine) Ended() <-chan session.Summary {
	return e.ctrl.Ended()
}

// Close stops the schedule and tears down the session without waiting on
// the device. Call StopCollection first to export an active session.
func (e *Engine) Close() error {
	e.sched.Stop()
	e.pipeline.Close()
	var errs []error
	if err := e.ctrl.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
