package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/chaz8081/ringtap/internal/sample"
)

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string // "{device}" is replaced with the device id
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
}

// MQTTSink publishes each batch as one message.
type MQTTSink struct {
	opts   MQTTOptions
	client mqtt.Client

	mu        sync.Mutex
	connected bool
}

// NewMQTTSink creates a sink. The broker connection is made on first upload.
func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	if opts.Broker == "" {
		return nil, errors.New("delivery: mqtt sink needs a broker")
	}
	if opts.Topic == "" {
		opts.Topic = "ringtap/{device}/samples"
	}
	if opts.ClientID == "" {
		opts.ClientID = "ringtap-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("delivery: mqtt qos must be 0, 1 or 2, got %d", opts.QoS)
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectTimeout(opts.Timeout)

	return &MQTTSink{opts: opts, client: mqtt.NewClient(co)}, nil
}

// Topic returns the topic a device's batches are published on.
func (s *MQTTSink) Topic(deviceID string) string {
	id := strings.NewReplacer(":", "", "/", "_", "+", "_", "#", "_").Replace(deviceID)
	return strings.ReplaceAll(s.opts.Topic, "{device}", id)
}

func (s *MQTTSink) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected && s.client.IsConnected() {
		return nil
	}
	token := s.client.Connect()
	if err := waitToken(ctx, token, s.opts.Timeout); err != nil {
		return fmt.Errorf("connect to %s: %w", s.opts.Broker, err)
	}
	s.connected = true
	return nil
}

func (s *MQTTSink) UploadBatch(ctx context.Context, deviceID string, records []sample.Record) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(UploadRequest{
		DeviceID: deviceID,
		BatchID:  uuid.NewString(),
		Records:  records,
	})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	topic := s.Topic(deviceID)
	token := s.client.Publish(topic, s.opts.QoS, false, payload)
	if err := waitToken(ctx, token, s.opts.Timeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.client.Disconnect(250)
		s.connected = false
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timed out")
	}
}

var _ Sink = (*MQTTSink)(nil)
