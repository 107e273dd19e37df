// Package delivery moves decoded samples off the device host: batched upload
// to a remote collector and durable local export at session end.
package delivery

import (
	"context"
	"fmt"

	"github.com/chaz8081/ringtap/internal/sample"
)

// Sink receives upload batches. A nil error means the collector accepted
// every record in the batch.
type Sink interface {
	UploadBatch(ctx context.Context, deviceID string, records []sample.Record) error
}

// DiscardSink accepts and drops every batch. It is used when no collector is
// configured so the pipeline still drains.
type DiscardSink struct{}

func (DiscardSink) UploadBatch(context.Context, string, []sample.Record) error { return nil }

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, deviceID string, records []sample.Record) error

func (f SinkFunc) UploadBatch(ctx context.Context, deviceID string, records []sample.Record) error {
	return f(ctx, deviceID, records)
}

// DeliveryError reports a batch the sink did not accept. The batch has been
// returned to the front of the queue.
type DeliveryError struct {
	DeviceID string
	Records  int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery: upload %d records for %s: %v", e.Records, e.DeviceID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PersistenceError reports a failed durable export.
type PersistenceError struct {
	Format string
	Path   string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("delivery: %s export: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("delivery: %s export to %s: %v", e.Format, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
