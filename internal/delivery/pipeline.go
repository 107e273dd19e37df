package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/ringtap/internal/sample"
)

// DefaultBatchSize is the number of records per upload request.
const DefaultBatchSize = 50

// Options configures the pipeline.
type Options struct {
	BatchSize int             // records per upload (default 50)
	Timeout   time.Duration   // bound on a single upload call (default 15s)
	Metadata  json.RawMessage // attached to every record; may be nil
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize: DefaultBatchSize,
		Timeout:   15 * time.Second,
	}
}

type queued struct {
	deviceID string
	sample   sample.Sample
}

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	Pending   int
	Delivered int
	Failures  int
}

// Pipeline buffers samples and uploads them in fixed-size batches with at
// most one upload in flight. Failed batches go back to the front of the
// queue in their original order.
type Pipeline struct {
	sink Sink
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queue     []queued
	busy      bool
	idle      chan struct{} // closed when the current flight ends
	delivered int
	failures  int
}

// NewPipeline creates a pipeline delivering to sink.
func NewPipeline(sink Sink, opts Options) *Pipeline {
	if sink == nil {
		sink = DiscardSink{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Pipeline{
		sink:   sink,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}
}

// Enqueue adds a sample and starts a background upload when a full batch is
// waiting and nothing is in flight. It never blocks on I/O.
func (p *Pipeline) Enqueue(deviceID string, s sample.Sample) {
	p.mu.Lock()
	p.queue = append(p.queue, queued{deviceID: deviceID, sample: s})
	p.mu.Unlock()

	p.maybeFlush()
}

// maybeFlush starts one background upload if a full batch is queued and
// nothing is in flight.
func (p *Pipeline) maybeFlush() {
	p.mu.Lock()
	if p.busy || len(p.queue) < p.opts.BatchSize || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	batch := p.takeFront()
	p.beginFlight()
	p.mu.Unlock()

	go p.upload(batch)
}

func (p *Pipeline) upload(batch []queued) {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.Timeout)
	err := p.send(ctx, batch)
	cancel()

	p.mu.Lock()
	if err != nil {
		p.requeue(batch)
	}
	p.endFlight()
	p.mu.Unlock()

	if err != nil {
		slog.Warn("[DELIVERY] batch upload failed, requeued", "records", len(batch), "error", err)
		return
	}
	slog.Debug("[DELIVERY] batch uploaded", "records", len(batch))
	p.maybeFlush()
}

// Drain waits for any in-flight upload, then synchronously uploads queued
// batches until the queue is empty or an upload fails. A failed batch is
// requeued and draining stops. Close aborts a drain in progress.
func (p *Pipeline) Drain(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	for {
		p.mu.Lock()
		if !p.busy {
			p.beginFlight()
			p.mu.Unlock()
			break
		}
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() {
		p.mu.Lock()
		p.endFlight()
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		batch := p.takeFront()
		p.mu.Unlock()

		sendCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		err := p.send(sendCtx, batch)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.requeue(batch)
			p.mu.Unlock()
			return err
		}
	}
}

// send uploads one batch and updates counters. The caller owns the flight.
func (p *Pipeline) send(ctx context.Context, batch []queued) error {
	samples := make([]sample.Sample, len(batch))
	for i, q := range batch {
		samples[i] = q.sample
	}
	deviceID := batch[0].deviceID

	err := p.sink.UploadBatch(ctx, deviceID, sample.Records(samples, p.opts.Metadata))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failures++
		return &DeliveryError{DeviceID: deviceID, Records: len(batch), Err: err}
	}
	p.delivered += len(batch)
	return nil
}

// takeFront removes up to BatchSize records from the front of the queue,
// never mixing two devices in one batch. Caller holds mu.
func (p *Pipeline) takeFront() []queued {
	n := min(p.opts.BatchSize, len(p.queue))
	for i := 1; i < n; i++ {
		if p.queue[i].deviceID != p.queue[0].deviceID {
			n = i
			break
		}
	}
	batch := make([]queued, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	return batch
}

// requeue puts batch back at the front of the queue. Caller holds mu.
func (p *Pipeline) requeue(batch []queued) {
	q := make([]queued, 0, len(batch)+len(p.queue))
	q = append(q, batch...)
	q = append(q, p.queue...)
	p.queue = q
}

// Caller holds mu.
func (p *Pipeline) beginFlight() {
	p.busy = true
	p.idle = make(chan struct{})
}

// Caller holds mu.
func (p *Pipeline) endFlight() {
	p.busy = false
	close(p.idle)
}

// Pending returns the number of queued records.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Pending: len(p.queue), Delivered: p.delivered, Failures: p.failures}
}

// WaitIdle blocks until no upload is in flight or ctx ends.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts any in-flight upload and stops background flushing. Queued
// records stay queued.
func (p *Pipeline) Close() {
	p.cancel()
}
