// ============================================================================
// Producer
// ============================================================================
//
// Package: internal/producer
// File: producer.go
// Purpose: Sensor/camera/inference capability-set interface (spec §4
//          preamble, DESIGN NOTES §9: "{Start, Stop, SetRate}") plus
//          deterministic, injectable simulators behind it.
//
// Grounded on original_source/iot-truck-agent/src/sensors/mod.rs's
// per-device goroutine-per-reader dispatch (one background task per
// configured device, each emitting onto a shared channel, tagged by
// sensor kind for metrics) — recovered in shape: Go has no tokio
// broadcast channel, so each Producer here owns its own output channel
// and the caller fans them into the Batcher's Submit, the same "one
// task per capability, one channel out" topology.
//
// Non-goals (spec.md, carried into SPEC_FULL.md): model accuracy and
// real sensor/camera/GPIO hardware I/O are out of scope. Every Producer
// here is a deterministic simulator behind the same interface a real
// GPS/OBD/IMU/V4L2 driver would satisfy.
// ============================================================================

package producer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// Producer is the capability set every sensor/camera/inference source
// implements. SetRate lets the Adaptive Controller throttle a running
// producer (ReduceSensorRate, ThrottleCameraFPS) without a restart.
type Producer interface {
	Start(ctx context.Context) error
	Stop()
	SetRate(hz float64)
}

// Heartbeater is the subset of supervisor.Handle a Producer calls each
// iteration; kept as an interface here so this package never imports
// internal/supervisor (breaking the cyclic reference the same way
// DESIGN NOTES §9 does for Supervisor <-> tasks).
type Heartbeater interface {
	Heartbeat()
}

type noopHeartbeater struct{}

func (noopHeartbeater) Heartbeat() {}

type baseProducer struct {
	deviceID string
	out      chan<- *event.Event
	hb       Heartbeater
	seq      atomic.Uint64

	mu      sync.Mutex
	rateHz  float64
	stopC   chan struct{}
	wg      sync.WaitGroup
	running bool
}

func newBase(deviceID string, out chan<- *event.Event, hb Heartbeater, defaultHz float64) baseProducer {
	if hb == nil {
		hb = noopHeartbeater{}
	}
	return baseProducer{deviceID: deviceID, out: out, hb: hb, rateHz: defaultHz}
}

func (b *baseProducer) SetRate(hz float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hz > 0 {
		b.rateHz = hz
	}
}

// Rate reports the producer's current tick rate, letting a caller (the
// Adaptive Controller's reconciliation loop, diagnostics) observe the
// effect of a prior SetRate without reaching into baseProducer directly.
func (b *baseProducer) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rateHz
}

func (b *baseProducer) interval() time.Duration {
	b.mu.Lock()
	hz := b.rateHz
	b.mu.Unlock()
	if hz <= 0 {
		hz = 1
	}
	return time.Duration(float64(time.Second) / hz)
}

func (b *baseProducer) nextSeq() uint64 { return b.seq.Add(1) }

// run drives tick at the producer's current (mutable) rate, calling emit
// on every tick until ctx is cancelled or Stop is called.
func (b *baseProducer) run(ctx context.Context, emit func()) {
	defer b.wg.Done()
	for {
		d := b.interval()
		t := time.NewTimer(d)
		select {
		case <-t.C:
			emit()
			b.hb.Heartbeat()
		case <-ctx.Done():
			t.Stop()
			return
		case <-b.stopC:
			t.Stop()
			return
		}
	}
}

func (b *baseProducer) start(ctx context.Context, emit func()) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stopC = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(ctx, emit)
	return nil
}

func (b *baseProducer) stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopC)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *baseProducer) send(ev *event.Event) {
	select {
	case b.out <- ev:
	default:
		// Backpressure from a full channel is expected under disk/CPU
		// pressure; the producer drops rather than blocks the reader's
		// own heartbeat cadence, matching "no long CPU-bound work runs
		// on the cooperative pool" — blocking here would stall a tick.
	}
}
