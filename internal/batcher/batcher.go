// ============================================================================
// Batcher - Priority-Weighted Event Assembly
// ============================================================================
//
// Package: internal/batcher
// File: batcher.go
// Function: Groups inbound events into size/count/time-bounded Batches for
//           the Transport Multiplexer, per spec §4.4.
//
// Design Pattern:
//   Four per-priority FIFO queues feed one assembly routine, the same
//   "fixed goroutine set reading from a shared structure, emitting to a
//   result channel" shape the teacher's worker pool uses for task
//   dispatch — generalized here from task distribution to priority-ordered
//   batch assembly.
//
// Assembly algorithm (spec §4.4):
//   1. Drain Critical until size or count bound.
//   2. If size <= max/2, drain High until bound.
//   3. If highest priority in the batch is >= Medium AND size <= max/4,
//      opportunistically drain Medium then Low.
//   4. Emit when non-empty; reset the wait timer.
//
// Critical events trigger an immediate assembly attempt on arrival rather
// than waiting for the timer, matching the teacher's pattern of Critical
// alert priority bypassing the ordinary queue discipline everywhere else
// in this pipeline (the WAL's immediate-flush trigger is the same idea).
// ============================================================================

package batcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ridgeline-iot/edge-agent/internal/compress"
	"github.com/ridgeline-iot/edge-agent/internal/event"
)

const (
	DefaultMaxBytes  = 256 * 1024
	DefaultMaxEvents = 100
	DefaultMaxWait   = time.Second
)

// Batch is the unit the Transport Multiplexer sends, per spec §4.4.
type Batch struct {
	ID                string
	Events            []*event.Event
	SizeBytes         int
	Priority          event.Priority
	CompressionRatio  float64
	Body              []byte
	AssembledAt       time.Time
	FirstEventAt      time.Time
}

// Config bounds one Batcher instance.
type Config struct {
	MaxBytes  int
	MaxEvents int
	MaxWait   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

type queue struct {
	items []queuedEvent
}

type queuedEvent struct {
	ev       *event.Event
	arrived  time.Time
}

func (q *queue) push(ev *event.Event) {
	q.items = append(q.items, queuedEvent{ev: ev, arrived: time.Now()})
}

func (q *queue) empty() bool { return len(q.items) == 0 }

// Batcher assembles events into Batches under the rules in spec §4.4.
// Submit takes the Batcher's mutex, so concurrent Submit calls from
// several goroutines are safe.
type Batcher struct {
	cfg Config

	mu            sync.Mutex
	queues        [4]queue // indexed by event.Priority
	timerSet      bool
	timerDeadline time.Time

	outCh chan Batch
	stopC chan struct{}
	wg    sync.WaitGroup
}

// New creates a Batcher that emits completed batches on the channel
// returned by Out().
func New(cfg Config) *Batcher {
	cfg = cfg.withDefaults()
	b := &Batcher{
		cfg:   cfg,
		outCh: make(chan Batch, 16),
		stopC: make(chan struct{}),
	}
	return b
}

// Out returns the channel completed Batches are emitted on.
func (b *Batcher) Out() <-chan Batch { return b.outCh }

// Submit enqueues ev for assembly. Critical events attempt an immediate
// assembly; everything else waits for the next timer tick or a Critical
// arrival to trigger a pass.
func (b *Batcher) Submit(ev *event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prio := ev.Priority
	if ev.IsAlertPriority() {
		prio = event.PriorityCritical
	}
	b.queues[prio].push(ev)

	if prio == event.PriorityCritical {
		b.assembleLocked()
		return
	}
	b.armTimerLocked()
}

// Start launches the wait-timer loop. Call Stop to release its goroutine.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop halts the timer loop. Any partially assembled queue contents are
// left in place; callers wanting a final flush should call Flush first.
func (b *Batcher) Stop() {
	close(b.stopC)
	b.wg.Wait()
}

// Flush forces an assembly pass regardless of timer state, used on
// shutdown so nothing is silently dropped from the in-memory queues.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assembleLocked()
}

func (b *Batcher) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if b.timerSet && time.Now().After(b.timerDeadline) {
				b.timerSet = false
				b.assembleLocked()
			}
			b.mu.Unlock()
		case <-b.stopC:
			return
		}
	}
}

// armTimerLocked starts the wait window if one isn't already running.
// timerDeadline is read and written only while mu is held.
func (b *Batcher) armTimerLocked() {
	if b.timerSet {
		return
	}
	b.timerSet = true
	b.timerDeadline = time.Now().Add(b.cfg.MaxWait)
}

func (b *Batcher) assembleLocked() {
	if b.allEmptyLocked() {
		return
	}

	var events []*event.Event
	size := 0
	highest := event.PriorityLow
	var firstArrival time.Time

	drain := func(p event.Priority, limit int) {
		q := &b.queues[p]
		for !q.empty() {
			if len(events) >= b.cfg.MaxEvents {
				return
			}
			next := q.items[0]
			hint := next.ev.SizeHintBytes
			if size+hint > limit && len(events) > 0 {
				return
			}
			q.items = q.items[1:]
			events = append(events, next.ev)
			size += hint
			if p < highest {
				highest = p
			}
			if firstArrival.IsZero() || next.arrived.Before(firstArrival) {
				firstArrival = next.arrived
			}
		}
	}

	// 1. Critical until size or count bound.
	drain(event.PriorityCritical, b.cfg.MaxBytes)

	// 2. High, only if current size <= max/2.
	if size <= b.cfg.MaxBytes/2 {
		drain(event.PriorityHigh, b.cfg.MaxBytes)
	}

	// 3. Medium then Low, opportunistically, if highest so far is >= Medium
	// (i.e. nothing more urgent than Medium is in the batch) and size is
	// still small relative to the bound.
	if highest >= event.PriorityMedium && size <= b.cfg.MaxBytes/4 {
		drain(event.PriorityMedium, b.cfg.MaxBytes)
		drain(event.PriorityLow, b.cfg.MaxBytes)
	}

	if len(events) == 0 {
		return
	}

	body, ratio := compressBatch(events)
	batch := Batch{
		ID:               uuid.NewString(),
		Events:           events,
		SizeBytes:        size,
		Priority:         highest,
		CompressionRatio: ratio,
		Body:             body,
		AssembledAt:      time.Now(),
		FirstEventAt:     firstArrival,
	}

	// Blocking send: a full outCh means the Streamer is backed up, and a
	// dropped batch here means events no WAL entry can recover once
	// acked, so back-pressure propagates to Submit rather than silently
	// discarding work.
	b.outCh <- batch
}

func (b *Batcher) allEmptyLocked() bool {
	for i := range b.queues {
		if !b.queues[i].empty() {
			return false
		}
	}
	return true
}

// compressBatch builds the batch body from whatever raw bytes its events
// carry (camera blobs are the only payload with meaningful raw bytes to
// compress at this stage) and reports the compression ratio for metrics.
// Per-event binary encoding is the WAL codec's concern, not the
// Batcher's; this is a separate, coarser compression pass over the batch
// as a unit, using the same Zstd level-3 path (spec §4.4 "Compression of
// the batch body uses Zstd level 3").
func compressBatch(events []*event.Event) ([]byte, float64) {
	var raw []byte
	for _, ev := range events {
		if blob, ok := ev.Payload.(*event.CameraBlobPayload); ok {
			raw = append(raw, blob.Data...)
		}
	}
	if len(raw) == 0 {
		return nil, 1.0
	}
	compressed := compress.Zstd(raw)
	return compressed, compress.Ratio(len(raw), len(compressed))
}
