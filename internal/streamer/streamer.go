// ============================================================================
// Streamer - Batch Pump with Retry/Backoff and Spillover
// ============================================================================
//
// Package: internal/streamer
// File: streamer.go
// Purpose: Pull assembled Batches off the Batcher, hand them to the
//          Transport Multiplexer, track pending acks, and retry failed
//          sends with bounded exponential backoff (spec §4.8).
//
// Ownership (spec §3): "The Streamer holds copies of pending entries keyed
// by event_id; the Acknowledger owns the pending map." The Streamer tracks
// each batch it hands to transport with the Acknowledger, and on exhausted
// retries releases those event_ids from the pending map without touching
// the WAL's acked flag — the entries are already durable there, unacked.
// Nothing re-reads them afterwards: they are not re-submitted to the
// Batcher, and no caller in the agent uses ListUnacked to resend them.
//
// Concurrency:
//   One goroutine pumps Out() and performs retries sequentially per batch,
//   the same single-consumer-loop shape as the teacher's worker pool
//   (internal/worker) reading a shared dispatch channel.
// ============================================================================

package streamer

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/ack"
	"github.com/ridgeline-iot/edge-agent/internal/batcher"
	"github.com/ridgeline-iot/edge-agent/internal/transport"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 500 * time.Millisecond
	jitterFraction    = 0.2 // ±20%, per spec §4.8
)

// Sender is the subset of *transport.Multiplexer the Streamer depends on.
type Sender interface {
	SendBatch(ctx context.Context, b batcher.Batch) (transport.Ack, error)
}

// SeqLookup resolves an event_id to its WAL seq, so the Streamer can tell
// the Acknowledger which seq to mark acked without re-deriving it from
// producer-side metadata. Satisfied by *wal.Writer's LookupSeq.
type SeqLookup interface {
	LookupSeq(eventID string) (uint64, bool)
}

// Source is the subset of *batcher.Batcher the Streamer pulls from.
type Source interface {
	Out() <-chan batcher.Batch
}

// Config tunes retry/backoff and backpressure behavior.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *log.Logger

	// Sleep is overridable in tests to avoid real waits during backoff.
	Sleep func(time.Duration)
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return c
}

// Streamer drains batches, sends them, tracks acks and retries failures.
type Streamer struct {
	cfg    Config
	source Source
	sender Sender
	acker  *ack.Acknowledger
	seqs   SeqLookup

	stopC chan struct{}
	wg    sync.WaitGroup
}

func New(source Source, sender Sender, acker *ack.Acknowledger, seqs SeqLookup, cfg Config) *Streamer {
	return &Streamer{
		cfg:    cfg.withDefaults(),
		source: source,
		sender: sender,
		acker:  acker,
		seqs:   seqs,
		stopC:  make(chan struct{}),
	}
}

// Start launches the pump loop.
func (s *Streamer) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Streamer) Stop() {
	close(s.stopC)
	s.wg.Wait()
}

func (s *Streamer) run() {
	defer s.wg.Done()
	for {
		select {
		case b, ok := <-s.source.Out():
			if !ok {
				return
			}
			s.deliver(b)
		case <-s.stopC:
			return
		}
	}
}

// deliver sends one batch, retrying on failure with bounded exponential
// backoff plus jitter (spec §4.8), pausing the pump for the retry's
// duration since a single goroutine drives delivery.
func (s *Streamer) deliver(b batcher.Batch) {
	if s.acker.Backpressured() {
		// The Batcher already emitted this batch; dropping it here would
		// lose events that are otherwise safely durable in the WAL only
		// if we decline to track them. Track anyway and let the transport
		// attempt proceed — backpressure governs pulling new work, not
		// batches already in flight.
		s.cfg.Logger.Printf("streamer: pending map at capacity, proceeding with in-flight batch %s anyway", b.ID)
	}

	seqByEventID := make(map[string]uint64, len(b.Events))
	for _, ev := range b.Events {
		if seq, ok := s.seqs.LookupSeq(ev.EventID); ok {
			seqByEventID[ev.EventID] = seq
		} else {
			s.cfg.Logger.Printf("streamer: no WAL seq found for event_id=%s, ack correlation for it will be dropped", ev.EventID)
		}
	}

	for retry := 0; ; retry++ {
		s.acker.TrackBatch(b.ID, seqByEventID)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ackResp, err := s.sender.SendBatch(ctx, b)
		cancel()

		if err == nil {
			s.acker.Confirm(b.ID, ackResp.EventIDs)
			if len(ackResp.EventIDs) == 0 {
				// Transport accepted but named nothing (e.g. async NATS
				// ack pending); assume the whole batch per at-least-once.
				s.acker.Confirm(b.ID, eventIDsOf(b))
			}
			return
		}

		if retry >= s.cfg.MaxRetries {
			s.cfg.Logger.Printf("streamer: batch %s exhausted %d retries, spilling back to WAL unacked: %v", b.ID, s.cfg.MaxRetries, err)
			s.acker.ReleaseBatch(b.ID)
			return
		}

		delay := backoffDelay(s.cfg.BaseDelay, retry)
		s.cfg.Logger.Printf("streamer: batch %s send failed (retry %d/%d), backing off %s: %v", b.ID, retry+1, s.cfg.MaxRetries, delay, err)
		s.cfg.Sleep(delay)
	}
}

// backoffDelay computes base * 2^retry with +/-20% jitter (spec §4.8).
func backoffDelay(base time.Duration, retry int) time.Duration {
	exp := base * time.Duration(1<<uint(retry))
	jitter := (rand.Float64()*2 - 1) * jitterFraction // in [-0.2, 0.2]
	return time.Duration(float64(exp) * (1 + jitter))
}

func eventIDsOf(b batcher.Batch) []string {
	ids := make([]string, 0, len(b.Events))
	for _, ev := range b.Events {
		ids = append(ids, ev.EventID)
	}
	return ids
}
