// ============================================================================
// WAL Compactor / Reaper
// ============================================================================
//
// Eviction rules, as evictDecision applies them:
//   1. Critical + unacked -> always retain.
//   2. Other unacked entries -> retained unless disk >= high-watermark;
//      then PriorityBased entries below min_priority, and TimeBased
//      entries older than max_age, are evicted.
//   3. Acked entries -> always evicted. The retention policy only names
//      the reason (TimeBased past max_age, SizeBased while usage is above
//      target, PriorityBased below min_priority); it never keeps an acked
//      entry longer. SizeBased does not pick oldest entries first.
//
// A compaction pass scans every entry once, deletes what the rules above
// permit in batches of <= 1000, and ends by emitting a Checkpoint
// entry recording the safe_to_delete_before watermark — the seq below
// which every surviving entry is either acked or permanently retained.
// ============================================================================

package wal

import (
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

const compactionBatchSize = 1000

// CompactorConfig tunes the eviction thresholds the Adaptive Controller and
// operator configuration feed into compaction.
type CompactorConfig struct {
	// HighWatermarkFrac is the disk usage fraction (0..1) at or above
	// which unacked non-critical entries become evictable.
	HighWatermarkFrac float64
	// DiskUsageFrac is sampled by the caller (package health owns the
	// actual statfs call) and passed in fresh for each compaction run.
	DiskUsageFrac float64
	// TargetUsageFrac is the usage SizeBased eviction aims to reach.
	TargetUsageFrac float64
}

// CompactionReport summarizes one compaction pass, matching the counts the
// Checkpoint entry records.
type CompactionReport struct {
	Scanned          int
	Deleted          int
	SafeToDeleteBefore uint64
	CheckpointSeq    uint64
}

// Compact runs one compaction pass over the WAL starting at seq 0, applying
// the retention order in spec §4.3, and ends by appending a Checkpoint
// entry. It is safe to call on a timer or in response to a disk-pressure
// event; both are "triggered on a timer and on disk-pressure events" per
// the spec, with no behavioral difference beyond cadence.
func (w *Writer) Compact(cfg CompactorConfig) (CompactionReport, error) {
	var report CompactionReport
	now := time.Now()

	type candidate struct {
		seq    uint64
		policy RetentionPolicy
		acked  bool
		ts     time.Time
		prio   event.Priority
	}

	minSurvivingSeq := ^uint64(0) // max uint64; lowered as we find survivors
	var toDelete []uint64

	// Scan under a single read transaction, deciding eviction per entry,
	// but never deleting here: bbolt serializes readers and the single
	// writer separately, and invoking Update from inside a View callback
	// on the same goroutine would deadlock against that writer lock.
	// Batching "every N entries" (spec §4.3) therefore happens on the
	// delete side below, not by interleaving deletes into the scan.
	err := w.store.forEachEntry(0, func(seq uint64, se *storedEntry, raw []byte, decodeErr error) error {
		if decodeErr != nil {
			// Malformed entries are the replay path's concern; compaction
			// leaves them for Replay to quarantine.
			return nil
		}
		report.Scanned++
		c := candidate{seq: seq, policy: se.RetentionPolicy, acked: se.Acked, ts: se.Timestamp, prio: se.Priority}
		if evict, _ := evictDecision(c.seq, c.policy, c.acked, c.ts, c.prio, now, cfg); evict {
			toDelete = append(toDelete, seq)
		} else if seq < minSurvivingSeq {
			minSurvivingSeq = seq
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	for start := 0; start < len(toDelete); start += compactionBatchSize {
		end := start + compactionBatchSize
		if end > len(toDelete) {
			end = len(toDelete)
		}
		if err := w.deleteSeqs(toDelete[start:end]); err != nil {
			return report, err
		}
		report.Deleted += end - start
	}

	if minSurvivingSeq == ^uint64(0) {
		// Every entry was deleted; the watermark is simply the writer's
		// current seq, since nothing older can still be outstanding.
		report.SafeToDeleteBefore = w.LastSeq()
	} else {
		report.SafeToDeleteBefore = minSurvivingSeq
	}

	cpSeq, err := w.emitCheckpoint(report)
	if err != nil {
		return report, err
	}
	report.CheckpointSeq = cpSeq
	return report, nil
}

func (w *Writer) deleteSeqs(seqs []uint64) error {
	for _, seq := range seqs {
		if err := w.store.deleteEntry(seq); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

// evictDecision applies the spec §4.3 retention order to a single entry.
func evictDecision(seq uint64, policy RetentionPolicy, acked bool, ts time.Time, prio event.Priority, now time.Time, cfg CompactorConfig) (bool, string) {
	if prio == event.PriorityCritical && !acked {
		return false, "critical-unacked-always-retained"
	}
	if !acked {
		// Unacked, non-critical entries are never compaction-evicted
		// outright; disk pressure eviction below is the only path that
		// can still remove them before a server ack.
		if cfg.DiskUsageFrac >= cfg.HighWatermarkFrac {
			if policy.Kind == RetentionPriorityBased && prio > policy.MinPriority {
				return true, "disk-pressure-priority-based"
			}
			// "then age": fall through to TimeBased-style aging even
			// for non-PriorityBased unacked entries once above
			// watermark, since the point is to shed volume.
			if policy.Kind == RetentionTimeBased && now.Sub(ts) > policy.MaxAge {
				return true, "disk-pressure-age"
			}
		}
		return false, "unacked-retained"
	}

	// Acked: the ordinary (non-pressure) retention rules decide whether
	// it is still worth keeping around.
	switch policy.Kind {
	case RetentionTimeBased:
		if now.Sub(ts) > policy.MaxAge {
			return true, "time-based-expired"
		}
	case RetentionSizeBased:
		if cfg.DiskUsageFrac > cfg.TargetUsageFrac {
			return true, "size-based-over-target"
		}
	case RetentionPriorityBased:
		if prio > policy.MinPriority {
			return true, "priority-based-below-threshold"
		}
	}
	// Acked entries with no policy reason to keep them are reclaimed once
	// they've had a chance to be read back (e.g. for diagnostics);
	// compaction treats "acked and no surviving reason" as delete-eligible,
	// matching spec §3 invariant 2 ("deleted only if acked=true OR policy
	// permits").
	return true, "acked-no-retention-reason"
}

// emitCheckpoint appends a Checkpoint event summarizing this compaction
// pass, per spec §4.3's "emits a Checkpoint entry summarizing counts and
// the safe_to_delete_before watermark".
func (w *Writer) emitCheckpoint(report CompactionReport) (uint64, error) {
	payload := event.CheckpointPayload{
		SafeToDeleteBefore: report.SafeToDeleteBefore,
		EntryCount:         uint64(report.Scanned - report.Deleted),
		TombstoneCount:     uint64(report.Deleted),
	}
	ev := event.NewCheckpointEvent("wal-compactor", uint64(report.Scanned), payload, event.Metadata{SourceModule: "wal"})
	return w.Append(ev, RetentionPolicy{Kind: RetentionTimeBased, MaxAge: 30 * 24 * time.Hour})
}
