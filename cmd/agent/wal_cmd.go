// ============================================================================
// Edge Agent CLI — wal
// ============================================================================
//
// Package: cmd/agent
// File: wal_cmd.go
// Purpose: Maintenance subcommands over the durable WAL: replay, compact,
//          and dump a sequence range — for operators debugging a truck's
//          on-disk log offline or re-ingesting after a crash.
//
// Grounded on internal/cli/cli.go's buildEnqueueCommand (one cobra.Command
// per maintenance action, flags bound via cmd.Flags(), RunE opening the
// underlying store and reporting a summary line to stdout).
// ============================================================================

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ridgeline-iot/edge-agent/internal/config"
	"github.com/ridgeline-iot/edge-agent/internal/wal"
)

func buildWALCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wal",
		Short: "Inspect and maintain the write-ahead log",
	}
	root.AddCommand(buildWALReplayCommand())
	root.AddCommand(buildWALCompactCommand())
	root.AddCommand(buildWALDumpCommand())
	return root
}

func openWALFromConfig() (*wal.Writer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, exitWith(exitConfigInvalid, fmt.Errorf("load config: %w", err))
	}
	w, err := wal.Open(wal.WriterConfig{Path: cfg.Storage.WALPath})
	if err != nil {
		return nil, exitWith(exitGenericError, fmt.Errorf("open wal: %w", err))
	}
	return w, nil
}

func buildWALReplayCommand() *cobra.Command {
	var fromSeq uint64
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay WAL entries from a starting sequence, printing each",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWALFromConfig()
			if err != nil {
				return err
			}
			defer w.Close()

			stats, err := w.Replay(fromSeq, func(entry *wal.Entry) error {
				fmt.Printf("seq=%d event_id=%s\n", entry.Seq, entry.EventID)
				return nil
			})
			if err != nil {
				return exitWith(exitGenericError, fmt.Errorf("replay: %w", err))
			}
			fmt.Printf("replayed %d entries (%d malformed, last_seq=%d)\n", stats.ReplayedCount, stats.MalformedCount, stats.LastSeq)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromSeq, "from", 0, "sequence number to replay from")
	return cmd
}

func buildWALCompactCommand() *cobra.Command {
	var highWatermark, diskUsage, targetUsage float64
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Run a retention-policy compaction pass over the WAL",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWALFromConfig()
			if err != nil {
				return err
			}
			defer w.Close()

			report, err := w.Compact(wal.CompactorConfig{
				HighWatermarkFrac: highWatermark,
				DiskUsageFrac:     diskUsage,
				TargetUsageFrac:   targetUsage,
			})
			if err != nil {
				return exitWith(exitGenericError, fmt.Errorf("compact: %w", err))
			}
			fmt.Printf("scanned=%d deleted=%d safe_to_delete_before=%d checkpoint_seq=%d\n",
				report.Scanned, report.Deleted, report.SafeToDeleteBefore, report.CheckpointSeq)
			return nil
		},
	}
	cmd.Flags().Float64Var(&highWatermark, "high-watermark-frac", 0.8, "disk-usage fraction at or above which unacked non-critical entries become evictable")
	cmd.Flags().Float64Var(&diskUsage, "disk-usage-frac", 0.9, "current disk-usage fraction compared against the other two thresholds")
	cmd.Flags().Float64Var(&targetUsage, "target-usage-frac", 0.6, "disk-usage fraction above which acked SizeBased entries are evicted")
	return cmd
}

func buildWALDumpCommand() *cobra.Command {
	var fromSeq, toSeq uint64
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print WAL entries between --from and --to sequence numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWALFromConfig()
			if err != nil {
				return err
			}
			defer w.Close()

			if toSeq < fromSeq {
				return exitWith(exitGenericError, fmt.Errorf("--to (%d) must be >= --from (%d)", toSeq, fromSeq))
			}
			for seq := fromSeq; seq <= toSeq; seq++ {
				entry, err := w.GetBySeq(seq)
				if err != nil {
					continue
				}
				fmt.Printf("seq=%s event_id=%s\n", strconv.FormatUint(seq, 10), entry.EventID)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromSeq, "from", 0, "starting sequence number (inclusive)")
	cmd.Flags().Uint64Var(&toSeq, "to", 0, "ending sequence number (inclusive)")
	return cmd
}
