// ============================================================================
// Edge Agent CLI — health
// ============================================================================
//
// Package: cmd/agent
// File: health_cmd.go
// Purpose: One-shot diagnostic subcommand that samples CPU/mem/disk/
//          temperature/network/task health once and prints the result,
//          for operators checking a truck's state without starting the
//          full agent.
//
// Grounded on internal/cli/cli.go's status-reporting commands (open just
// enough state to answer the question, print, exit) rather than the
// long-running run command's full component graph.
// ============================================================================

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridgeline-iot/edge-agent/internal/config"
	"github.com/ridgeline-iot/edge-agent/internal/health"
)

func buildHealthCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "health",
		Short: "Inspect device health",
	}
	root.AddCommand(buildHealthSnapshotCommand())
	return root
}

func buildHealthSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Sample resource/network/task health once and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return exitWith(exitConfigInvalid, fmt.Errorf("load config: %w", err))
			}

			sampler, err := health.New(health.Config{
				Thresholds: health.Thresholds{
					CPUWarningPercent:   cfg.Health.CPUWarningPercent,
					CPUCriticalPercent:  cfg.Health.CPUCriticalPercent,
					MemWarningPercent:   cfg.Health.MemWarningPercent,
					MemCriticalPercent:  cfg.Health.MemCriticalPercent,
					DiskWarningPercent:  cfg.Health.DiskWarningPercent,
					DiskCriticalPercent: cfg.Health.DiskCriticalPercent,
					TempWarningC:        cfg.Health.TempWarningC,
					TempCriticalC:       cfg.Health.TempCriticalC,
				},
			})
			if err != nil {
				return exitWith(exitGenericError, fmt.Errorf("init health sampler: %w", err))
			}

			ev := sampler.Sample()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(ev); err != nil {
				return exitWith(exitGenericError, fmt.Errorf("encode health snapshot: %w", err))
			}
			return nil
		},
	}
}
