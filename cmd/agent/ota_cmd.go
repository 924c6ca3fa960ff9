// ============================================================================
// Edge Agent CLI — ota
// ============================================================================
//
// Package: cmd/agent
// File: ota_cmd.go
// Purpose: Operator-driven OTA apply subcommand: read an ota.Update
//          descriptor from a JSON file and drive it through the same
//          download/verify/apply/rollback pipeline the remote responder
//          uses, for staged or offline rollout testing.
//
// Grounded on internal/cli/cli.go's buildEnqueueCommand (read a
// descriptor from disk, construct the matching internal type, drive it
// through the package that would otherwise receive it over the wire).
// ============================================================================

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/ridgeline-iot/edge-agent/internal/ota"
)

func buildOTACommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ota",
		Short: "Drive OTA update application",
	}
	root.AddCommand(buildOTAApplyCommand())
	return root
}

// httpFetcher implements ota.Fetcher against a real HTTP server; both this
// command and the running agent's own OTA responder (wired in run.go) use
// it.
type httpFetcher struct{}

func (httpFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

func buildOTAApplyCommand() *cobra.Command {
	var filePath string
	var keyHex string
	var keyID string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a single OTA update described by a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return exitWith(exitGenericError, fmt.Errorf("read update file: %w", err))
			}
			var u ota.Update
			if err := json.Unmarshal(data, &u); err != nil {
				return exitWith(exitGenericError, fmt.Errorf("parse update file: %w", err))
			}

			keys, err := loadTrustedKeys(keyID, keyHex)
			if err != nil {
				return exitWith(exitGenericError, err)
			}

			targets := map[ota.UpdateTarget]string{
				ota.TargetAgent:    "/opt/edge-agent/agent",
				ota.TargetModel:    "/opt/edge-agent/models",
				ota.TargetConfig:   configPath,
				ota.TargetFirmware: "/opt/edge-agent/firmware.bin",
			}
			responder := ota.NewResponder(
				ota.NewDownloader(httpFetcher{}, 0),
				ota.NewFileInstaller(targets),
				keys,
				nil,
			)

			result := responder.ApplyUpdate(context.Background(), u)
			fmt.Printf("update %s -> %s\n", result.UpdateID, result.Status)
			if result.Error != "" {
				fmt.Fprintln(os.Stderr, "error:", result.Error)
				return exitWith(exitGenericError, fmt.Errorf("update failed: %s", result.Error))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the JSON-encoded ota.Update descriptor")
	cmd.Flags().StringVar(&keyID, "key-id", "primary", "key ID the update's signature is checked against")
	cmd.Flags().StringVar(&keyHex, "trusted-key", "", "hex-encoded ed25519 public key trusted to sign updates")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func loadTrustedKeys(keyID, keyHex string) (ota.TrustedKeys, error) {
	if keyHex == "" {
		return ota.TrustedKeys{}, nil
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode --trusted-key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("--trusted-key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ota.TrustedKeys{keyID: ed25519.PublicKey(raw)}, nil
}
