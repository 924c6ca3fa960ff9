package ota

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFetcher struct {
	data []byte
	err  error
}

func (f fixedFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), int64(len(f.data)), nil
}

func signedUpdate(t *testing.T, target UpdateTarget, artefact []byte) (Update, TrustedKeys) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sum := sha256.Sum256(artefact)
	sig := ed25519.Sign(priv, sum[:])

	u := Update{
		UpdateID:  "upd-1",
		Version:   "1.2.3",
		Target:    target,
		URL:       "https://updates.example/agent.bin",
		Checksum:  hex.EncodeToString(sum[:]),
		Signature: hex.EncodeToString(sig),
		KeyID:     "primary",
		SizeBytes: int64(len(artefact)),
		Priority:  PriorityMedium,
	}
	return u, TrustedKeys{"primary": pub}
}

func TestDownloaderStreamsArtefactIntactWhenUnthrottled(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 10_000)
	d := NewDownloader(fixedFetcher{data: data}, 0)

	var out bytes.Buffer
	n, err := d.Download(context.Background(), Update{URL: "x", Priority: PriorityLow}, &out)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), n)
	assert.Equal(t, data, out.Bytes())
}

func TestDownloaderCriticalPriorityBypassesBandwidthCap(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 50_000)
	d := NewDownloader(fixedFetcher{data: data}, 1) // 1 byte/sec cap

	var out bytes.Buffer
	start := time.Now()
	_, err := d.Download(context.Background(), Update{URL: "x", Priority: PriorityCritical}, &out)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDownloaderPropagatesFetchError(t *testing.T) {
	d := NewDownloader(fixedFetcher{err: errors.New("network down")}, 0)
	var out bytes.Buffer
	_, err := d.Download(context.Background(), Update{URL: "x"}, &out)
	assert.Error(t, err)
}

func TestVerifyAcceptsMatchingChecksumAndSignature(t *testing.T) {
	artefact := []byte("agent-binary-bytes")
	u, keys := signedUpdate(t, TargetAgent, artefact)
	assert.NoError(t, Verify(u, artefact, keys))
}

func TestVerifyRejectsTamperedArtefact(t *testing.T) {
	artefact := []byte("agent-binary-bytes")
	u, keys := signedUpdate(t, TargetAgent, artefact)
	err := Verify(u, []byte("tampered-bytes!!!!!"), keys)
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownSigningKey(t *testing.T) {
	artefact := []byte("agent-binary-bytes")
	u, _ := signedUpdate(t, TargetAgent, artefact)
	err := Verify(u, artefact, TrustedKeys{})
	assert.Error(t, err)
}

func TestFileInstallerBacksUpInstallsAndPostChecks(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "agent.bin")
	require.NoError(t, os.WriteFile(livePath, []byte("old-version"), 0o644))

	inst := NewFileInstaller(map[UpdateTarget]string{TargetAgent: livePath})

	require.NoError(t, inst.Backup(TargetAgent))
	require.NoError(t, inst.Install(TargetAgent, []byte("new-version")))

	ok, err := inst.PostCheck(TargetAgent)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(livePath)
	require.NoError(t, err)
	assert.Equal(t, "new-version", string(got))

	backup, err := os.ReadFile(livePath + "_backup")
	require.NoError(t, err)
	assert.Equal(t, "old-version", string(backup))
}

func TestFileInstallerRollbackRestoresBackup(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(livePath, []byte("old-config"), 0o644))

	inst := NewFileInstaller(map[UpdateTarget]string{TargetConfig: livePath})
	require.NoError(t, inst.Backup(TargetConfig))
	require.NoError(t, inst.Install(TargetConfig, []byte("bad-config")))
	require.NoError(t, inst.Rollback(TargetConfig))

	got, err := os.ReadFile(livePath)
	require.NoError(t, err)
	assert.Equal(t, "old-config", string(got))
}

func TestResponderApplyUpdateSucceedsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "agent.bin")
	require.NoError(t, os.WriteFile(livePath, []byte("old"), 0o644))

	artefact := []byte("new-agent-bytes")
	u, keys := signedUpdate(t, TargetAgent, artefact)

	downloader := NewDownloader(fixedFetcher{data: artefact}, 0)
	inst := NewFileInstaller(map[UpdateTarget]string{TargetAgent: livePath})
	r := NewResponder(downloader, inst, keys, nil)

	result := r.ApplyUpdate(context.Background(), u)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, result.Error)

	status, ok := r.StatusOf(u.UpdateID)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, status)
}

func TestResponderApplyUpdateRollsBackOnPostCheckFailure(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "agent.bin")
	require.NoError(t, os.WriteFile(livePath, []byte("old"), 0o644))

	artefact := []byte("new-agent-bytes")
	u, keys := signedUpdate(t, TargetAgent, artefact)

	downloader := NewDownloader(fixedFetcher{data: artefact}, 0)
	inst := NewFileInstaller(map[UpdateTarget]string{TargetAgent: livePath})
	inst.SetPostCheck(TargetAgent, func() (bool, error) { return false, nil })
	r := NewResponder(downloader, inst, keys, nil)

	result := r.ApplyUpdate(context.Background(), u)
	assert.Equal(t, StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)

	got, err := os.ReadFile(livePath)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got), "rollback should have restored the pre-apply contents")
}

func TestResponderApplyUpdateFailsOnChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "agent.bin")
	require.NoError(t, os.WriteFile(livePath, []byte("old"), 0o644))

	u, keys := signedUpdate(t, TargetAgent, []byte("expected-bytes"))
	downloader := NewDownloader(fixedFetcher{data: []byte("different-bytes-entirely")}, 0)
	inst := NewFileInstaller(map[UpdateTarget]string{TargetAgent: livePath})
	r := NewResponder(downloader, inst, keys, nil)

	result := r.ApplyUpdate(context.Background(), u)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestResponderExecuteCommandDispatchesToRegisteredHandler(t *testing.T) {
	r := NewResponder(nil, nil, nil, map[CommandType]CommandHandler{
		CommandGetDiagnostics: DefaultDiagnosticsHandler,
	})

	resp := r.ExecuteCommand(context.Background(), Command{CommandID: "cmd-1", Type: CommandGetDiagnostics})
	assert.Equal(t, CommandSuccess, resp.Status)
	assert.Equal(t, "cmd-1", resp.CommandID)
	assert.NotNil(t, resp.Result)
}

func TestResponderExecuteCommandFailsWithoutRegisteredHandler(t *testing.T) {
	r := NewResponder(nil, nil, nil, nil)
	resp := r.ExecuteCommand(context.Background(), Command{CommandID: "cmd-2", Type: CommandReboot})
	assert.Equal(t, CommandFailed, resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestResponderExecuteCommandPropagatesHandlerError(t *testing.T) {
	r := NewResponder(nil, nil, nil, map[CommandType]CommandHandler{
		CommandRestartService: func(ctx context.Context, cmd Command) (map[string]any, error) {
			return nil, errors.New("unknown service")
		},
	})
	resp := r.ExecuteCommand(context.Background(), Command{CommandID: "cmd-3", Type: CommandRestartService})
	assert.Equal(t, CommandFailed, resp.Status)
	assert.Equal(t, "unknown service", resp.Error)
}

func TestResponderRunDispatchesCommandsAndUpdatesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "agent.bin")
	require.NoError(t, os.WriteFile(livePath, []byte("old"), 0o644))

	artefact := []byte("new-bytes")
	u, keys := signedUpdate(t, TargetAgent, artefact)
	downloader := NewDownloader(fixedFetcher{data: artefact}, 0)
	inst := NewFileInstaller(map[UpdateTarget]string{TargetAgent: livePath})

	r := NewResponder(downloader, inst, keys, map[CommandType]CommandHandler{
		CommandRunHealthCheck: DefaultHealthCheckHandler,
	})

	commands := make(chan Command, 1)
	updates := make(chan Update, 1)
	responses := make(chan CommandResponse, 1)
	results := make(chan UpdateResult, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx, commands, updates, responses, results)

	commands <- Command{CommandID: "hc-1", Type: CommandRunHealthCheck}
	select {
	case resp := <-responses:
		assert.Equal(t, CommandSuccess, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command response")
	}

	updates <- u
	select {
	case res := <-results:
		assert.Equal(t, StatusSuccess, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update result")
	}

	cancel()
}
