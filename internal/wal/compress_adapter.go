package wal

import "github.com/ridgeline-iot/edge-agent/internal/compress"

// shouldCompress/zstdCompress/zstdDecompress delegate to the shared
// compress package so the WAL's own compression gate (spec §4.2 step 3)
// uses the exact same Zstd implementation the Batcher and Compressor use,
// rather than a second copy of compression logic.
func shouldCompress(alreadyCompressed bool, size int) bool {
	return compress.ShouldCompress(alreadyCompressed, size)
}

func zstdCompress(b []byte) []byte { return compress.Zstd(b) }

func zstdDecompress(b []byte) ([]byte, error) { return compress.Unzstd(b) }
