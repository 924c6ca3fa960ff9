// Package compress implements the payload-type-aware, network-quality
// adaptive compression rules of spec §4.5, plus the plain Zstd helpers
// the WAL writer (§4.2 step 3) and Batcher (§4.4) both need for their own,
// simpler "compress the bytes" use.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdLevel is fixed at 3 everywhere spec.md names a level explicitly
// (batch bodies, Inference/Health payloads).
const ZstdLevel = zstd.SpeedDefault

var (
	encoderPool = newEncoderPool()
	decoder, _  = zstd.NewReader(nil)
)

type pooledEncoder struct {
	enc *zstd.Encoder
}

func newEncoderPool() *pooledEncoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(ZstdLevel))
	if err != nil {
		panic(fmt.Sprintf("compress: failed to build zstd encoder: %v", err))
	}
	return &pooledEncoder{enc: enc}
}

// Zstd compresses b at level 3 and returns the compressed bytes.
func Zstd(b []byte) []byte {
	return encoderPool.enc.EncodeAll(b, nil)
}

// Unzstd reverses Zstd.
func Unzstd(b []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	return out, nil
}

// Ratio reports the compression ratio (original/compressed), used for the
// Batcher's recorded metric. A zero-length input reports ratio 1.
func Ratio(originalLen, compressedLen int) float64 {
	if compressedLen == 0 {
		return 1
	}
	return float64(originalLen) / float64(compressedLen)
}

// ShouldCompress applies the WAL writer's gating rule from spec §4.2 step
// 3: compress unless the payload is already self-compressed (camera blobs
// that arrive pre-encoded) or smaller than the 8 KiB floor.
func ShouldCompress(alreadyCompressed bool, size int) bool {
	const floor = 8 * 1024
	return !alreadyCompressed && size >= floor
}
