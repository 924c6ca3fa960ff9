package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordThroughputSeedsEMAOnFirstSample(t *testing.T) {
	p := NewProber("127.0.0.1:1", time.Second)
	p.RecordThroughput(125_000, time.Second) // 1,000,000 bits / 1s = 1000 kbps

	assert.InDelta(t, 1000, p.Quality().BandwidthKbps, 0.001)
}

func TestRecordThroughputSmoothsSubsequentSamples(t *testing.T) {
	p := NewProber("127.0.0.1:1", time.Second)
	p.RecordThroughput(125_000, time.Second) // seeds at 1000 kbps
	p.RecordThroughput(0, time.Second)       // 0 kbps sample, alpha=0.3

	got := p.Quality().BandwidthKbps
	assert.InDelta(t, 700, got, 0.001) // 0.3*0 + 0.7*1000
}

func TestRecordThroughputIgnoresZeroElapsed(t *testing.T) {
	p := NewProber("127.0.0.1:1", time.Second)
	p.RecordThroughput(1000, 0)
	assert.Equal(t, float64(0), p.Quality().BandwidthKbps)
}

func TestProbeOnceUnreachableCanarySetsFullLoss(t *testing.T) {
	// Port 1 on loopback is not a listening service here; dial should fail fast.
	p := NewProber("127.0.0.1:1", time.Second)
	p.probeOnce()

	q := p.Quality()
	assert.Equal(t, float64(100), q.LossPercent)
	assert.Equal(t, int64(1), p.SampleCount())
}
