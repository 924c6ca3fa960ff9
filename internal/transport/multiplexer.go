package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/batcher"
)

// MultiplexerConfig tunes the primary-degradation cool-off cycle (spec
// §4.6 "mark primary as degraded for a cool-off window").
type MultiplexerConfig struct {
	FailureThreshold int
	CoolOff          time.Duration
	DiskPressureHigh func() bool // queried fresh per send for QoS downgrade eligibility
	Logger           *log.Logger
}

func (c MultiplexerConfig) withDefaults() MultiplexerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.CoolOff <= 0 {
		c.CoolOff = defaultCoolOff
	}
	if c.DiskPressureHigh == nil {
		c.DiskPressureHigh = func() bool { return false }
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Multiplexer exposes send_batch(batch) -> Ack|TransportError (spec §4.6),
// selecting between a primary persistent transport and a secondary
// request/response fallback, and tracking primary's consecutive failures
// to trigger a cool-off degrade window.
type Multiplexer struct {
	cfg       MultiplexerConfig
	primary   Transport
	secondary Transport

	mu              sync.Mutex
	consecutiveFail int
	degradedUntil   time.Time
}

func NewMultiplexer(primary, secondary Transport, cfg MultiplexerConfig) *Multiplexer {
	return &Multiplexer{primary: primary, secondary: secondary, cfg: cfg.withDefaults()}
}

// SendBatch selects a transport per spec §4.6 ("use primary if
// primary.is_connected; else secondary") and maps QoS from the batch's
// priority, the chosen transport's exactly-once capability, and current
// disk pressure.
func (m *Multiplexer) SendBatch(ctx context.Context, b batcher.Batch) (Ack, error) {
	t, exactlyOnceCapable := m.selectTransport()
	qos := qosFor(b.Priority, exactlyOnceCapable, m.cfg.DiskPressureHigh())

	ack, err := t.SendBatch(ctx, b, qos)
	if t == m.primary {
		m.recordPrimaryResult(err == nil)
	}
	return ack, err
}

// selectTransport applies primary/secondary selection and the
// degradation cool-off: primary is skipped while a cool-off window is
// active, even if it currently reports connected, since a flapping link
// shouldn't be retried on every single batch.
func (m *Multiplexer) selectTransport() (Transport, bool) {
	m.mu.Lock()
	degraded := time.Now().Before(m.degradedUntil)
	m.mu.Unlock()

	if !degraded && m.primary.IsConnected() {
		return m.primary, true // JetStream supports per-message exactly-once via MsgId dedup
	}
	return m.secondary, false
}

func (m *Multiplexer) recordPrimaryResult(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.consecutiveFail = 0
		return
	}
	m.consecutiveFail++
	if m.consecutiveFail >= m.cfg.FailureThreshold {
		m.degradedUntil = time.Now().Add(m.cfg.CoolOff)
		m.cfg.Logger.Printf("transport: primary degraded for %s after %d consecutive failures", m.cfg.CoolOff, m.consecutiveFail)
	}
}

// PrimaryDegraded reports whether primary is currently in its cool-off
// window, for health/diagnostics reporting.
func (m *Multiplexer) PrimaryDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.degradedUntil)
}
