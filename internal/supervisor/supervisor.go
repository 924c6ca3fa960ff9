// ============================================================================
// Supervisor
// ============================================================================
//
// Package: internal/supervisor
// File: supervisor.go
// Purpose: Task registry with heartbeat-based liveness, restart policy with
//          a flapping guard, and the ordered phased shutdown sequence
//          (spec §4.11).
//
// Grounded on internal/controller/controller.go's stopCh + sync.WaitGroup
// loop-lifecycle shape (Start registers goroutines, Stop closes a signal
// channel and waits), generalized from four fixed, named loops to an open
// task registry keyed by name, and on the same file's explicit, commented
// shutdown-order discussion for how ShutdownSequence documents why its
// step order cannot be reordered.
//
// Cyclic references (Supervisor <-> tasks) are broken per spec DESIGN
// NOTES §9: Spawn hands each task a Handle (heartbeat-send + shutdown-
// receive channels) at registration time; tasks never hold a reference
// back to the Supervisor itself.
// ============================================================================

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/health"
	"golang.org/x/sync/errgroup"
)

// State is one point in a task's Starting -> Running -> (Degraded | Failed)
// -> Restarting -> Running lifecycle; Stopped is terminal.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDegraded
	StateFailed
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handle is what a task holds to talk to the Supervisor: a heartbeat send
// side and a shutdown receive side. Tasks never hold *Supervisor itself.
type Handle struct {
	heartbeat chan<- struct{}
	shutdown  <-chan struct{}
}

// Heartbeat signals one liveness pulse for the current iteration.
func (h Handle) Heartbeat() {
	select {
	case h.heartbeat <- struct{}{}:
	default:
		// non-blocking: a task that heartbeats faster than the Supervisor
		// drains is still alive: we only need the fact of receipt to be
		// recent, not queued.
	}
}

// Done is closed when the Supervisor wants this task to stop.
func (h Handle) Done() <-chan struct{} {
	return h.shutdown
}

type taskRecord struct {
	name           string
	state          State
	lastHeartbeat  time.Time
	restartCount   int
	restartTimes   []time.Time
	lastRestart    time.Time
	heartbeatCh    chan struct{}
	shutdownCh     chan struct{}
	restart        func(ctx context.Context, h Handle) error
}

// Config configures dead-task and flapping thresholds.
type Config struct {
	DeadThreshold time.Duration // default 60s
	FlapCount     int           // default 5
	FlapWindow    time.Duration // default 300s
	Logger        *slog.Logger
	PanicPath     string // where the panic handler writes panic.json
}

func (c Config) withDefaults() Config {
	if c.DeadThreshold == 0 {
		c.DeadThreshold = 60 * time.Second
	}
	if c.FlapCount == 0 {
		c.FlapCount = 5
	}
	if c.FlapWindow == 0 {
		c.FlapWindow = 300 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.PanicPath == "" {
		c.PanicPath = "panic.json"
	}
	return c
}

// Supervisor owns the task registry and the shutdown sequence.
type Supervisor struct {
	cfg Config

	mu    sync.Mutex
	tasks map[string]*taskRecord

	watchStop chan struct{}
	watchWg   sync.WaitGroup

	onEmergencyShutdown func()
}

func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:       cfg.withDefaults(),
		tasks:     make(map[string]*taskRecord),
		watchStop: make(chan struct{}),
	}
}

// Spawn registers a task under name and returns the Handle it should use
// for heartbeats and shutdown notification. restart is invoked by the
// watchdog loop whenever the task is found dead and the flapping guard has
// not yet tripped; it is the caller's responsibility to actually re-launch
// the task's goroutine inside restart.
func (s *Supervisor) Spawn(name string, restart func(ctx context.Context, h Handle) error) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	hb := make(chan struct{}, 1)
	sd := make(chan struct{})
	s.tasks[name] = &taskRecord{
		name:          name,
		state:         StateStarting,
		lastHeartbeat: time.Now(),
		heartbeatCh:   hb,
		shutdownCh:    sd,
		restart:       restart,
	}
	return Handle{heartbeat: hb, shutdown: sd}
}

// MarkRunning transitions a Starting task to Running once its init phase
// completes. A task that never calls this stays Starting and is treated
// as alive as long as it heartbeats.
func (s *Supervisor) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.state = StateRunning
	}
}

// StartWatchdog begins the periodic dead-task scan. interval controls how
// often the registry is checked; it is independent of DeadThreshold.
func (s *Supervisor) StartWatchdog(interval time.Duration) {
	s.watchWg.Add(1)
	go s.watchdogLoop(interval)
}

func (s *Supervisor) watchdogLoop(interval time.Duration) {
	defer s.watchWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.watchStop:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *Supervisor) scanOnce() {
	s.mu.Lock()
	now := time.Now()
	var toRestart []*taskRecord
	for _, t := range s.tasks {
		select {
		case <-t.heartbeatCh:
			t.lastHeartbeat = now
			if t.state == StateStarting || t.state == StateDegraded || t.state == StateRestarting {
				t.state = StateRunning
			}
		default:
		}

		if t.state == StateStopped || t.state == StateFailed {
			continue
		}

		alive := now.Sub(t.lastHeartbeat) < s.cfg.DeadThreshold
		if !alive {
			if s.isFlapping(t, now) {
				t.state = StateFailed
				s.cfg.Logger.Error("task flapping, marking failed", "task", t.name, "restarts", t.restartCount)
				continue
			}
			t.state = StateRestarting
			toRestart = append(toRestart, t)
		} else if t.state == StateRunning {
			// still alive, nothing to do
		}
	}
	s.mu.Unlock()

	for _, t := range toRestart {
		s.restartTask(t)
	}
}

// isFlapping reports whether more than flap_count restarts have already
// been recorded within flap_window.
func (s *Supervisor) isFlapping(t *taskRecord, now time.Time) bool {
	cutoff := now.Add(-s.cfg.FlapWindow)
	kept := t.restartTimes[:0]
	for _, rt := range t.restartTimes {
		if rt.After(cutoff) {
			kept = append(kept, rt)
		}
	}
	t.restartTimes = kept
	return len(t.restartTimes) > s.cfg.FlapCount
}

func (s *Supervisor) restartTask(t *taskRecord) {
	now := time.Now()
	s.mu.Lock()
	t.restartCount++
	t.restartTimes = append(t.restartTimes, now)
	t.lastRestart = now
	restart := t.restart
	hb, sd := t.heartbeatCh, t.shutdownCh
	s.mu.Unlock()

	s.cfg.Logger.Warn("task dead, restarting", "task", t.name, "dead_threshold", s.cfg.DeadThreshold)

	if restart == nil {
		return
	}
	go func() {
		if err := restart(context.Background(), Handle{heartbeat: hb, shutdown: sd}); err != nil {
			s.cfg.Logger.Error("task restart returned error", "task", t.name, "error", err)
			s.mu.Lock()
			t.state = StateFailed
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		t.state = StateRunning
		s.mu.Unlock()
	}()
}

// TaskStatuses implements health.TaskSource, letting the Sampler fold
// per-task liveness into its own Alerts without reaching into the
// registry's internals.
func (s *Supervisor) TaskStatuses() []health.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]health.TaskStatus, 0, len(s.tasks))
	now := time.Now()
	for _, t := range s.tasks {
		out = append(out, health.TaskStatus{
			Name:          t.name,
			IsAlive:       t.state != StateFailed && t.state != StateStopped && now.Sub(t.lastHeartbeat) < s.cfg.DeadThreshold,
			LastHeartbeat: t.lastHeartbeat,
			RestartCount:  t.restartCount,
			LastRestart:   t.lastRestart,
		})
	}
	return out
}

// StepStatus is the outcome of one shutdown-sequence step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepExecuting
	StepCompleted
	StepFailed
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepExecuting:
		return "executing"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is one named, independently-timeout-bounded unit of the shutdown
// sequence. Fn may itself fan out to several concurrent sub-actions (e.g.
// "stop camera" across multiple camera tasks) via errgroup internally.
type Step struct {
	Name    string
	Timeout time.Duration
	Fn      func(ctx context.Context) error
}

// StepResult records one step's outcome for the caller/metrics.
type StepResult struct {
	Name   string
	Status StepStatus
}

// RunShutdownSequence runs steps in order, aborting on the first failure
// and marking every remaining step Skipped. Normal and emergency shutdown
// differ only in which step list the caller supplies. overallTimeout is a
// hard ceiling: each step's context is bounded by it, and once it has
// expired the next step is marked Failed without running and all later
// steps are Skipped. A step's Fn is always waited for; a step that ignores
// its context can hold the sequence past overallTimeout.
func RunShutdownSequence(ctx context.Context, steps []Step, overallTimeout time.Duration) []StepResult {
	results := make([]StepResult, len(steps))
	for i, st := range steps {
		results[i] = StepResult{Name: st.Name, Status: StepPending}
	}

	overallCtx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	aborted := false
	for i, st := range steps {
		if aborted {
			results[i].Status = StepSkipped
			continue
		}

		select {
		case <-overallCtx.Done():
			results[i].Status = StepFailed
			aborted = true
			continue
		default:
		}

		results[i].Status = StepExecuting
		stepCtx, stepCancel := context.WithTimeout(overallCtx, st.Timeout)
		err := st.Fn(stepCtx)
		stepCancel()

		if err != nil {
			results[i].Status = StepFailed
			aborted = true
			continue
		}
		results[i].Status = StepCompleted
	}
	return results
}

// FanOut runs several bounded sub-actions concurrently within one step
// using errgroup: the first error cancels the shared context and is
// returned.
func FanOut(ctx context.Context, actions ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range actions {
		a := a
		g.Go(func() error { return a(gctx) })
	}
	return g.Wait()
}

// PanicReport is what the process-wide panic handler writes to disk.
type PanicReport struct {
	Message   string    `json:"message"`
	Location  string    `json:"location"`
	Stack     string    `json:"stack"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// PanicHandler captures panics process-wide, persists a PanicReport, and
// triggers emergency shutdown. It is installed by the caller via
// `defer h.Recover(location)` at the top of main and of every spawned
// task goroutine.
type PanicHandler struct {
	mu          sync.Mutex
	count       int
	writeReport func(PanicReport) error
	onPanic     func()
}

func NewPanicHandler(writeReport func(PanicReport) error, onPanic func()) *PanicHandler {
	return &PanicHandler{writeReport: writeReport, onPanic: onPanic}
}

// Recover should be deferred at the top of a goroutine. It is a no-op
// unless a panic is in flight.
func (p *PanicHandler) Recover(location string) {
	if r := recover(); r != nil {
		p.mu.Lock()
		p.count++
		count := p.count
		p.mu.Unlock()

		report := PanicReport{
			Message:   fmt.Sprintf("%v", r),
			Location:  location,
			Stack:     string(debugStack()),
			Count:     count,
			Timestamp: time.Now(),
		}
		if p.writeReport != nil {
			_ = p.writeReport(report)
		}
		if p.onPanic != nil {
			p.onPanic()
		}
	}
}

// StopWatchdog halts the background dead-task scan. It does not run the
// shutdown sequence; callers invoke RunShutdownSequence separately so the
// watchdog can keep observing tasks mid-shutdown if desired.
func (s *Supervisor) StopWatchdog() {
	close(s.watchStop)
	s.watchWg.Wait()
}
