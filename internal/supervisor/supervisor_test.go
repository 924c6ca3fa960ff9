package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRegistersTaskInStartingState(t *testing.T) {
	s := New(Config{})
	s.Spawn("sensor_ingest", nil)

	statuses := s.TaskStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "sensor_ingest", statuses[0].Name)
	assert.True(t, statuses[0].IsAlive)

	s.mu.Lock()
	assert.Equal(t, StateStarting, s.tasks["sensor_ingest"].state)
	s.mu.Unlock()
}

func TestHeartbeatKeepsTaskAlive(t *testing.T) {
	s := New(Config{DeadThreshold: 50 * time.Millisecond})
	h := s.Spawn("camera_capture", nil)
	h.Heartbeat()

	s.scanOnce()
	statuses := s.TaskStatuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsAlive)
}

func TestDeadTaskWithoutHeartbeatTriggersRestart(t *testing.T) {
	var restarted int32
	s := New(Config{DeadThreshold: 1 * time.Millisecond})
	s.Spawn("wal_compactor", func(ctx context.Context, h Handle) error {
		atomic.AddInt32(&restarted, 1)
		return nil
	})

	time.Sleep(5 * time.Millisecond)
	s.scanOnce()
	time.Sleep(10 * time.Millisecond) // let the restart goroutine run

	assert.Equal(t, int32(1), atomic.LoadInt32(&restarted))
}

func TestFlappingGuardMarksFailedAfterTooManyRestarts(t *testing.T) {
	s := New(Config{DeadThreshold: 1 * time.Millisecond, FlapCount: 2, FlapWindow: time.Minute})
	s.Spawn("inference_runner", func(ctx context.Context, h Handle) error { return nil })

	for i := 0; i < 4; i++ {
		time.Sleep(2 * time.Millisecond)
		s.scanOnce()
	}

	s.mu.Lock()
	state := s.tasks["inference_runner"].state
	s.mu.Unlock()
	assert.Equal(t, StateFailed, state)
}

func TestRestartFailureMarksTaskFailed(t *testing.T) {
	s := New(Config{DeadThreshold: 1 * time.Millisecond})
	s.Spawn("ota_responder", func(ctx context.Context, h Handle) error {
		return errors.New("boom")
	})

	time.Sleep(5 * time.Millisecond)
	s.scanOnce()
	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	state := s.tasks["ota_responder"].state
	s.mu.Unlock()
	assert.Equal(t, StateFailed, state)
}

func TestRunShutdownSequenceCompletesAllStepsInOrder(t *testing.T) {
	var order []string
	steps := []Step{
		{Name: "flush_wal", Timeout: time.Second, Fn: func(ctx context.Context) error {
			order = append(order, "flush_wal")
			return nil
		}},
		{Name: "stop_camera", Timeout: time.Second, Fn: func(ctx context.Context) error {
			order = append(order, "stop_camera")
			return nil
		}},
	}

	results := RunShutdownSequence(context.Background(), steps, 5*time.Second)
	require.Len(t, results, 2)
	assert.Equal(t, StepCompleted, results[0].Status)
	assert.Equal(t, StepCompleted, results[1].Status)
	assert.Equal(t, []string{"flush_wal", "stop_camera"}, order)
}

func TestRunShutdownSequenceAbortsAndSkipsRemainingOnFailure(t *testing.T) {
	steps := []Step{
		{Name: "flush_wal", Timeout: time.Second, Fn: func(ctx context.Context) error {
			return errors.New("disk full")
		}},
		{Name: "stop_camera", Timeout: time.Second, Fn: func(ctx context.Context) error {
			t.Fatal("should not run after prior step failed")
			return nil
		}},
	}

	results := RunShutdownSequence(context.Background(), steps, 5*time.Second)
	assert.Equal(t, StepFailed, results[0].Status)
	assert.Equal(t, StepSkipped, results[1].Status)
}

func TestRunShutdownSequenceHardAbortsOnOverallTimeout(t *testing.T) {
	steps := []Step{
		{Name: "slow_step", Timeout: time.Second, Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "never_runs", Timeout: time.Second, Fn: func(ctx context.Context) error {
			return nil
		}},
	}

	results := RunShutdownSequence(context.Background(), steps, 10*time.Millisecond)
	assert.Equal(t, StepFailed, results[0].Status)
}

func TestFanOutRunsActionsConcurrentlyAndPropagatesFirstError(t *testing.T) {
	err := FanOut(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("stop_sensors failed") },
	)
	assert.Error(t, err)
}

func TestPanicHandlerWritesReportAndTriggersCallback(t *testing.T) {
	var written PanicReport
	var triggered bool
	ph := NewPanicHandler(
		func(r PanicReport) error { written = r; return nil },
		func() { triggered = true },
	)

	func() {
		defer ph.Recover("test_task")
		panic("synthetic failure")
	}()

	assert.Equal(t, "synthetic failure", written.Message)
	assert.Equal(t, "test_task", written.Location)
	assert.True(t, triggered)
	assert.Equal(t, 1, written.Count)
}

func TestPanicHandlerIsNoOpWithoutPanic(t *testing.T) {
	var triggered bool
	ph := NewPanicHandler(func(r PanicReport) error { return nil }, func() { triggered = true })

	func() {
		defer ph.Recover("test_task")
	}()

	assert.False(t, triggered)
}
