// ============================================================================
// Producer — Sensor
// ============================================================================
//
// Package: internal/producer
// File: sensor.go
// Purpose: Deterministic GPS/OBD/IMU simulators satisfying Producer,
//          emitting *event.SensorReading payloads.
//
// Grounded on original_source/iot-truck-agent/src/sensors/{mod,gps}.rs's
// per-device reconnect loop and "one goroutine per device, tagged by
// kind" shape. The original's NMEA-over-serial GPS reader and real OBD
// PID polling are out of scope (Non-goals: real sensor hardware I/O);
// only the loop/metrics-gauge idiom is carried over. Values below are
// a bounded deterministic walk, not a physical model.
// ============================================================================

package producer

import (
	"context"
	"math"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// SensorProducer simulates a combined GPS+OBD+IMU reader for one device,
// emitting one event.SensorReading per tick.
type SensorProducer struct {
	baseProducer
	truckID string

	// walk state, advanced deterministically each tick; no randomness so
	// test output is reproducible.
	tick      int
	lat, lon  float64
	speedKMH  float32
	rpm       float32
	fuelPct   float32
	engineC   float32
}

// NewSensorProducer builds a simulated GPS/OBD/IMU source. startLat/startLon
// seed the GPS walk; hz is the initial sample rate.
func NewSensorProducer(deviceID, truckID string, startLat, startLon float64, hz float64, out chan<- *event.Event, hb Heartbeater) *SensorProducer {
	return &SensorProducer{
		baseProducer: newBase(deviceID, out, hb, hz),
		truckID:      truckID,
		lat:          startLat,
		lon:          startLon,
		fuelPct:      100,
		engineC:      60,
	}
}

func (s *SensorProducer) Start(ctx context.Context) error {
	return s.start(ctx, s.emit)
}

func (s *SensorProducer) Stop() { s.stop() }

func (s *SensorProducer) emit() {
	s.tick++

	// Bounded sinusoidal walk: drives speed/rpm/engine temp through a
	// repeatable cycle instead of a straight line, so tests can assert on
	// more than "it only ever goes up".
	phase := float64(s.tick%120) / 120 * 2 * math.Pi
	s.speedKMH = float32(60 + 20*math.Sin(phase))
	s.rpm = float32(1500 + 500*math.Sin(phase))
	s.engineC = float32(85 + 10*math.Sin(phase/2))
	s.fuelPct -= 0.01
	if s.fuelPct < 0 {
		s.fuelPct = 0
	}
	s.lat += 0.0001 * math.Cos(phase)
	s.lon += 0.0001 * math.Sin(phase)

	imu := &event.IMUReading{
		AccelX: float32(0.1 * math.Sin(phase)),
		AccelY: float32(0.1 * math.Cos(phase)),
		AccelZ: 1.0,
		GyroX:  float32(0.01 * math.Sin(phase)),
	}
	imu.ComputeGForce()

	reading := event.SensorReading{
		GPS: &event.GPSReading{
			Latitude:   s.lat,
			Longitude:  s.lon,
			SpeedKMH:   s.speedKMH,
			HeadingDeg: float32(phase * 180 / math.Pi),
			FixQuality: 4,
		},
		OBD: &event.OBDReading{
			RPM:          s.rpm,
			SpeedKMH:     s.speedKMH,
			FuelLevelPct: s.fuelPct,
			EngineTempC:  s.engineC,
		},
		IMU: imu,
	}

	seq := s.nextSeq()
	meta := event.Metadata{TruckID: s.truckID, SourceModule: "producer.sensor"}
	s.send(event.NewSensorEvent(s.deviceID, seq, reading, meta))
}
