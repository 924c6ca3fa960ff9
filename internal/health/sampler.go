// ============================================================================
// Health Sampler
// ============================================================================
//
// Package: internal/health
// File: sampler.go
// Purpose: Periodic CPU/mem/disk/temperature/network/task sampling into a
//          HealthEvent (spec §4.9), using prometheus/procfs for CPU/mem/
//          load and golang.org/x/sys/unix.Statfs for disk.
//
// Design Pattern:
//   A ticker-driven periodic loop reading shared state and emitting on a
//   channel, the same shape as the teacher controller's snapshot loop
//   (internal/controller/controller.go's "Snapshot Loop").
//
// Temperature (order recovered from
// original_source/iot-truck-agent/src/health/system_monitor.rs and
// thermal_manager.rs): OS thermal-zone file, else a CPU-load-derived
// estimate. The platform sensor-component step of that order is not
// implemented.
// ============================================================================

package health

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Thresholds configures the warning/critical boundaries the Sampler uses
// to populate Alerts. The Adaptive Controller has its own, separate
// threshold set for actions (spec §4.10); these only drive alerting.
type Thresholds struct {
	CPUWarningPercent    float64
	CPUCriticalPercent   float64
	MemWarningPercent    float64
	MemCriticalPercent   float64
	DiskWarningPercent   float64
	DiskCriticalPercent  float64
	TempWarningC         float64
	TempCriticalC        float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.CPUWarningPercent == 0 {
		t.CPUWarningPercent = 70
	}
	if t.CPUCriticalPercent == 0 {
		t.CPUCriticalPercent = 90
	}
	if t.MemWarningPercent == 0 {
		t.MemWarningPercent = 75
	}
	if t.MemCriticalPercent == 0 {
		t.MemCriticalPercent = 90
	}
	if t.DiskWarningPercent == 0 {
		t.DiskWarningPercent = 80
	}
	if t.DiskCriticalPercent == 0 {
		t.DiskCriticalPercent = 95
	}
	if t.TempWarningC == 0 {
		t.TempWarningC = 70
	}
	if t.TempCriticalC == 0 {
		t.TempCriticalC = 85
	}
	return t
}

// NetworkSource is the subset of *transport.Multiplexer/Prober the
// Sampler reads network quality from.
type NetworkSource interface {
	PrimaryDegraded() bool
}

// TaskSource is the subset of *supervisor.Supervisor the Sampler reads
// per-task liveness from.
type TaskSource interface {
	TaskStatuses() []TaskStatus
}

// Config wires the Sampler's dependencies and tuning.
type Config struct {
	Interval        time.Duration // default 1000ms, per spec §4.9
	DiskPath        string        // filesystem to Statfs, default "/"
	ThermalZonePath string        // default /sys/class/thermal/thermal_zone0/temp
	ThrottledPath   string        // Raspberry Pi throttle flag file
	Thresholds      Thresholds
	Network         NetworkSource
	Tasks           TaskSource
	Logger          *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.ThermalZonePath == "" {
		c.ThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"
	}
	if c.ThrottledPath == "" {
		c.ThrottledPath = "/sys/devices/platform/soc/soc:firmware/get_throttled"
	}
	c.Thresholds = c.Thresholds.withDefaults()
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Sampler periodically produces HealthEvents.
type Sampler struct {
	cfg   Config
	fs    procfs.FS
	outCh chan HealthEvent

	mu       sync.Mutex
	prevStat procfs.Stat
	haveStat bool

	stopC chan struct{}
	wg    sync.WaitGroup
}

func New(cfg Config) (*Sampler, error) {
	cfg = cfg.withDefaults()
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &Sampler{cfg: cfg, fs: fs, outCh: make(chan HealthEvent, 4), stopC: make(chan struct{})}, nil
}

// Out returns the channel sampled HealthEvents are published on.
func (s *Sampler) Out() <-chan HealthEvent { return s.outCh }

func (s *Sampler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sampler) Stop() {
	close(s.stopC)
	s.wg.Wait()
}

func (s *Sampler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ev := s.Sample()
			select {
			case s.outCh <- ev:
			default:
				s.cfg.Logger.Printf("health: sampler output channel full, dropping sample")
			}
		case <-s.stopC:
			return
		}
	}
}

// Sample collects one HealthEvent immediately, independent of the timer
// loop — used both by run() and directly by tests/diagnostics.
func (s *Sampler) Sample() HealthEvent {
	resources, alerts := s.collectResources()
	network := s.collectNetwork()

	var tasks []TaskStatus
	if s.cfg.Tasks != nil {
		tasks = s.cfg.Tasks.TaskStatuses()
		for _, t := range tasks {
			if !t.IsAlive {
				alerts = append(alerts, Alert{
					AlertType:         "task_dead",
					Severity:          AlertCritical,
					Message:           "task " + t.Name + " has not reported a heartbeat recently",
					Source:            "health_sampler",
					RecommendedAction: "restart task via supervisor",
					TriggeredAt:       time.Now(),
				})
			}
		}
	}

	status := s.overallStatus(resources, alerts)
	return HealthEvent{
		Timestamp: time.Now(),
		Status:    status,
		Resources: resources,
		Network:   network,
		Tasks:     tasks,
		Alerts:    alerts,
	}
}

func (s *Sampler) overallStatus(r ResourceUsage, alerts []Alert) Status {
	status := StatusOk
	for _, a := range alerts {
		switch a.Severity {
		case AlertCritical:
			status = max(status, StatusCritical)
		case AlertWarning:
			status = max(status, StatusWarning)
		}
	}
	if r.TemperatureC > s.cfg.Thresholds.TempCriticalC+15 {
		// Thermal shutdown territory; the Adaptive Controller's own
		// thermal_shutdown threshold (configured separately, typically
		// higher than our alerting critical) is what actually triggers
		// ShutdownPending — this is a conservative local backstop.
		status = max(status, StatusShutdownPending)
	}
	return status
}

func (s *Sampler) collectNetwork() NetworkHealth {
	nh := NetworkHealth{PrimaryConnected: true}
	if s.cfg.Network != nil {
		nh.PrimaryConnected = !s.cfg.Network.PrimaryDegraded()
	}
	return nh
}

func (s *Sampler) collectResources() (ResourceUsage, []Alert) {
	var alerts []Alert
	r := ResourceUsage{CPUCores: countCPUCores()}

	if stat, err := s.fs.Stat(); err == nil {
		r.UptimeSec = uint64(time.Since(bootTimeFromStat(stat)).Seconds())
		r.CPUPercent = s.cpuPercent(stat)
	}

	if la, err := s.fs.LoadAvg(); err == nil {
		r.LoadAvg1, r.LoadAvg5, r.LoadAvg15 = la.Load1, la.Load5, la.Load15
	}

	if mi, err := s.fs.Meminfo(); err == nil {
		total := derefU64(mi.MemTotal)
		avail := derefU64(mi.MemAvailable)
		used := total - avail
		r.MemoryTotalMB = total / 1024
		r.MemoryAvailableMB = avail / 1024
		r.MemoryUsedMB = used / 1024
		if total > 0 {
			r.MemoryPercent = float64(used) / float64(total) * 100
		}
		swapTotal := derefU64(mi.SwapTotal)
		swapFree := derefU64(mi.SwapFree)
		if swapTotal > 0 {
			r.SwapPercent = float64(swapTotal-swapFree) / float64(swapTotal) * 100
		}
	}

	if usedGB, totalGB, availGB, pct, err := statfsUsage(s.cfg.DiskPath); err == nil {
		r.DiskUsedGB, r.DiskTotalGB, r.DiskAvailableGB, r.DiskPercent = usedGB, totalGB, availGB, pct
	}

	r.TemperatureC = s.readTemperature(r.CPUPercent)
	r.ThermalThrottling = s.checkThrottled()

	alerts = append(alerts, thresholdAlerts(r, s.cfg.Thresholds)...)
	return r, alerts
}

// cpuPercent derives a percent-busy figure from the delta between two
// /proc/stat snapshots, the standard procfs pattern (a single snapshot
// alone only gives cumulative counters since boot).
func (s *Sampler) cpuPercent(cur procfs.Stat) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.prevStat
	have := s.haveStat
	s.prevStat = cur
	s.haveStat = true
	if !have {
		return 0
	}

	prevIdle := prev.CPUTotal.Idle + prev.CPUTotal.Iowait
	curIdle := cur.CPUTotal.Idle + cur.CPUTotal.Iowait
	prevTotal := cpuTotalSum(prev)
	curTotal := cpuTotalSum(cur)

	totalDelta := curTotal - prevTotal
	idleDelta := curIdle - prevIdle
	if totalDelta <= 0 {
		return 0
	}
	return (1 - idleDelta/totalDelta) * 100
}

func cpuTotalSum(s procfs.Stat) float64 {
	c := s.CPUTotal
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func bootTimeFromStat(s procfs.Stat) time.Time {
	if s.BootTime == 0 {
		return time.Now()
	}
	return time.Unix(int64(s.BootTime), 0)
}

func countCPUCores() int {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return 1
	}
	n := strings.Count(string(data), "processor\t:")
	if n == 0 {
		return 1
	}
	return n
}

func derefU64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

// readTemperature implements the original Rust agent's fallback chain:
// OS thermal-zone file, then (skipped here — no portable Go sensor
// component library in this corpus) a CPU-load estimate as last resort.
func (s *Sampler) readTemperature(cpuPercent float64) float64 {
	if data, err := os.ReadFile(s.cfg.ThermalZonePath); err == nil {
		if milliC, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64); err == nil {
			return milliC / 1000
		}
	}
	// Estimate, same shape as the original's "45.0 + cpu_usage/10.0".
	return 45.0 + cpuPercent/10.0
}

// checkThrottled reads the Raspberry Pi firmware throttle flag; bit 16 or
// bit 18 (mask 0x50000) indicates active throttling, per the original agent.
func (s *Sampler) checkThrottled() bool {
	data, err := os.ReadFile(s.cfg.ThrottledPath)
	if err != nil {
		return false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 0, 32)
	if err != nil {
		return false
	}
	return v&0x50000 != 0
}

// statfsUsage reports disk usage in whole gigabytes plus a percent-used
// figure, via golang.org/x/sys/unix.Statfs.
func statfsUsage(path string) (usedGB, totalGB, availGB uint64, percent float64, err error) {
	var st unix.Statfs_t
	if err = unix.Statfs(path, &st); err != nil {
		return 0, 0, 0, 0, err
	}
	blockSize := uint64(st.Bsize)
	total := st.Blocks * blockSize
	avail := st.Bavail * blockSize
	used := total - (st.Bfree * blockSize)

	const gb = 1024 * 1024 * 1024
	usedGB, totalGB, availGB = used/gb, total/gb, avail/gb
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}
	return usedGB, totalGB, availGB, percent, nil
}

func thresholdAlerts(r ResourceUsage, t Thresholds) []Alert {
	var alerts []Alert
	now := time.Now()

	addIf := func(cond bool, sev AlertSeverity, alertType, msg, action string) {
		if cond {
			alerts = append(alerts, Alert{AlertType: alertType, Severity: sev, Message: msg, Source: "health_sampler", RecommendedAction: action, TriggeredAt: now})
		}
	}

	addIf(r.CPUPercent > t.CPUCriticalPercent, AlertCritical, "cpu_critical", "CPU usage critical", "Reduce camera FPS, disable non-critical ML models")
	addIf(r.CPUPercent > t.CPUWarningPercent && r.CPUPercent <= t.CPUCriticalPercent, AlertWarning, "cpu_warning", "CPU usage elevated", "Monitor for trends")

	addIf(r.MemoryPercent > t.MemCriticalPercent, AlertCritical, "memory_critical", "Memory usage critical", "Reduce frame buffer size, disable ML models")
	addIf(r.MemoryPercent > t.MemWarningPercent && r.MemoryPercent <= t.MemCriticalPercent, AlertWarning, "memory_warning", "Memory usage elevated", "Monitor memory trends")

	addIf(r.DiskPercent > t.DiskCriticalPercent, AlertCritical, "disk_critical", "Disk usage critical", "Force WAL checkpoint, drop camera frames")
	addIf(r.DiskPercent > t.DiskWarningPercent && r.DiskPercent <= t.DiskCriticalPercent, AlertWarning, "disk_warning", "Disk usage elevated", "Prepare for checkpoint")

	addIf(r.TemperatureC > t.TempCriticalC, AlertCritical, "temp_critical", "Temperature critical", "Reduce CPU load, check cooling")
	addIf(r.TemperatureC > t.TempWarningC && r.TemperatureC <= t.TempCriticalC, AlertWarning, "temp_warning", "Temperature elevated", "Monitor temperature trends")

	return alerts
}
