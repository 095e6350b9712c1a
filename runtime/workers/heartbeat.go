package workers

import (
	"context"
	"log/slog"
	"os"
	goruntime "runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is one sample of the server's own resource usage.
type ProcessStats struct {
	At         time.Time `json:"at"`
	Pid        int32     `json:"pid"`
	Status     string    `json:"status"`
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	Goroutines int       `json:"goroutines"`
}

// HeartbeatWorker samples the process every interval and keeps the latest sample.
type HeartbeatWorker struct {
	log      *slog.Logger
	interval time.Duration
	latest   atomic.Pointer[ProcessStats]
}

func NewHeartbeatWorker(log *slog.Logger, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, interval: interval}
}

// Latest returns the most recent sample, or nil before the first one.
func (w *HeartbeatWorker) Latest() *ProcessStats {
	return w.latest.Load()
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		stats, err := sample(p)
		if err != nil {
			w.log.Error("Failed to collect self stats", "error", err)
		} else {
			w.latest.Store(&stats)
			w.log.Debug("Heartbeat", "cpu", stats.CPUPercent, "rss", stats.RSSBytes, "goroutines", stats.Goroutines)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// sample retrieves memory, CPU, and OS status for p.
func sample(p *process.Process) (ProcessStats, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}
	status, err := p.Status()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{
		At:         time.Now(),
		Pid:        p.Pid,
		Status:     status,
		CPUPercent: cpuPercent,
		RSSBytes:   memInfo.RSS,
		Goroutines: goruntime.NumGoroutine(),
	}, nil
}
