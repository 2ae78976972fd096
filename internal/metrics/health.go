package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultRSSSoftCapBytes is the default per-process RSS soft cap from
// spec.md §5 ("default 1 GiB").
const DefaultRSSSoftCapBytes = 1 << 30

// HealthLoop samples this process's RSS on an interval, updates
// MemoryUsageBytes, and invokes onOverCap whenever RSS exceeds softCap —
// the orchestrator wires onOverCap to a graceful-degrade action (e.g.
// shedding the market-making side channel first).
type HealthLoop struct {
	metrics  *Metrics
	proc     *process.Process
	softCap  uint64
	interval time.Duration
}

// NewHealthLoop builds a HealthLoop for the current process.
func NewHealthLoop(m *Metrics, softCapBytes uint64, interval time.Duration) (*HealthLoop, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if softCapBytes == 0 {
		softCapBytes = DefaultRSSSoftCapBytes
	}
	return &HealthLoop{metrics: m, proc: proc, softCap: softCapBytes, interval: interval}, nil
}

// Run samples RSS every interval until ctx is cancelled, calling
// onOverCap (if non-nil) each time RSS is above the soft cap.
func (h *HealthLoop) Run(ctx context.Context, onOverCap func(rssBytes uint64)) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss, overCap, err := h.Sample(ctx)
			if err != nil {
				continue
			}
			if overCap && onOverCap != nil {
				onOverCap(rss)
			}
		}
	}
}

// Sample takes one RSS reading, records it to MemoryUsageBytes, and
// reports whether it exceeds the configured soft cap. Exposed so callers
// that fold RSS into a larger health gate (e.g. the Orchestrator's
// block-staleness/peer-count/RSS OR gate, spec.md §4.7) don't need their
// own gopsutil sampling loop.
func (h *HealthLoop) Sample(ctx context.Context) (rssBytes uint64, overCap bool, err error) {
	info, err := h.proc.MemInfoWithContext(ctx)
	if err != nil {
		return 0, false, err
	}
	h.metrics.MemoryUsageBytes.Set(float64(info.RSS))
	return info.RSS, info.RSS > h.softCap, nil
}
