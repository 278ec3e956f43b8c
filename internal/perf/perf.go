// Package perf samples host load for the in-game performance diagnostic and
// the admin status report.
package perf

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one host load reading.
type Sample struct {
	CPUPercent float64
	MemPercent float64
}

// Read samples CPU usage over the given window plus current memory usage.
func Read(window time.Duration) (Sample, error) {
	percents, err := cpu.Percent(window, false)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu sample: %w", err)
	}
	var s Sample
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, fmt.Errorf("mem sample: %w", err)
	}
	s.MemPercent = vm.UsedPercent
	return s, nil
}

// Indicator folds a sample into a coarse server-performance label.
func (s Sample) Indicator() string {
	switch {
	case s.CPUPercent < 50:
		return "Good"
	case s.CPUPercent < 80:
		return "Moderate"
	default:
		return "Lagging"
	}
}

// String formats the sample for chat output.
func (s Sample) String() string {
	return fmt.Sprintf("CPU %.1f%% | Mem %.1f%% (%s)", s.CPUPercent, s.MemPercent, s.Indicator())
}
