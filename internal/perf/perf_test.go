package perf

import (
	"strings"
	"testing"
	"time"
)

func TestIndicator(t *testing.T) {
	tests := []struct {
		cpu  float64
		want string
	}{
		{0, "Good"},
		{49.9, "Good"},
		{50, "Moderate"},
		{79.9, "Moderate"},
		{80, "Lagging"},
		{100, "Lagging"},
	}

	for _, tt := range tests {
		s := Sample{CPUPercent: tt.cpu}
		if got := s.Indicator(); got != tt.want {
			t.Errorf("Indicator(cpu=%v) = %q, want %q", tt.cpu, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	s := Sample{CPUPercent: 12.34, MemPercent: 56.78}
	got := s.String()
	if !strings.Contains(got, "12.3%") || !strings.Contains(got, "56.8%") || !strings.Contains(got, "Good") {
		t.Errorf("String() = %q", got)
	}
}

func TestRead(t *testing.T) {
	s, err := Read(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if s.CPUPercent < 0 || s.CPUPercent > 100 {
		t.Errorf("CPUPercent = %v, out of range", s.CPUPercent)
	}
	if s.MemPercent <= 0 || s.MemPercent > 100 {
		t.Errorf("MemPercent = %v, out of range", s.MemPercent)
	}
}
