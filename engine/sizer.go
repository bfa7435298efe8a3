package engine

import (
	"fmt"
	"time"

	"github.com/ormeli/notemux"
)

type (
	// Sizer is the adaptive buffer size controller. It observes
	// per-callback timing reported by the render context and selects the
	// render window size, escalating immediately on signs of overload and
	// stepping down only when headroom has been ample for a while. The
	// cooldowns and the multi-sample window are the hysteresis that keeps
	// it from oscillating. Control context only, like the router.
	Sizer struct {
		sampleRate int
		size       notemux.BufferSize
		adaptive   bool

		utilization *RollingWindow // utilization per callback
		durations   *RollingWindow // processing time per callback, ms

		underruns     int // since last resize / metrics reset
		overruns      int
		nearUnderruns int

		samplesProcessed int64
		start            time.Time
		lastChange       time.Time
		lastAdapt        time.Time

		transitions []SizeTransition

		now func() time.Time // replaced in tests
	}

	SizeTransition struct {
		From   notemux.BufferSize
		To     notemux.BufferSize
		At     time.Time
		Reason string
	}
)

const (
	historyWindow = 100

	nearUnderrunUtilization = 0.8
	stepUpUtilization       = 0.7
	stepDownUtilization     = 0.5

	emergencyCooldown = 2 * time.Second
	adaptInterval     = 5 * time.Second
	minAdaptSamples   = 20

	maxTransitionHistory = 64
)

func NewSizer(sampleRate int, initial notemux.BufferSize) *Sizer {
	if !initial.Valid() {
		initial = notemux.Buffer256
	}
	s := &Sizer{
		sampleRate:  sampleRate,
		size:        initial,
		adaptive:    true,
		utilization: NewRollingWindow(historyWindow),
		durations:   NewRollingWindow(historyWindow),
		now:         time.Now,
	}
	s.start = s.now()
	return s
}

func (s *Sizer) Size() notemux.BufferSize { return s.size }
func (s *Sizer) Adaptive() bool           { return s.adaptive }

// RecordProcessingTime feeds one callback's timing into the controller.
// Returns the new size and true when this measurement triggered a resize;
// the caller is responsible for delivering the resize to the render context.
func (s *Sizer) RecordProcessingTime(durationMS float64, frames int) (notemux.BufferSize, bool) {
	available := float64(frames) * 1000 / float64(s.sampleRate)
	utilization := 0.0
	if available > 0 {
		utilization = durationMS / available
	}
	s.utilization.Add(utilization)
	s.durations.Add(durationMS)
	s.samplesProcessed += int64(frames)

	if utilization > nearUnderrunUtilization {
		s.nearUnderruns++
		if s.escalate("near-underrun") {
			return s.size, true
		}
	}
	return s.adapt()
}

// RecordUnderrun is an explicit glitch report from the render context. It
// re-triggers the emergency escalation path, subject to the same cooldown.
func (s *Sizer) RecordUnderrun() (notemux.BufferSize, bool) {
	s.underruns++
	return s.size, s.escalate("underrun")
}

func (s *Sizer) RecordOverrun() {
	s.overruns++
}

// escalate steps up one tier immediately, bypassing the periodic check, if
// adaptive mode is on, a larger size exists, and the emergency cooldown has
// elapsed.
func (s *Sizer) escalate(reason string) bool {
	if !s.adaptive {
		return false
	}
	if s.now().Sub(s.lastChange) < emergencyCooldown {
		return false
	}
	larger, ok := s.size.Larger()
	if !ok {
		return false
	}
	s.resize(larger, reason)
	return true
}

// adapt runs the periodic adaptation: at most once per adaptInterval, and
// only with at least minAdaptSamples measurements in the window. One tier
// per adaptation in either direction.
func (s *Sizer) adapt() (notemux.BufferSize, bool) {
	if !s.adaptive {
		return s.size, false
	}
	if s.now().Sub(s.lastAdapt) < adaptInterval || s.utilization.Len() < minAdaptSamples {
		return s.size, false
	}
	s.lastAdapt = s.now()
	avg := s.utilization.Average()
	switch {
	case avg > stepUpUtilization || s.underruns > 0:
		if larger, ok := s.size.Larger(); ok {
			s.resize(larger, "sustained load")
			return s.size, true
		}
	case avg < stepDownUtilization && s.underruns == 0:
		if smaller, ok := s.size.Smaller(); ok {
			s.resize(smaller, "ample headroom")
			return s.size, true
		}
	}
	return s.size, false
}

// resize records the transition and clears the rolling history and glitch
// counters, so the next decision is based on measurements of the new size
// only.
func (s *Sizer) resize(to notemux.BufferSize, reason string) {
	s.transitions = append(s.transitions, SizeTransition{From: s.size, To: to, At: s.now(), Reason: reason})
	if len(s.transitions) > maxTransitionHistory {
		s.transitions = s.transitions[len(s.transitions)-maxTransitionHistory:]
	}
	s.size = to
	s.lastChange = s.now()
	s.lastAdapt = s.now()
	s.ResetMetrics()
}

// SetBufferSize is the manual override: it switches immediately and disables
// adaptive mode until SetAdaptiveMode(true).
func (s *Sizer) SetBufferSize(size notemux.BufferSize) (bool, error) {
	if !size.Valid() {
		return false, fmt.Errorf("invalid buffer size %d", int(size))
	}
	s.adaptive = false
	if size == s.size {
		return false, nil
	}
	s.resize(size, "manual")
	return true, nil
}

func (s *Sizer) SetAdaptiveMode(enabled bool) {
	s.adaptive = enabled
	if enabled {
		// fresh start: old measurements were taken under manual control
		s.utilization.Reset()
		s.lastAdapt = s.now()
	}
}

// RecommendedBufferSize is a pure mapping from a target latency to the
// largest size whose window still fits inside it.
func (s *Sizer) RecommendedBufferSize(targetLatencyMS float64) notemux.BufferSize {
	switch {
	case targetLatencyMS >= notemux.Buffer512.LatencyMS(s.sampleRate):
		return notemux.Buffer512
	case targetLatencyMS >= notemux.Buffer256.LatencyMS(s.sampleRate):
		return notemux.Buffer256
	}
	return notemux.Buffer128
}

func (s *Sizer) Metrics() notemux.BufferMetrics {
	return notemux.BufferMetrics{
		AvgProcessingTimeMS: s.durations.Average(),
		MaxProcessingTimeMS: s.durations.Max(),
		Underruns:           s.underruns,
		Overruns:            s.overruns,
		SamplesProcessed:    s.samplesProcessed,
		Uptime:              s.now().Sub(s.start),
	}
}

// ResetMetrics clears the rolling history and the glitch counters. Called on
// explicit request and on every resize transition.
func (s *Sizer) ResetMetrics() {
	s.utilization.Reset()
	s.durations.Reset()
	s.underruns = 0
	s.overruns = 0
	s.nearUnderruns = 0
}

func (s *Sizer) Transitions() []SizeTransition { return s.transitions }

func (s *Sizer) StatusSummary() string {
	mode := "adaptive"
	if !s.adaptive {
		mode = "manual"
	}
	p := s.size.Profile()
	return fmt.Sprintf("%d frames (%s, latency %.1f ms, cpu %v, stability %v), avg utilization %.0f%%, %d underruns, %d resizes",
		int(s.size), mode, s.size.LatencyMS(s.sampleRate), p.CPUUsage, p.Stability,
		s.utilization.Average()*100, s.underruns, len(s.transitions))
}
