package engine

import (
	"testing"
	"time"

	"github.com/ormeli/notemux"
)

const testSampleRate = 44100

// fakeClock drives the sizer's cooldown and interval checks in tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time            { return c.t }
func (c *fakeClock) Advance(d time.Duration)   { c.t = c.t.Add(d) }
func newFakeSizer(initial notemux.BufferSize) (*Sizer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := NewSizer(testSampleRate, initial)
	s.now = clock.Now
	return s, clock
}

// utilizationDuration returns a processing time that yields the given
// utilization for one callback of the given frame count.
func utilizationDuration(frames int, utilization float64) float64 {
	return utilization * float64(frames) * 1000 / testSampleRate
}

func TestSizerEscalatesOnNearUnderrun(t *testing.T) {
	s, clock := newFakeSizer(notemux.Buffer256)
	size, resized := s.RecordProcessingTime(utilizationDuration(256, 0.9), 256)
	if !resized || size != notemux.Buffer512 {
		t.Fatalf("expected immediate escalation to 512, got size %d resized %v", int(size), resized)
	}
	// further overload within the cooldown must not thrash
	for i := 0; i < 24; i++ {
		clock.Advance(6 * time.Millisecond)
		if _, resized := s.RecordProcessingTime(utilizationDuration(512, 0.9), 512); resized {
			t.Fatalf("resize %d inside the emergency cooldown", i)
		}
	}
	if s.Size() != notemux.Buffer512 {
		t.Errorf("expected final size 512, got %d", int(s.Size()))
	}
	if got := len(s.Transitions()); got != 1 {
		t.Errorf("expected exactly 1 transition, got %d", got)
	}
}

func TestSizerUnderrunEscalationRespectsCooldown(t *testing.T) {
	s, clock := newFakeSizer(notemux.Buffer128)
	if size, resized := s.RecordUnderrun(); !resized || size != notemux.Buffer256 {
		t.Fatalf("expected 128 -> 256 on underrun, got %d resized %v", int(size), resized)
	}
	if _, resized := s.RecordUnderrun(); resized {
		t.Fatal("second underrun escalated inside the cooldown")
	}
	clock.Advance(emergencyCooldown + time.Millisecond)
	if size, resized := s.RecordUnderrun(); !resized || size != notemux.Buffer512 {
		t.Fatalf("expected 256 -> 512 after cooldown, got %d resized %v", int(size), resized)
	}
	// no larger size left
	clock.Advance(emergencyCooldown + time.Millisecond)
	if _, resized := s.RecordUnderrun(); resized {
		t.Error("escalated beyond the largest size")
	}
}

func TestSizerStepsDownUnderAmpleHeadroom(t *testing.T) {
	s, clock := newFakeSizer(notemux.Buffer512)
	var transitions int
	for i := 0; i < 25; i++ {
		clock.Advance(12 * time.Millisecond)
		if _, resized := s.RecordProcessingTime(utilizationDuration(512, 0.3), 512); resized {
			transitions++
		}
	}
	if s.Size() != notemux.Buffer256 {
		t.Errorf("expected step down to 256, got %d", int(s.Size()))
	}
	if transitions != 1 {
		t.Errorf("expected a single step down, got %d transitions", transitions)
	}
}

func TestSizerHoldsInsideHysteresisBand(t *testing.T) {
	s, clock := newFakeSizer(notemux.Buffer256)
	for i := 0; i < 40; i++ {
		clock.Advance(6 * time.Millisecond)
		if _, resized := s.RecordProcessingTime(utilizationDuration(256, 0.6), 256); resized {
			t.Fatalf("resized at utilization 0.6 on sample %d", i)
		}
	}
	if s.Size() != notemux.Buffer256 {
		t.Errorf("size drifted to %d", int(s.Size()))
	}
}

func TestSizerPeriodicStepUpNeedsEnoughSamples(t *testing.T) {
	s, clock := newFakeSizer(notemux.Buffer128)
	// 0.75 is above the step-up threshold but below the emergency one
	for i := 0; i < minAdaptSamples-1; i++ {
		clock.Advance(3 * time.Millisecond)
		if _, resized := s.RecordProcessingTime(utilizationDuration(128, 0.75), 128); resized {
			t.Fatalf("resized with only %d samples", i+1)
		}
	}
	clock.Advance(3 * time.Millisecond)
	if size, resized := s.RecordProcessingTime(utilizationDuration(128, 0.75), 128); !resized || size != notemux.Buffer256 {
		t.Fatalf("expected step up to 256 at sample %d, got %d resized %v", minAdaptSamples, int(size), resized)
	}
}

func TestManualOverrideDisablesAdaptive(t *testing.T) {
	s, clock := newFakeSizer(notemux.Buffer256)
	changed, err := s.SetBufferSize(notemux.Buffer128)
	if err != nil || !changed {
		t.Fatalf("SetBufferSize: changed %v, err %v", changed, err)
	}
	if s.Adaptive() {
		t.Fatal("manual override left adaptive mode on")
	}
	for i := 0; i < 30; i++ {
		clock.Advance(3 * time.Second)
		if _, resized := s.RecordProcessingTime(utilizationDuration(128, 0.95), 128); resized {
			t.Fatal("resized in manual mode")
		}
		if _, resized := s.RecordUnderrun(); resized {
			t.Fatal("underrun escalated in manual mode")
		}
	}
	s.SetAdaptiveMode(true)
	clock.Advance(emergencyCooldown + time.Millisecond)
	if size, resized := s.RecordProcessingTime(utilizationDuration(128, 0.95), 128); !resized || size != notemux.Buffer256 {
		t.Errorf("expected escalation after re-enabling adaptive mode, got %d resized %v", int(size), resized)
	}
}

func TestSetBufferSizeRejectsInvalid(t *testing.T) {
	s, _ := newFakeSizer(notemux.Buffer256)
	if _, err := s.SetBufferSize(notemux.BufferSize(300)); err == nil {
		t.Error("expected error for invalid size")
	}
	if changed, err := s.SetBufferSize(notemux.Buffer256); err != nil || changed {
		t.Errorf("same-size override: changed %v, err %v", changed, err)
	}
}

func TestResizeClearsMetricsAndCounters(t *testing.T) {
	s, _ := newFakeSizer(notemux.Buffer256)
	s.RecordProcessingTime(3.0, 256)
	s.RecordOverrun()
	if s.RecordUnderrun(); s.Size() != notemux.Buffer512 {
		t.Fatalf("expected escalation, size is %d", int(s.Size()))
	}
	m := s.Metrics()
	if m.Underruns != 0 || m.Overruns != 0 || m.AvgProcessingTimeMS != 0 || m.MaxProcessingTimeMS != 0 {
		t.Errorf("metrics not cleared on resize: %+v", m)
	}
}

func TestRecommendedBufferSize(t *testing.T) {
	s, _ := newFakeSizer(notemux.Buffer256)
	for _, tc := range []struct {
		targetMS float64
		want     notemux.BufferSize
	}{
		{3.0, notemux.Buffer128},
		{6.0, notemux.Buffer256},
		{12.0, notemux.Buffer512},
		{0.5, notemux.Buffer128},
		{100, notemux.Buffer512},
	} {
		if got := s.RecommendedBufferSize(tc.targetMS); got != tc.want {
			t.Errorf("RecommendedBufferSize(%v) = %d, want %d", tc.targetMS, int(got), int(tc.want))
		}
	}
}
