package engine_test

import (
	"testing"

	"github.com/ormeli/notemux"
	"github.com/ormeli/notemux/engine"
)

const sampleRate = 44100

func newTestRouter(t *testing.T, capacity int, output func([]notemux.ProcessedEvent)) *engine.Router {
	t.Helper()
	r := engine.NewRouter(sampleRate, capacity, output)
	for id, enabled := range map[notemux.SourceID]bool{
		notemux.SourceHardware:     true,
		notemux.SourceKeyboard:     true,
		notemux.SourceFilePlayback: true,
		notemux.SourceTest:         true,
	} {
		if err := r.RegisterSource(id, id.String(), enabled); err != nil {
			t.Fatalf("RegisterSource(%v): %v", id, err)
		}
	}
	return r
}

func testEvent(source notemux.SourceID, ts int64) notemux.RawEvent {
	return notemux.RawEvent{
		TimestampMS: ts,
		Source:      source,
		Kind:        notemux.NoteOn,
		Data1:       60,
		Data2:       100,
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	r := newTestRouter(t, 4, nil)
	for i := 0; i < 100; i++ {
		r.QueueEvent(testEvent(notemux.SourceTest, int64(i)))
		if r.QueueLen() > 4 {
			t.Fatalf("queue length %d exceeds capacity 4 after %d events", r.QueueLen(), i+1)
		}
	}
	if got := r.Stats().TotalEvicted; got != 96 {
		t.Errorf("expected 96 evictions, got %d", got)
	}
}

func TestEvictionPrefersLowestPriority(t *testing.T) {
	// capacity 2: A(p10,t0), B(p10,t1), C(p90,t2) evicts A; flush is [C, B]
	r := newTestRouter(t, 2, nil)
	r.QueueEvent(testEvent(notemux.SourceTest, 0))
	r.QueueEvent(testEvent(notemux.SourceTest, 1))
	r.QueueEvent(testEvent(notemux.SourceKeyboard, 2))
	batch := r.ProcessEvents()
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch))
	}
	if batch[0].Source != notemux.SourceKeyboard {
		t.Errorf("expected keyboard event first, got %v", batch[0].Source)
	}
	if batch[1].Source != notemux.SourceTest || batch[1].SampleTimestamp != 1*sampleRate/1000 {
		t.Errorf("expected the later test event to survive, got %+v", batch[1])
	}
}

func TestEvictionTieBreaksOnOldest(t *testing.T) {
	r := newTestRouter(t, 2, nil)
	r.QueueEvent(testEvent(notemux.SourceTest, 5))
	r.QueueEvent(testEvent(notemux.SourceTest, 3))
	r.QueueEvent(testEvent(notemux.SourceTest, 4))
	batch := r.ProcessEvents()
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch))
	}
	// the t=3 event was the oldest of the equal-priority pool; the base is
	// the first flushed timestamp t=4, so the survivors land at 0 and 1 ms
	wantSamples := []int64{0, 1 * sampleRate / 1000}
	for i, ev := range batch {
		if ev.SampleTimestamp != wantSamples[i] {
			t.Errorf("position %d: sample timestamp %d, want %d", i, ev.SampleTimestamp, wantSamples[i])
		}
	}
	if got := r.Stats().PerSource[notemux.SourceTest].Evicted; got != 1 {
		t.Errorf("expected 1 eviction, got %d", got)
	}
}

func TestFlushOrdering(t *testing.T) {
	r := newTestRouter(t, 16, nil)
	r.QueueEvent(testEvent(notemux.SourceFilePlayback, 10))
	r.QueueEvent(testEvent(notemux.SourceHardware, 30))
	r.QueueEvent(testEvent(notemux.SourceHardware, 20))
	r.QueueEvent(testEvent(notemux.SourceKeyboard, 5))
	batch := r.ProcessEvents()
	wantSources := []notemux.SourceID{
		notemux.SourceHardware, notemux.SourceHardware,
		notemux.SourceKeyboard, notemux.SourceFilePlayback,
	}
	if len(batch) != len(wantSources) {
		t.Fatalf("expected %d events, got %d", len(wantSources), len(batch))
	}
	for i, want := range wantSources {
		if batch[i].Source != want {
			t.Errorf("position %d: expected %v, got %v", i, want, batch[i].Source)
		}
	}
	if batch[0].SampleTimestamp > batch[1].SampleTimestamp {
		t.Error("events within a priority tier should be in timestamp order")
	}
}

func TestSampleTimestampsMonotonicPerSource(t *testing.T) {
	r := newTestRouter(t, 64, nil)
	for i := 0; i < 20; i++ {
		r.QueueEvent(testEvent(notemux.SourceHardware, int64(i*7)))
	}
	batch := r.ProcessEvents()
	var prev int64 = -1
	for _, ev := range batch {
		if ev.SampleTimestamp < prev {
			t.Fatalf("sample timestamps went backwards: %d after %d", ev.SampleTimestamp, prev)
		}
		if ev.SampleTimestamp < 0 {
			t.Fatalf("negative sample timestamp %d", ev.SampleTimestamp)
		}
		prev = ev.SampleTimestamp
	}
}

func TestEmptyFlushDoesNotInvokeCallback(t *testing.T) {
	calls := 0
	r := newTestRouter(t, 8, func([]notemux.ProcessedEvent) { calls++ })
	if batch := r.ProcessEvents(); batch != nil {
		t.Errorf("expected nil batch from empty flush, got %v", batch)
	}
	if calls != 0 {
		t.Errorf("output callback invoked %d times on empty flush", calls)
	}
}

func TestFlushInvokesCallbackExactlyOnce(t *testing.T) {
	calls := 0
	var r *engine.Router
	r = newTestRouter(t, 8, func(batch []notemux.ProcessedEvent) {
		calls++
		// re-entrant flush from inside the callback is a no-op
		if inner := r.ProcessEvents(); inner != nil {
			t.Errorf("re-entrant flush returned %v", inner)
		}
	})
	r.QueueEvent(testEvent(notemux.SourceHardware, 0))
	r.ProcessEvents()
	if calls != 1 {
		t.Errorf("output callback invoked %d times, want 1", calls)
	}
}

func TestDisabledSourceEventsIgnoredButQueuedOnesFlush(t *testing.T) {
	r := newTestRouter(t, 8, nil)
	r.QueueEvent(testEvent(notemux.SourceKeyboard, 1))
	if err := r.SetSourceEnabled(notemux.SourceKeyboard, false); err != nil {
		t.Fatal(err)
	}
	r.QueueEvent(testEvent(notemux.SourceKeyboard, 2)) // ignored
	batch := r.ProcessEvents()
	if len(batch) != 1 {
		t.Fatalf("expected exactly the pre-disable event, got %d events", len(batch))
	}
	if batch2 := r.ProcessEvents(); batch2 != nil {
		t.Errorf("disabled source leaked events into a later flush: %v", batch2)
	}
	if got := r.Stats().PerSource[notemux.SourceKeyboard].Ignored; got != 1 {
		t.Errorf("expected 1 ignored event, got %d", got)
	}
}

func TestUnregisteredSourceIgnored(t *testing.T) {
	r := engine.NewRouter(sampleRate, 8, nil)
	r.QueueEvent(testEvent(notemux.SourceHardware, 0))
	if r.QueueLen() != 0 {
		t.Error("event from unregistered source was queued")
	}
	if got := r.Stats().TotalIgnored; got != 1 {
		t.Errorf("expected 1 ignored, got %d", got)
	}
}

func TestRegisterUnknownSourceFails(t *testing.T) {
	r := engine.NewRouter(sampleRate, 8, nil)
	if err := r.RegisterSource(notemux.NumSources, "bogus", true); err == nil {
		t.Error("expected error registering unknown source id")
	}
}

func TestConversionFailureDropsSingleEvent(t *testing.T) {
	r := newTestRouter(t, 8, nil)
	bad := testEvent(notemux.SourceHardware, 0)
	bad.Channel = 20
	r.QueueEvent(bad)
	r.QueueEvent(testEvent(notemux.SourceHardware, 1))
	batch := r.ProcessEvents()
	if len(batch) != 1 {
		t.Fatalf("expected the batch to survive with 1 event, got %d", len(batch))
	}
	if got := r.Stats().TotalDropped; got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}
}

func TestClearQueueDropsWithoutEmitting(t *testing.T) {
	calls := 0
	r := newTestRouter(t, 8, func([]notemux.ProcessedEvent) { calls++ })
	r.QueueEvent(testEvent(notemux.SourceHardware, 0))
	r.ClearQueue()
	if r.QueueLen() != 0 {
		t.Error("queue not empty after ClearQueue")
	}
	r.ProcessEvents()
	if calls != 0 {
		t.Error("cleared events were emitted")
	}
}

func TestResetStats(t *testing.T) {
	r := newTestRouter(t, 8, nil)
	r.QueueEvent(testEvent(notemux.SourceHardware, 0))
	r.ProcessEvents()
	r.ResetStats()
	s := r.Stats()
	if s.TotalQueued != 0 || s.TotalFlushed != 0 || s.Flushes != 0 {
		t.Errorf("stats not reset: %+v", s)
	}
}
