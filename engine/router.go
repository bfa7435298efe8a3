package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/ormeli/notemux"
)

type (
	// Router collects raw events from all registered sources into a bounded
	// queue and, on each flush, produces one strictly ordered,
	// sample-timestamped batch. Under overload it evicts lowest-priority
	// events so hardware input is never starved by file playback or test
	// harnesses. The router lives on the control context; nothing here is
	// safe for concurrent use.
	Router struct {
		sampleRate   int
		maxQueueSize int
		queue        []notemux.RawEvent
		sources      [notemux.NumSources]sourceReg
		output       func([]notemux.ProcessedEvent)
		flushing     bool

		baseMS  int64
		baseSet bool

		stats          RouterStats
		flushLatencies *RollingWindow
	}

	sourceReg struct {
		name       string
		registered bool
		enabled    bool
	}

	SourceStats struct {
		Queued  int
		Ignored int
		Evicted int
		Dropped int
	}

	RouterStats struct {
		TotalQueued       int
		TotalIgnored      int
		TotalEvicted      int
		TotalDropped      int // conversion failures
		TotalFlushed      int
		Flushes           int
		QueueLen          int
		AvgFlushLatencyMS float64
		PerSource         [notemux.NumSources]SourceStats
	}
)

const (
	DefaultMaxQueueSize = 256
	flushLatencyWindow  = 100
)

// NewRouter creates a router flushing to the given output callback. The
// callback receives each batch exactly once; it may be nil, in which case
// flushed batches are only returned from ProcessEvents.
func NewRouter(sampleRate, maxQueueSize int, output func([]notemux.ProcessedEvent)) *Router {
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	}
	return &Router{
		sampleRate:     sampleRate,
		maxQueueSize:   maxQueueSize,
		queue:          make([]notemux.RawEvent, 0, maxQueueSize),
		output:         output,
		flushLatencies: NewRollingWindow(flushLatencyWindow),
	}
}

// RegisterSource adds or overwrites a source registration.
func (r *Router) RegisterSource(id notemux.SourceID, name string, enabled bool) error {
	if !id.Valid() {
		return fmt.Errorf("registering %q: %w", name, notemux.ErrUnknownSource)
	}
	r.sources[id] = sourceReg{name: name, registered: true, enabled: enabled}
	return nil
}

func (r *Router) UnregisterSource(id notemux.SourceID) {
	if id.Valid() {
		r.sources[id] = sourceReg{}
	}
}

// SetSourceEnabled takes effect for future QueueEvent calls only; events
// already queued from the source still flush once.
func (r *Router) SetSourceEnabled(id notemux.SourceID, enabled bool) error {
	if !id.Valid() || !r.sources[id].registered {
		return fmt.Errorf("enabling source %v: %w", id, notemux.ErrUnknownSource)
	}
	r.sources[id].enabled = enabled
	return nil
}

// QueueEvent appends an event to the queue. Events from unregistered or
// disabled sources are silently ignored (counted, not an error). When the
// queue is full, exactly one lowest-priority event is evicted first, so the
// queue length never exceeds the configured capacity.
func (r *Router) QueueEvent(ev notemux.RawEvent) {
	if !ev.Source.Valid() || !r.sources[ev.Source].registered || !r.sources[ev.Source].enabled {
		r.stats.TotalIgnored++
		if ev.Source.Valid() {
			r.stats.PerSource[ev.Source].Ignored++
		}
		return
	}
	if len(r.queue) >= r.maxQueueSize {
		r.evictLowest()
	}
	r.queue = append(r.queue, ev)
	r.stats.TotalQueued++
	r.stats.PerSource[ev.Source].Queued++
}

// evictLowest removes the single queued event with the lowest source
// priority. Ties break on the oldest timestamp; the queue is FIFO-ordered,
// so the first match of a linear scan is that oldest event, keeping the rule
// deterministic.
func (r *Router) evictLowest() {
	victim := 0
	for i := 1; i < len(r.queue); i++ {
		v, c := r.queue[victim], r.queue[i]
		if c.Source.Priority() < v.Source.Priority() ||
			(c.Source.Priority() == v.Source.Priority() && c.TimestampMS < v.TimestampMS) {
			victim = i
		}
	}
	src := r.queue[victim].Source
	r.queue = append(r.queue[:victim], r.queue[victim+1:]...)
	r.stats.TotalEvicted++
	r.stats.PerSource[src].Evicted++
}

// ProcessEvents flushes the queue: stable-sorts it by (priority descending,
// timestamp ascending), converts every event to sample time, clears the
// queue, and hands the batch to the output callback exactly once. An empty
// queue, or a re-entrant call from inside the output callback, is a no-op
// returning nil. A single event failing conversion is dropped and counted;
// the batch always survives.
func (r *Router) ProcessEvents() []notemux.ProcessedEvent {
	if r.flushing || len(r.queue) == 0 {
		return nil
	}
	r.flushing = true
	defer func() { r.flushing = false }()

	start := time.Now()
	sort.SliceStable(r.queue, func(i, j int) bool {
		pi, pj := r.queue[i].Source.Priority(), r.queue[j].Source.Priority()
		if pi != pj {
			return pi > pj
		}
		return r.queue[i].TimestampMS < r.queue[j].TimestampMS
	})
	batch := make([]notemux.ProcessedEvent, 0, len(r.queue))
	for _, ev := range r.queue {
		if !r.baseSet {
			r.baseMS = ev.TimestampMS
			r.baseSet = true
		}
		p, err := ev.Processed(r.baseMS, r.sampleRate)
		if err != nil {
			r.stats.TotalDropped++
			r.stats.PerSource[ev.Source].Dropped++
			continue
		}
		batch = append(batch, p)
	}
	r.queue = r.queue[:0]
	r.flushLatencies.Add(float64(time.Since(start).Nanoseconds()) / 1e6)
	r.stats.TotalFlushed += len(batch)
	r.stats.Flushes++

	if r.output != nil {
		r.output(batch)
	}
	return batch
}

// ClearQueue drops all pending events without emitting them.
func (r *Router) ClearQueue() {
	r.queue = r.queue[:0]
}

func (r *Router) QueueLen() int { return len(r.queue) }

func (r *Router) Stats() RouterStats {
	s := r.stats
	s.QueueLen = len(r.queue)
	s.AvgFlushLatencyMS = r.flushLatencies.Average()
	return s
}

func (r *Router) ResetStats() {
	r.stats = RouterStats{}
	r.flushLatencies.Reset()
}
