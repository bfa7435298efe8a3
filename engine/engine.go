package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/ormeli/notemux"
)

// Engine is the render context: it consumes ordered event batches and
// control messages from the broker and fills audio buffers with the synth,
// one window at a time. Process is invoked from the audio output's goroutine
// on a hard deadline, so the engine never blocks: incoming messages are
// drained non-blocking at the top of every callback and every outgoing send
// is a TrySend. Everything else in the pipeline talks to it through the
// broker only.
type Engine struct {
	broker     *Broker
	synth      notemux.Synth
	sampleRate int
	window     notemux.BufferSize

	pending  []notemux.ProcessedEvent // sorted by SampleTimestamp
	playhead int64                    // samples rendered since start

	// anchor maps the batch timestamps (whose zero is the router's base
	// time) onto the playhead clock. Set from the first event seen, then
	// nudged whenever events arrive late so the engine does not stay
	// permanently behind a drifting source clock.
	anchor    int64
	anchorSet bool

	samplesSinceTick int
	underruns        int
	start            time.Time
}

// NewEngine constructs the synth and reports the handshake status messages.
// A synther failure here is terminal for the session: a StatusError is sent
// and the error returned.
func NewEngine(broker *Broker, synther notemux.Synther, sampleRate int, window notemux.BufferSize) (*Engine, error) {
	TrySend(broker.ToModel, MsgToModel{Data: StatusInitializing{}})
	synth, err := synther.Synth(sampleRate)
	if err != nil {
		TrySend(broker.ToModel, MsgToModel{Data: StatusError{Message: fmt.Sprintf("synther.Synth: %v", err)}})
		return nil, fmt.Errorf("creating synth: %w", err)
	}
	if !window.Valid() {
		window = notemux.Buffer256
	}
	e := &Engine{
		broker:     broker,
		synth:      synth,
		sampleRate: sampleRate,
		window:     window,
		start:      time.Now(),
	}
	TrySend(broker.ToModel, MsgToModel{Data: StatusReady{SampleRate: sampleRate, BufferSize: window}})
	return e, nil
}

// Process fills the whole buffer, rendering in chunks of the current window
// size and applying pending events sample-accurately at their timestamps.
// Each chunk is timed individually and the timing reported upward before the
// chunk's samples leave the engine. Process never returns an error upward:
// a synth failure becomes silence, an underrun count and a StatusError.
func (e *Engine) Process(buffer notemux.AudioBuffer) error {
	e.processMessages()
	for len(buffer) > 0 {
		chunk := buffer
		if len(chunk) > int(e.window) {
			chunk = chunk[:int(e.window)]
		}
		// events due strictly inside this chunk split it, so triggers land
		// on their exact sample
		if next, ok := e.nextEventOffset(); ok && next < int64(len(chunk)) {
			if next > 0 {
				chunk = chunk[:next]
			} else {
				e.applyDueEvents()
				continue
			}
		}
		e.renderChunk(chunk)
		buffer = buffer[len(chunk):]
	}
	return nil
}

func (e *Engine) renderChunk(chunk notemux.AudioBuffer) {
	startTime := time.Now()
	err := notemux.Render(e.synth, chunk)
	durationMS := float64(time.Since(startTime).Nanoseconds()) / 1e6
	if err != nil {
		e.underruns++
		TrySend(e.broker.ToModel, MsgToModel{Data: StatusError{Message: fmt.Sprintf("synth.Render: %v", err)}})
	}
	e.playhead += int64(len(chunk))
	e.samplesSinceTick += len(chunk)
	tick := false
	if e.samplesSinceTick >= e.sampleRate { // roughly once per rendered second
		e.samplesSinceTick -= e.sampleRate
		tick = true
	}
	TrySend(e.broker.ToModel, MsgToModel{
		HasTiming:   true,
		Timing:      TimingReport{DurationMS: durationMS, Frames: len(chunk), Underrun: err != nil},
		MetricsTick: tick,
	})
	e.forwardToMeter(chunk)
}

// forwardToMeter hands a pooled copy of the rendered chunk to the meter. If
// the meter is behind, the copy is returned to the pool and the chunk simply
// goes unanalyzed.
func (e *Engine) forwardToMeter(chunk notemux.AudioBuffer) {
	bufPtr := e.broker.GetAudioBuffer()
	*bufPtr = append(*bufPtr, chunk...)
	if !TrySend(e.broker.ToMeter, MsgToMeter{Buffer: bufPtr}) {
		e.broker.PutAudioBuffer(bufPtr)
	}
}

// nextEventOffset returns the offset in samples from the playhead to the
// earliest pending event.
func (e *Engine) nextEventOffset() (int64, bool) {
	if len(e.pending) == 0 {
		return 0, false
	}
	d := e.pending[0].SampleTimestamp - e.playhead
	if d < 0 {
		d = 0
	}
	return d, true
}

// applyDueEvents fires every pending event whose timestamp is at or before
// the playhead.
func (e *Engine) applyDueEvents() {
	for len(e.pending) > 0 && e.pending[0].SampleTimestamp <= e.playhead {
		e.applyEvent(e.pending[0])
		e.pending = e.pending[1:]
	}
}

func (e *Engine) applyEvent(ev notemux.ProcessedEvent) {
	if e.synth == nil {
		return
	}
	switch ev.Kind {
	case notemux.NoteOn:
		if ev.Data2 == 0 { // note on with zero velocity releases
			e.synth.Release(int(ev.Channel), ev.Data1)
			return
		}
		e.synth.Trigger(int(ev.Channel), ev.Data1, ev.Data2)
	case notemux.NoteOff:
		e.synth.Release(int(ev.Channel), ev.Data1)
	case notemux.ControlChange:
		e.synth.Control(int(ev.Channel), ev.Data1, ev.Data2)
	default:
		// unknown kinds are dropped silently; the router already counted
		// what it could not convert
	}
}

// processMessages drains the control channel without blocking.
func (e *Engine) processMessages() {
loop:
	for {
		select {
		case msg := <-e.broker.ToEngine:
			switch m := msg.(type) {
			case EventBatchMsg:
				e.enqueue(m.Events)
			case ResetMsg:
				e.reset()
			case SetBufferSizeMsg:
				if m.Size.Valid() && m.Size != e.window {
					e.window = m.Size
					TrySend(e.broker.ToModel, MsgToModel{Data: StatusBufferSizeChanged{
						Size:      m.Size,
						LatencyMS: m.Size.LatencyMS(e.sampleRate),
					}})
				}
			case SetAdaptiveMsg:
				TrySend(e.broker.ToModel, MsgToModel{Data: StatusAdaptiveModeChanged{Enabled: m.Enabled}})
			case RequestMetricsMsg:
				TrySend(e.broker.ToModel, MsgToModel{MetricsTick: true})
			case RequestStatsMsg:
				TrySend(e.broker.ToModel, MsgToModel{Data: EngineStatsMsg{
					Playhead:      e.playhead,
					PendingEvents: len(e.pending),
					Window:        e.window,
				}})
			}
		default:
			break loop
		}
	}
}

// enqueue merges a flushed batch into the pending list in sample-time order.
// Batches arrive (priority, time)-ordered; the render side replays them by
// time alone, the priority ordering already decided who survived and who
// comes first within a sample.
func (e *Engine) enqueue(events []notemux.ProcessedEvent) {
	for _, ev := range events {
		if !e.anchorSet {
			e.anchor = ev.SampleTimestamp - e.playhead
			e.anchorSet = true
		}
		ts := ev.SampleTimestamp - e.anchor
		if ts < e.playhead {
			// the event was consumed too late; fire it immediately and
			// pull the anchor a fifth of the way toward the source clock
			e.anchor -= (e.playhead - ts) / 5
			ts = e.playhead
		}
		ev.SampleTimestamp = ts
		e.pending = append(e.pending, ev)
	}
	slices.SortStableFunc(e.pending, func(a, b notemux.ProcessedEvent) int {
		switch {
		case a.SampleTimestamp < b.SampleTimestamp:
			return -1
		case a.SampleTimestamp > b.SampleTimestamp:
			return 1
		}
		return 0
	})
}

// reset zeroes the render-side counters and the synth without leaving the
// ready state. The playhead is the engine's clock and keeps running, so
// event timestamps stay aligned across a reset.
func (e *Engine) reset() {
	e.pending = e.pending[:0]
	e.samplesSinceTick = 0
	e.underruns = 0
	if e.synth != nil {
		e.synth.Reset()
	}
	TrySend(e.broker.ToMeter, MsgToMeter{Reset: true})
	TrySend(e.broker.ToModel, MsgToModel{Data: StatusResetComplete{}})
}

func (e *Engine) Window() notemux.BufferSize { return e.window }
