package engine

import (
	"github.com/ormeli/notemux"
)

// Messages into the render context form a sealed sum type so the engine's
// dispatch switch covers every kind there is; no untyped payloads cross the
// boundary.
type (
	EngineMsg interface{ engineMsg() }

	// EventBatchMsg carries one flushed, ordered batch of events.
	// Fire-and-forget: a full channel drops the batch rather than block the
	// control context, and the engine never acknowledges it.
	EventBatchMsg struct{ Events []notemux.ProcessedEvent }

	// ResetMsg zeroes the render-side counters and resets the synth without
	// leaving the ready state.
	ResetMsg struct{}

	SetBufferSizeMsg struct{ Size notemux.BufferSize }

	SetAdaptiveMsg struct{ Enabled bool }

	RequestMetricsMsg struct{}

	RequestStatsMsg struct{}
)

func (EventBatchMsg) engineMsg()     {}
func (ResetMsg) engineMsg()          {}
func (SetBufferSizeMsg) engineMsg()  {}
func (SetAdaptiveMsg) engineMsg()    {}
func (RequestMetricsMsg) engineMsg() {}
func (RequestStatsMsg) engineMsg()   {}

type (
	// MsgToModel is a message from the render context (or the meter) to the
	// control context. The per-callback timing report is by far the most
	// frequent message, so it travels unboxed; the infrequent ones are
	// boxed into Data, which holds either a StatusMsg or an
	// EngineStatsMsg. Boxing pointer-sized values into any is cheap.
	MsgToModel struct {
		HasTiming bool
		Timing    TimingReport

		HasLevels bool
		Levels    LevelResult

		// MetricsTick is set roughly once per rendered second, or after an
		// explicit RequestMetricsMsg, and asks the control context to emit
		// a metrics snapshot.
		MetricsTick bool

		Data StatusMsg
	}

	// TimingReport is the render context timing itself: how long one
	// callback took for how many frames. Underrun marks a callback whose
	// synth failed and was replaced by silence.
	TimingReport struct {
		DurationMS float64
		Frames     int
		Underrun   bool
	}

	// StatusMsg is the sealed set of render->control status messages.
	StatusMsg interface{ statusMsg() }

	StatusInitializing struct{}

	StatusReady struct {
		SampleRate int
		BufferSize notemux.BufferSize
	}

	StatusResetComplete struct{}

	StatusBufferSizeChanged struct {
		Size      notemux.BufferSize
		LatencyMS float64
	}

	StatusAdaptiveModeChanged struct{ Enabled bool }

	StatusError struct{ Message string }

	// EngineStatsMsg answers a RequestStatsMsg with the render side's own
	// counters.
	EngineStatsMsg struct {
		Playhead      int64
		PendingEvents int
		Window        notemux.BufferSize
	}
)

func (StatusInitializing) statusMsg()        {}
func (StatusReady) statusMsg()               {}
func (StatusResetComplete) statusMsg()       {}
func (StatusBufferSizeChanged) statusMsg()   {}
func (StatusAdaptiveModeChanged) statusMsg() {}
func (StatusError) statusMsg()               {}
func (EngineStatsMsg) statusMsg()            {}

type (
	// MsgToMeter carries pooled buffer copies for level analysis, plus a
	// reset flag when playback restarts.
	MsgToMeter struct {
		Reset  bool
		Buffer *notemux.AudioBuffer
	}

	Decibel float32

	// LevelResult is the meter output: peak and RMS per channel.
	LevelResult struct {
		Peak [2]Decibel
		RMS  [2]Decibel
	}
)
