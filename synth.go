package notemux

import (
	"errors"
	"time"
)

type (
	// Synth is the external synthesis engine. The pipeline treats it as
	// opaque: it consumes note and controller events and fills audio
	// buffers. A Synth is owned by the render context and all its methods
	// are called from there only.
	Synth interface {
		// Render fills the whole buffer. If it returns an error, the
		// caller substitutes silence of the same length; the synth should
		// be assumed broken for that callback but may recover later.
		Render(buffer AudioBuffer) error
		Trigger(channel int, note byte, velocity byte)
		Release(channel int, note byte)
		Control(channel int, control byte, value byte)
		Reset()
	}

	// Synther constructs Synths. A failure here at session start is
	// unrecoverable for the session.
	Synther interface {
		Synth(sampleRate int) (Synth, error)
	}

	// BufferMetrics is the per-session render telemetry, owned and mutated
	// by the buffer size controller only; reset on explicit request or on
	// a resize transition (the totals survive, the windows do not).
	BufferMetrics struct {
		AvgProcessingTimeMS float64
		MaxProcessingTimeMS float64
		Underruns           int
		Overruns            int
		SamplesProcessed    int64
		Uptime              time.Duration
	}
)

// Render fills the buffer with the synth, substituting silence on failure.
// Returns the error so the caller can report it; the buffer is always fully
// written either way.
func Render(synth Synth, buffer AudioBuffer) error {
	if synth == nil {
		clear(buffer)
		return errors.New("no synth")
	}
	if err := synth.Render(buffer); err != nil {
		clear(buffer)
		return err
	}
	return nil
}
