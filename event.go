package notemux

import (
	"errors"
	"fmt"
)

type (
	// SourceID identifies where a performance event came from. The set of
	// sources is fixed; each source has a static priority that the router
	// uses for ordering and for choosing what to evict under pressure.
	SourceID int

	// RawEvent is a performance event as emitted by a source, timestamped
	// with wall-clock milliseconds. Raw events are immutable once queued.
	// The payload follows the usual MIDI byte layout: Kind is the status
	// byte sans channel, Data1/Data2 are the two data bytes (note and
	// velocity for note messages, controller and value for control
	// changes).
	RawEvent struct {
		TimestampMS int64
		Source      SourceID
		Channel     uint8 // 0-15
		Kind        byte
		Data1       byte
		Data2       byte
	}

	// ProcessedEvent is a RawEvent whose wall-clock time has been converted
	// to an absolute sample index, so the render context can place it
	// sample-accurately.
	ProcessedEvent struct {
		SampleTimestamp int64
		Source          SourceID
		Channel         uint8
		Kind            byte
		Data1           byte
		Data2           byte
	}
)

const (
	SourceHardware SourceID = iota
	SourceKeyboard
	SourceFilePlayback
	SourceTest
	NumSources
)

// Event kinds, i.e. MIDI status bytes with a zero channel nibble.
const (
	NoteOff       byte = 0x80
	NoteOn        byte = 0x90
	ControlChange byte = 0xB0
)

// sourcePriorities is total over all SourceIDs and never changes at runtime.
var sourcePriorities = [NumSources]int{
	SourceHardware:     100,
	SourceKeyboard:     90,
	SourceFilePlayback: 80,
	SourceTest:         10,
}

var sourceNames = [NumSources]string{
	SourceHardware:     "hardware",
	SourceKeyboard:     "keyboard",
	SourceFilePlayback: "fileplayback",
	SourceTest:         "test",
}

func (s SourceID) Valid() bool { return s >= 0 && s < NumSources }

func (s SourceID) Priority() int {
	if !s.Valid() {
		return 0
	}
	return sourcePriorities[s]
}

func (s SourceID) String() string {
	if !s.Valid() {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

var (
	ErrUnknownSource = errors.New("unknown source")
	errBadChannel    = errors.New("channel out of range")
	errBadData       = errors.New("data byte out of range")
)

// Processed converts the event to sample time. baseMS must come from a
// monotonic reference; timestamps before it clamp to sample zero. Events with
// an out-of-range channel or data byte fail conversion and are meant to be
// dropped individually by the caller.
func (e RawEvent) Processed(baseMS int64, sampleRate int) (ProcessedEvent, error) {
	if e.Channel > 15 {
		return ProcessedEvent{}, fmt.Errorf("converting event from %v: %w", e.Source, errBadChannel)
	}
	if e.Data1 > 127 || e.Data2 > 127 {
		return ProcessedEvent{}, fmt.Errorf("converting event from %v: %w", e.Source, errBadData)
	}
	t := e.TimestampMS - baseMS
	if t < 0 {
		t = 0
	}
	return ProcessedEvent{
		SampleTimestamp: t * int64(sampleRate) / 1000,
		Source:          e.Source,
		Channel:         e.Channel,
		Kind:            e.Kind,
		Data1:           e.Data1,
		Data2:           e.Data2,
	}, nil
}
