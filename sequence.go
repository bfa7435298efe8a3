package notemux

import (
	"errors"
	"fmt"
	"time"
)

type (
	// Sequence is a file-based playback score for the FilePlayback source.
	// Each track is a flat row of notes on one MIDI channel; rows advance
	// on a fixed beat clock. Note values follow the tracker convention:
	// 0 releases the previous note, 1 holds it, anything above triggers a
	// new note of that pitch.
	Sequence struct {
		BPM         int
		RowsPerBeat int
		Loop        bool       `yaml:",omitempty"`
		Tracks      []SeqTrack `yaml:",flow"`
	}

	SeqTrack struct {
		Channel  uint8
		Velocity byte   `yaml:",omitempty"`
		Notes    []byte `yaml:",flow"`
	}
)

const (
	SeqNoteRelease byte = 0
	SeqNoteHold    byte = 1
)

func (s *Sequence) Validate() error {
	if s.BPM < 1 {
		return errors.New("BPM should be > 0")
	}
	if s.RowsPerBeat < 1 {
		return errors.New("RowsPerBeat should be > 0")
	}
	if len(s.Tracks) == 0 {
		return errors.New("sequence has no tracks")
	}
	for i, t := range s.Tracks {
		if t.Channel > 15 {
			return fmt.Errorf("track %d: channel %d out of range", i, t.Channel)
		}
		if len(t.Notes) != len(s.Tracks[0].Notes) {
			return errors.New("every track should have the same number of rows")
		}
	}
	return nil
}

func (s *Sequence) Rows() int {
	if len(s.Tracks) == 0 {
		return 0
	}
	return len(s.Tracks[0].Notes)
}

func (s *Sequence) RowDuration() time.Duration {
	return time.Minute / time.Duration(s.BPM*s.RowsPerBeat)
}
