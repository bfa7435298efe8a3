// Package osc is a minimal polyphonic sine synth implementing the
// notemux.Synth contract. The pipeline treats any synth as an opaque
// external engine; this one exists so the repository makes sound on its own.
package osc

import (
	"errors"
	"math"

	"github.com/ormeli/notemux"
)

type Synther struct{}

func (Synther) Synth(sampleRate int) (notemux.Synth, error) {
	if sampleRate <= 0 {
		return nil, errors.New("osc: sample rate should be > 0")
	}
	s := &synth{sampleRate: sampleRate}
	s.Reset()
	return s, nil
}

const numVoices = 24

type (
	synth struct {
		sampleRate int
		voices     [numVoices]voice
		gain       [16]float32 // per channel, CC 7
	}

	voice struct {
		sustain bool
		channel int
		note    byte
		phase   float64
		level   float32
		target  float32
		age     int
	}
)

func (s *synth) Render(buffer notemux.AudioBuffer) error {
	attack := float32(1 - math.Exp(-1/(0.005*float64(s.sampleRate))))
	release := float32(1 - math.Exp(-1/(0.2*float64(s.sampleRate))))
	for i := range buffer {
		var sum float32
		for v := range s.voices {
			vc := &s.voices[v]
			if vc.level == 0 && !vc.sustain {
				continue
			}
			target := float32(0)
			rate := release
			if vc.sustain {
				target = vc.target
				rate = attack
			}
			vc.level += (target - vc.level) * rate
			if !vc.sustain && vc.level < 1e-4 {
				vc.level = 0
				continue
			}
			sum += float32(math.Sin(2*math.Pi*vc.phase)) * vc.level * s.gain[vc.channel]
			vc.phase += noteFreq(vc.note) / float64(s.sampleRate)
			if vc.phase >= 1 {
				vc.phase -= 1
			}
			vc.age++
		}
		sum *= 0.25 // headroom for a couple of simultaneous voices
		buffer[i] = [2]float32{sum, sum}
	}
	return nil
}

// Trigger picks a voice for the note, preferring released voices and, among
// equals, the one longest since its last event.
func (s *synth) Trigger(channel int, note byte, velocity byte) {
	if channel < 0 || channel > 15 {
		return
	}
	age := -1
	oldestReleased := false
	chosen := 0
	for i := range s.voices {
		v := &s.voices[i]
		released := !v.sustain
		if (released && !oldestReleased) ||
			(released == oldestReleased && v.age > age) {
			chosen = i
			oldestReleased = released
			age = v.age
		}
	}
	s.voices[chosen] = voice{
		sustain: true,
		channel: channel,
		note:    note,
		target:  float32(velocity) / 127,
	}
}

func (s *synth) Release(channel int, note byte) {
	for i := range s.voices {
		v := &s.voices[i]
		if v.sustain && v.channel == channel && v.note == note {
			v.sustain = false
			v.age = 0
			return
		}
	}
}

func (s *synth) Control(channel int, control byte, value byte) {
	if channel < 0 || channel > 15 {
		return
	}
	if control == 7 { // channel volume
		s.gain[channel] = float32(value) / 127
	}
}

func (s *synth) Reset() {
	s.voices = [numVoices]voice{}
	for i := range s.gain {
		s.gain[i] = 1
	}
}

func noteFreq(note byte) float64 {
	return 440 * math.Pow(2, (float64(note)-69)/12)
}
