package engine

import (
	"math"

	"github.com/viterin/vek/vek32"
)

type (
	// Meter analyzes rendered audio on its own goroutine and reports peak
	// and RMS levels per channel to the control context. It receives pooled
	// buffer copies from the render context through the broker and returns
	// them to the pool when done, so the render path never allocates for
	// it and never waits on it.
	Meter struct {
		broker *Broker
		state  meterState
	}

	meterState struct {
		tmp      []float32
		tmp2     []float32
		maxPeak  [2]float32
	}
)

func NewMeter(b *Broker) *Meter {
	return &Meter{broker: b}
}

// Run processes meter messages until CloseMeter is signalled, then closes
// FinishedMeter.
func (m *Meter) Run() {
	defer close(m.broker.FinishedMeter)
	for {
		select {
		case <-m.broker.CloseMeter:
			return
		case msg := <-m.broker.ToMeter:
			if msg.Reset {
				m.state.maxPeak = [2]float32{}
			}
			if msg.Buffer == nil {
				continue
			}
			result := m.state.update(*msg.Buffer)
			m.broker.PutAudioBuffer(msg.Buffer)
			TrySend(m.broker.ToModel, MsgToModel{HasLevels: true, Levels: result})
		}
	}
}

func (s *meterState) update(buf [][2]float32) (ret LevelResult) {
	if len(buf) == 0 {
		return
	}
	setSliceLength(&s.tmp, len(buf))
	setSliceLength(&s.tmp2, len(buf))
	for chn := 0; chn < 2; chn++ {
		// deinterleave, then let vek do the heavy lifting
		for i := range buf {
			s.tmp[i] = buf[i][chn]
		}
		vek32.Abs_Into(s.tmp2, s.tmp)
		peak := vek32.Max(s.tmp2)
		if peak > s.maxPeak[chn] {
			s.maxPeak[chn] = peak
		}
		squares := vek32.Mul_Into(s.tmp2, s.tmp, s.tmp)
		rms := float32(math.Sqrt(float64(vek32.Mean(squares))))
		ret.Peak[chn] = amplitudeToDecibel(peak)
		ret.RMS[chn] = amplitudeToDecibel(rms)
	}
	return
}

func amplitudeToDecibel(a float32) Decibel {
	return Decibel(20 * math.Log10(float64(a)))
}

func setSliceLength[T any](slice *[]T, length int) {
	if len(*slice) < length {
		*slice = append(*slice, make([]T, length-len(*slice))...)
	}
	*slice = (*slice)[:length]
}
