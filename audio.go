package notemux

type (
	// AudioBuffer is a stereo buffer of interleaved sample pairs.
	AudioBuffer [][2]float32

	// AudioContext is the interface for playing audio in real time. Play
	// invokes the callback from the audio output's own goroutine (the
	// render context) until the returned CloserWaiter is closed. The
	// callback must fill the whole buffer and must never block; on internal
	// failure it fills silence instead of returning short.
	AudioContext interface {
		Play(callback func(buf AudioBuffer) error) CloserWaiter
		Close() error
	}

	CloserWaiter interface {
		Close() error
		Wait()
	}

	// BufferSize is a render window size in frames. Only the three listed
	// sizes are valid; everything else in the pipeline treats them as an
	// ordered scale from low-latency/high-CPU to high-latency/stable.
	BufferSize int

	// Tier is a coarse three-step scale used in the static size profiles.
	Tier int

	// BufferProfile is the static profile of one render window size.
	BufferProfile struct {
		LatencyMS float64 // at 44.1 kHz
		CPUUsage  Tier
		Stability Tier
	}
)

const (
	Buffer128 BufferSize = 128
	Buffer256 BufferSize = 256
	Buffer512 BufferSize = 512
)

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	}
	return "unknown"
}

var bufferProfiles = map[BufferSize]BufferProfile{
	Buffer128: {LatencyMS: 2.9, CPUUsage: TierHigh, Stability: TierLow},
	Buffer256: {LatencyMS: 5.8, CPUUsage: TierMedium, Stability: TierMedium},
	Buffer512: {LatencyMS: 11.6, CPUUsage: TierLow, Stability: TierHigh},
}

func (b BufferSize) Valid() bool {
	_, ok := bufferProfiles[b]
	return ok
}

func (b BufferSize) Profile() BufferProfile { return bufferProfiles[b] }

// LatencyMS is the duration of one window at the given sample rate.
func (b BufferSize) LatencyMS(sampleRate int) float64 {
	return float64(b) * 1000 / float64(sampleRate)
}

// Larger returns the next bigger size, ok = false when already at 512.
func (b BufferSize) Larger() (BufferSize, bool) {
	switch b {
	case Buffer128:
		return Buffer256, true
	case Buffer256:
		return Buffer512, true
	}
	return b, false
}

// Smaller returns the next smaller size, ok = false when already at 128.
func (b BufferSize) Smaller() (BufferSize, bool) {
	switch b {
	case Buffer512:
		return Buffer256, true
	case Buffer256:
		return Buffer128, true
	}
	return b, false
}
