package oto

import (
	"math"

	"github.com/ormeli/notemux"
)

// FloatBufferTo16BitLE converts a stereo float buffer to 16-bit little-endian
// interleaved PCM, appending to dst. Values outside [-1, 1] clip.
func FloatBufferTo16BitLE(buf notemux.AudioBuffer, dst []byte) []byte {
	for _, frame := range buf {
		for _, v := range frame {
			var uv int16
			if v < -1.0 {
				uv = -math.MaxInt16
			} else if v > 1.0 {
				uv = math.MaxInt16
			} else {
				uv = int16(v * math.MaxInt16)
			}
			dst = append(dst, byte(uv), byte(uv>>8))
		}
	}
	return dst
}
