// Package oto implements the notemux.AudioContext interface with the oto
// library, which pulls audio from an io.Reader on its own goroutine; that
// goroutine is the render context.
package oto

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/ormeli/notemux"
)

type OtoContext struct {
	context    *oto.Context
	sampleRate int
}

func NewContext(sampleRate int) (*OtoContext, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}
	context, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{context: context, sampleRate: sampleRate}, nil
}

func (c *OtoContext) SampleRate() int { return c.sampleRate }

// Close is a no-op: an oto context cannot be closed, only suspended.
func (c *OtoContext) Close() error { return nil }

// Play starts pulling audio through the callback until the returned
// CloserWaiter is closed.
func (c *OtoContext) Play(callback func(buf notemux.AudioBuffer) error) notemux.CloserWaiter {
	r := &callbackReader{callback: callback, done: make(chan struct{})}
	player := c.context.NewPlayer(r)
	player.Play()
	return &playerCloserWaiter{player: player, reader: r}
}

// callbackReader adapts the pull-based oto player to the buffer-fill
// callback. Read runs on the audio goroutine.
type callbackReader struct {
	callback  func(buf notemux.AudioBuffer) error
	scratch   notemux.AudioBuffer
	converted []byte
	leftover  []byte
	done      chan struct{}
	closeOnce sync.Once
}

const bytesPerFrame = 4 // 16-bit stereo

func (r *callbackReader) Read(p []byte) (int, error) {
	select {
	case <-r.done:
		clear(p) // silence while the player is being torn down
		return len(p), nil
	default:
	}
	n := 0
	if len(r.leftover) > 0 {
		n = copy(p, r.leftover)
		r.leftover = r.leftover[n:]
		p = p[n:]
	}
	frames := (len(p) + bytesPerFrame - 1) / bytesPerFrame
	if frames == 0 {
		return n, nil
	}
	if cap(r.scratch) < frames {
		r.scratch = make(notemux.AudioBuffer, frames)
	}
	r.scratch = r.scratch[:frames]
	if err := r.callback(r.scratch); err != nil {
		clear(r.scratch)
	}
	r.converted = FloatBufferTo16BitLE(r.scratch, r.converted[:0])
	c := copy(p, r.converted)
	r.leftover = r.converted[c:]
	return n + c, nil
}

func (r *callbackReader) close() {
	r.closeOnce.Do(func() { close(r.done) })
}

type playerCloserWaiter struct {
	player *oto.Player
	reader *callbackReader
}

func (p *playerCloserWaiter) Close() error {
	p.reader.close()
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// Wait blocks until the player is closed. Real-time playback has no natural
// end, so this only returns after Close.
func (p *playerCloserWaiter) Wait() {
	<-p.reader.done
}
