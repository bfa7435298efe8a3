package engine

import (
	"sync"
	"time"

	"github.com/ormeli/notemux"
)

type (
	// Broker is the centralized message hub of the pipeline. It is the only
	// sanctioned way for the control context, the render context, the
	// meter and the event sources to talk to each other: one channel per
	// recipient, and every send out of the render context is non-blocking.
	// It also carries a sync.Pool of *notemux.AudioBuffer so the render
	// context can hand buffer copies to the meter without allocating on
	// every callback.
	//
	// For closing goroutines there are two channels per goroutine: CloseXXX
	// has capacity 1 so requesting a closure never blocks (a full channel
	// means someone already asked), and FinishedXXX is closed by the
	// goroutine when it has cleaned up. Waits on FinishedXXX should be
	// combined with a timeout via TimeoutReceive.
	Broker struct {
		ToEngine chan EngineMsg           // control -> render
		ToModel  chan MsgToModel          // render -> control
		ToRouter chan notemux.RawEvent    // sources -> control
		ToMeter  chan MsgToMeter          // render -> meter

		CloseDispatch chan struct{}
		CloseMeter    chan struct{}
		CloseSequencer chan struct{}

		FinishedDispatch chan struct{}
		FinishedMeter    chan struct{}
		FinishedSequencer chan struct{}

		bufferPool sync.Pool
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToEngine:          make(chan EngineMsg, 1024),
		ToModel:           make(chan MsgToModel, 1024),
		ToRouter:          make(chan notemux.RawEvent, 1024),
		ToMeter:           make(chan MsgToMeter, 1024),
		CloseDispatch:     make(chan struct{}, 1),
		CloseMeter:        make(chan struct{}, 1),
		CloseSequencer:    make(chan struct{}, 1),
		FinishedDispatch:  make(chan struct{}),
		FinishedMeter:     make(chan struct{}),
		FinishedSequencer: make(chan struct{}),
		bufferPool:        sync.Pool{New: func() any { return &notemux.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns an empty audio buffer from the pool. Return it with
// PutAudioBuffer when done.
func (b *Broker) GetAudioBuffer() *notemux.AudioBuffer {
	return b.bufferPool.Get().(*notemux.AudioBuffer)
}

// PutAudioBuffer returns a buffer to the pool, resetting its length but
// keeping its capacity.
func (b *Broker) PutAudioBuffer(buf *notemux.AudioBuffer) {
	if len(*buf) > 0 {
		*buf = (*buf)[:0]
	}
	b.bufferPool.Put(buf)
}

// TrySend sends a value to a channel if it is not full. It is guaranteed to
// be non-blocking. Returns true if the value was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received or the timeout elapses. ok
// is false on timeout or when the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
