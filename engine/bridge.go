package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ormeli/notemux"
)

type (
	// State is the bridge's connection state. Reset is not a state: it is a
	// sub-transition inside StateReady that zeroes render-side counters.
	State int

	// Bridge is the control-context end of the control/render boundary. It
	// owns the connection state machine, performs the handshake, exposes
	// the send operations (which fail with ErrNotReady outside StateReady,
	// no partial or queued delivery), and runs the dispatch loop that
	// drains source events into the router, flushes the router into the
	// render context, and feeds timing reports into the sizer.
	Bridge struct {
		broker *Broker
		router *Router
		sizer  *Sizer
		engine *Engine

		mu    sync.Mutex
		state State

		flushInterval time.Duration

		// callbacks for the UI collaborators; invoked on the dispatch
		// goroutine, never from the render context
		OnBatch   func([]notemux.ProcessedEvent)
		OnStatus  func(StatusMsg)
		OnMetrics func(notemux.BufferMetrics, notemux.BufferProfile)
		OnLevels  func(LevelResult)
	}
)

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

var ErrNotReady = errors.New("bridge: not ready")

const (
	// the handshake has to be bounded; a render context that cannot get
	// ready in this long is not going to
	handshakeTimeout = 3 * time.Second

	defaultFlushInterval = 8 * time.Millisecond
)

func NewBridge(broker *Broker, router *Router, sizer *Sizer) *Bridge {
	b := &Bridge{
		broker:        broker,
		router:        router,
		sizer:         sizer,
		state:         StateUninitialized,
		flushInterval: defaultFlushInterval,
	}
	router.output = func(batch []notemux.ProcessedEvent) {
		if len(batch) == 0 {
			return
		}
		b.SendEvents(batch)
		if b.OnBatch != nil {
			b.OnBatch(batch)
		}
	}
	return b
}

// Connect constructs the render engine and performs the handshake, waiting
// for StatusReady with a bounded timeout. On success the bridge is in
// StateReady and the returned engine can be handed to the audio context; on
// failure the bridge is in StateError and stays there.
func (b *Bridge) Connect(synther notemux.Synther, sampleRate int) (*Engine, error) {
	b.setState(StateInitializing)
	engine, err := NewEngine(b.broker, synther, sampleRate, b.sizer.Size())
	if err != nil {
		b.setState(StateError)
		b.drainHandshake()
		return nil, err
	}
	deadline := time.Now().Add(handshakeTimeout)
	for {
		msg, ok := TimeoutReceive(b.broker.ToModel, time.Until(deadline))
		if !ok {
			b.setState(StateError)
			return nil, fmt.Errorf("handshake: no ready status within %v", handshakeTimeout)
		}
		switch s := msg.Data.(type) {
		case StatusInitializing:
			b.notifyStatus(s)
		case StatusReady:
			b.notifyStatus(s)
			b.engine = engine
			b.setState(StateReady)
			return engine, nil
		case StatusError:
			b.notifyStatus(s)
			b.setState(StateError)
			return nil, fmt.Errorf("handshake: %s", s.Message)
		}
	}
}

// drainHandshake consumes whatever status messages a failed engine
// construction left behind, reporting them to the status callback.
func (b *Bridge) drainHandshake() {
	for {
		select {
		case msg := <-b.broker.ToModel:
			if msg.Data != nil {
				b.notifyStatus(msg.Data)
			}
		default:
			return
		}
	}
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) notifyStatus(s StatusMsg) {
	if b.OnStatus != nil {
		b.OnStatus(s)
	}
}

// SendEvents delivers a batch to the render context, fire-and-forget: a full
// channel drops the batch. Fails with ErrNotReady outside StateReady.
func (b *Bridge) SendEvents(batch []notemux.ProcessedEvent) error {
	if b.State() != StateReady {
		return ErrNotReady
	}
	TrySend(b.broker.ToEngine, EngineMsg(EventBatchMsg{Events: batch}))
	return nil
}

// SendControl delivers a control message to the render context. Fails with
// ErrNotReady outside StateReady.
func (b *Bridge) SendControl(msg EngineMsg) error {
	if b.State() != StateReady {
		return ErrNotReady
	}
	TrySend(b.broker.ToEngine, msg)
	return nil
}

// Reset zeroes the render-side counters and the sizer metrics; the bridge
// stays in StateReady throughout.
func (b *Bridge) Reset() error {
	if err := b.SendControl(ResetMsg{}); err != nil {
		return err
	}
	b.sizer.ResetMetrics()
	return nil
}

// SetBufferSize is the manual override: it switches the sizer to manual
// mode and pushes the new size to the render context.
func (b *Bridge) SetBufferSize(size notemux.BufferSize) error {
	if b.State() != StateReady {
		return ErrNotReady
	}
	changed, err := b.sizer.SetBufferSize(size)
	if err != nil {
		return err
	}
	if changed {
		TrySend(b.broker.ToEngine, EngineMsg(SetBufferSizeMsg{Size: size}))
	}
	return nil
}

func (b *Bridge) SetAdaptiveMode(enabled bool) error {
	if b.State() != StateReady {
		return ErrNotReady
	}
	b.sizer.SetAdaptiveMode(enabled)
	TrySend(b.broker.ToEngine, EngineMsg(SetAdaptiveMsg{Enabled: enabled}))
	return nil
}

func (b *Bridge) RequestMetrics() error { return b.SendControl(RequestMetricsMsg{}) }
func (b *Bridge) RequestStats() error   { return b.SendControl(RequestStatsMsg{}) }

// Run is the control-context dispatch loop, meant to be run as a goroutine
// after a successful Connect. It drains raw events from the sources into the
// router, flushes the router on a timer, applies timing reports to the
// sizer, and pushes the sizer's resize decisions back to the render context.
// It exits when CloseDispatch is signalled, closing FinishedDispatch.
func (b *Bridge) Run() {
	defer close(b.broker.FinishedDispatch)
	flush := time.NewTicker(b.flushInterval)
	defer flush.Stop()
	for {
		select {
		case <-b.broker.CloseDispatch:
			b.setState(StateDisconnected)
			return
		case ev := <-b.broker.ToRouter:
			b.router.QueueEvent(ev)
		case <-flush.C:
			b.router.ProcessEvents() // router.output forwards the batch
		case msg := <-b.broker.ToModel:
			b.handleModelMsg(msg)
		}
	}
}

func (b *Bridge) handleModelMsg(msg MsgToModel) {
	if msg.HasTiming {
		if msg.Timing.Underrun {
			if size, resized := b.sizer.RecordUnderrun(); resized {
				TrySend(b.broker.ToEngine, EngineMsg(SetBufferSizeMsg{Size: size}))
			}
		}
		if size, resized := b.sizer.RecordProcessingTime(msg.Timing.DurationMS, msg.Timing.Frames); resized {
			TrySend(b.broker.ToEngine, EngineMsg(SetBufferSizeMsg{Size: size}))
		}
	}
	if msg.HasLevels && b.OnLevels != nil {
		b.OnLevels(msg.Levels)
	}
	if msg.MetricsTick && b.OnMetrics != nil {
		b.OnMetrics(b.sizer.Metrics(), b.sizer.Size().Profile())
	}
	if msg.Data != nil {
		b.notifyStatus(msg.Data)
	}
}

// Disconnect asks the dispatch loop to stop and waits for it briefly.
func (b *Bridge) Disconnect() {
	TrySend(b.broker.CloseDispatch, struct{}{})
	TimeoutReceive(b.broker.FinishedDispatch, handshakeTimeout)
	b.setState(StateDisconnected)
}

// Router and Sizer expose the control surfaces for stats and metrics reads;
// both must only be touched from the control context.
func (b *Bridge) Router() *Router { return b.router }
func (b *Bridge) Sizer() *Sizer   { return b.sizer }
