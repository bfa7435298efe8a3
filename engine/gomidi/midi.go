//go:build cgo

package gomidi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ormeli/notemux"
	"github.com/ormeli/notemux/engine"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	// RTMIDIContext is the hardware input source. Incoming driver messages
	// are converted to RawEvents and posted to the broker's source channel
	// non-blocking; if the channel is full the message is dropped.
	RTMIDIContext struct {
		broker             *engine.Broker
		driver             *rtmididrv.Driver
		currentIn          drivers.In
		inputDevices       []RTMIDIDevice
		devicesInitialized bool
	}

	RTMIDIDevice struct {
		context *RTMIDIContext
		in      drivers.In
	}
)

// NewContext opens the driver. There is not much to do if that fails, so a
// nil driver just means no devices will be found.
func NewContext(broker *engine.Broker) *RTMIDIContext {
	m := RTMIDIContext{broker: broker}
	m.driver, _ = rtmididrv.New()
	return &m
}

func (c *RTMIDIContext) InputDevices(yield func(device engine.MIDIDevice) bool) {
	if c.devicesInitialized {
		for _, device := range c.inputDevices {
			if !yield(device) {
				break
			}
		}
		return
	}
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for _, in := range ins {
		device := RTMIDIDevice{context: c, in: in}
		c.inputDevices = append(c.inputDevices, device)
		if !yield(device) {
			break
		}
	}
	c.devicesInitialized = true
}

func (c *RTMIDIContext) TryToOpenBy(namePrefix string, takeFirst bool) bool {
	if namePrefix == "" && !takeFirst {
		return false
	}
	opened := false
	c.InputDevices(func(device engine.MIDIDevice) bool {
		if takeFirst || strings.HasPrefix(device.String(), namePrefix) {
			opened = device.Open() == nil
			return false
		}
		return true
	})
	return opened
}

// Open an input device, closing the currently open one if necessary.
func (d RTMIDIDevice) Open() error {
	if d.context.currentIn == d.in {
		return nil
	}
	if d.context.driver == nil {
		return errors.New("no driver available")
	}
	if d.context.currentIn != nil && d.context.currentIn.IsOpen() {
		d.context.currentIn.Close()
	}
	d.context.currentIn = d.in
	if err := d.in.Open(); err != nil {
		d.context.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	if _, err := midi.ListenTo(d.in, d.context.handleMessage); err != nil {
		d.in.Close()
		d.context.currentIn = nil
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	return nil
}

func (d RTMIDIDevice) String() string { return d.in.String() }

// handleMessage runs on the driver's callback thread; it must not block, so
// everything goes through TrySend. The driver timestamp counts from listener
// start, so the event is restamped onto the wall clock all sources share.
func (c *RTMIDIContext) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity, control, value uint8
	ev := notemux.RawEvent{
		TimestampMS: time.Now().UnixMilli(),
		Source:      notemux.SourceHardware,
	}
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		ev.Channel, ev.Kind, ev.Data1, ev.Data2 = channel, notemux.NoteOn, key, velocity
	case msg.GetNoteOff(&channel, &key, &velocity):
		ev.Channel, ev.Kind, ev.Data1, ev.Data2 = channel, notemux.NoteOff, key, velocity
	case msg.GetControlChange(&channel, &control, &value):
		ev.Channel, ev.Kind, ev.Data1, ev.Data2 = channel, notemux.ControlChange, control, value
	default:
		return
	}
	engine.TrySend(c.broker.ToRouter, ev)
}

func (c *RTMIDIContext) Close() {
	if c.driver == nil {
		return
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}
