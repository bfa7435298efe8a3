//go:build !cgo

package cmd

import (
	"github.com/ormeli/notemux/engine"
)

func NewMIDIContext(broker *engine.Broker) engine.MIDIContext {
	return engine.NullMIDIContext{}
}
