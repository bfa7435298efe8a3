//go:build cgo

package cmd

import (
	"github.com/ormeli/notemux/engine"
	"github.com/ormeli/notemux/engine/gomidi"
)

func NewMIDIContext(broker *engine.Broker) engine.MIDIContext {
	return gomidi.NewContext(broker)
}
