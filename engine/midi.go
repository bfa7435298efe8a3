package engine

type (
	// MIDIContext is the hardware input surface. Implementations convert
	// driver messages into RawEvents and post them to the broker's source
	// channel; the engine package itself never touches a MIDI driver.
	MIDIContext interface {
		// InputDevices can be iterated to enumerate the available inputs.
		InputDevices(yield func(device MIDIDevice) bool)
		// TryToOpenBy opens the first device whose name matches the
		// prefix, or simply the first device when takeFirst is set.
		TryToOpenBy(namePrefix string, takeFirst bool) bool
		Close()
	}

	MIDIDevice interface {
		Open() error
		String() string
	}
)

// NullMIDIContext is the MIDIContext used when no MIDI support is compiled
// in or no driver is available.
type NullMIDIContext struct{}

func (NullMIDIContext) InputDevices(yield func(device MIDIDevice) bool) {}
func (NullMIDIContext) TryToOpenBy(namePrefix string, takeFirst bool) bool { return false }
func (NullMIDIContext) Close()                                             {}
