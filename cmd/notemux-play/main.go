package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormeli/notemux"
	"github.com/ormeli/notemux/cmd"
	"github.com/ormeli/notemux/engine"
	"github.com/ormeli/notemux/osc"
	"github.com/ormeli/notemux/oto"
	"github.com/ormeli/notemux/version"
)

const sampleRate = 44100

var (
	cpuprofile       = flag.String("cpuprofile", "", "write cpu profile to `file`")
	defaultMidiInput = flag.String("midi-input", "", "connect MIDI input to matching device name prefix")
	bufferFlag       = flag.Int("buffer", 0, "fixed render window in frames (128, 256 or 512); disables adaptive sizing")
	latencyFlag      = flag.Float64("latency", 0, "target latency in ms; picks the initial render window")
	keysFlag         = flag.Bool("keys", false, "read notes from standard input (tracker key layout, one line at a time)")
	statsFlag        = flag.Bool("stats", false, "log router stats and buffer metrics once per second")
	versionFlag      = flag.Bool("v", false, "print version")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	audioContext, err := oto.NewContext(sampleRate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not acquire oto AudioContext: %v\n", err)
		os.Exit(1)
	}

	broker := engine.NewBroker()
	router := engine.NewRouter(sampleRate, engine.DefaultMaxQueueSize, nil)
	router.RegisterSource(notemux.SourceHardware, "hardware input", true)
	router.RegisterSource(notemux.SourceKeyboard, "stdin keyboard", true)
	router.RegisterSource(notemux.SourceFilePlayback, "sequence playback", true)
	router.RegisterSource(notemux.SourceTest, "test harness", false)

	sizer := engine.NewSizer(sampleRate, notemux.Buffer256)
	if *latencyFlag > 0 {
		sizer.SetBufferSize(sizer.RecommendedBufferSize(*latencyFlag))
		sizer.SetAdaptiveMode(true)
	}

	bridge := engine.NewBridge(broker, router, sizer)
	bridge.OnStatus = func(s engine.StatusMsg) {
		switch m := s.(type) {
		case engine.StatusReady:
			log.Printf("render context ready: %d Hz, %d frame window", m.SampleRate, int(m.BufferSize))
		case engine.StatusBufferSizeChanged:
			log.Printf("render window now %d frames (%.1f ms)", int(m.Size), m.LatencyMS)
		case engine.StatusError:
			log.Printf("render error: %s", m.Message)
		}
	}
	if *statsFlag {
		bridge.OnMetrics = func(m notemux.BufferMetrics, p notemux.BufferProfile) {
			s := router.Stats()
			log.Printf("render: avg %.2f ms, max %.2f ms, %d underruns, %d samples; router: %d queued, %d evicted, %d ignored, flush avg %.3f ms",
				m.AvgProcessingTimeMS, m.MaxProcessingTimeMS, m.Underruns, m.SamplesProcessed,
				s.TotalQueued, s.TotalEvicted, s.TotalIgnored, s.AvgFlushLatencyMS)
		}
	}

	midiContext := cmd.NewMIDIContext(broker)
	defer midiContext.Close()
	if *defaultMidiInput != "" {
		if !midiContext.TryToOpenBy(*defaultMidiInput, false) {
			log.Printf("no MIDI input device found with prefix %q", *defaultMidiInput)
		}
	}

	meter := engine.NewMeter(broker)
	go meter.Run()

	eng, err := bridge.Connect(osc.Synther{}, sampleRate)
	if err != nil {
		log.Fatalf("could not connect render context: %v", err)
	}
	go bridge.Run()

	if *bufferFlag != 0 {
		if err := bridge.SetBufferSize(notemux.BufferSize(*bufferFlag)); err != nil {
			log.Fatalf("setting buffer size: %v", err)
		}
	}

	sequencerRunning := false
	if flag.NArg() > 0 {
		seq, err := readSequence(flag.Arg(0))
		if err != nil {
			log.Fatalf("could not read sequence %v: %v", flag.Arg(0), err)
		}
		go engine.NewSequencer(broker, seq).Run()
		sequencerRunning = true
	}
	if *keysFlag {
		go readKeys(broker)
	}

	playCloser := audioContext.Play(eng.Process)
	defer playCloser.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	if sequencerRunning {
		select {
		case <-broker.FinishedSequencer:
			// let release tails ring out before tearing down
			time.Sleep(time.Second)
		case <-interrupt:
			engine.TrySend(broker.CloseSequencer, struct{}{})
		}
	} else {
		<-interrupt
	}

	bridge.Disconnect()
	engine.TrySend(broker.CloseMeter, struct{}{})
	engine.TimeoutReceive(broker.FinishedMeter, 3*time.Second)
}

func readSequence(filename string) (notemux.Sequence, error) {
	var seq notemux.Sequence
	data, err := os.ReadFile(filename)
	if err != nil {
		return seq, err
	}
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return seq, fmt.Errorf("parsing yaml: %w", err)
	}
	if err := seq.Validate(); err != nil {
		return seq, err
	}
	return seq, nil
}

// keyNotes is the usual tracker layout: bottom letter row is one octave from
// middle C, with sharps on the home row.
var keyNotes = map[rune]byte{
	'z': 60, 's': 61, 'x': 62, 'd': 63, 'c': 64, 'v': 65, 'g': 66,
	'b': 67, 'h': 68, 'n': 69, 'j': 70, 'm': 71, ',': 72,
}

// readKeys is the on-screen-keyboard stand-in: notes typed on stdin become
// SourceKeyboard events, each held for a fixed 200 ms.
func readKeys(broker *engine.Broker) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		for _, r := range scanner.Text() {
			note, ok := keyNotes[r]
			if !ok {
				continue
			}
			engine.TrySend(broker.ToRouter, notemux.RawEvent{
				TimestampMS: time.Now().UnixMilli(),
				Source:      notemux.SourceKeyboard,
				Kind:        notemux.NoteOn,
				Data1:       note,
				Data2:       100,
			})
			engine.TrySend(broker.ToRouter, notemux.RawEvent{
				TimestampMS: time.Now().UnixMilli() + 200,
				Source:      notemux.SourceKeyboard,
				Kind:        notemux.NoteOff,
				Data1:       note,
			})
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "notemux command line player.\nUsage: %s [flags] [sequence.yml]\n", os.Args[0])
	flag.PrintDefaults()
}
