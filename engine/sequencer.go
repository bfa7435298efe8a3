package engine

import (
	"time"

	"github.com/ormeli/notemux"
)

// Sequencer plays a notemux.Sequence as the FilePlayback source: it walks
// the rows on a beat clock and posts the resulting note events to the
// broker's source channel, where the dispatch loop queues them into the
// router like any other source's events. Runs on its own control-context
// goroutine.
type Sequencer struct {
	broker *Broker
	seq    notemux.Sequence

	row    int
	active []activeNote // last triggered note per track, to release
}

type activeNote struct {
	sounding bool
	note     byte
}

func NewSequencer(broker *Broker, seq notemux.Sequence) *Sequencer {
	return &Sequencer{
		broker: broker,
		seq:    seq,
		active: make([]activeNote, len(seq.Tracks)),
	}
}

// Run walks the sequence until it ends (or forever, when looping) or until
// CloseSequencer is signalled. FinishedSequencer is closed on the way out;
// all sounding notes are released first so nothing hangs.
func (s *Sequencer) Run() {
	defer close(s.broker.FinishedSequencer)
	defer s.releaseAll()
	ticker := time.NewTicker(s.seq.RowDuration())
	defer ticker.Stop()
	for {
		s.playRow()
		s.row++
		if s.row >= s.seq.Rows() {
			if !s.seq.Loop {
				return
			}
			s.row = 0
		}
		select {
		case <-s.broker.CloseSequencer:
			return
		case <-ticker.C:
		}
	}
}

func (s *Sequencer) playRow() {
	now := time.Now().UnixMilli()
	for i, t := range s.seq.Tracks {
		n := t.Notes[s.row]
		switch {
		case n == notemux.SeqNoteHold:
			// keep sounding
		case n == notemux.SeqNoteRelease:
			s.release(now, i)
		default:
			s.release(now, i)
			s.trigger(now, i, n)
		}
	}
}

func (s *Sequencer) trigger(now int64, track int, note byte) {
	t := s.seq.Tracks[track]
	velocity := t.Velocity
	if velocity == 0 {
		velocity = 100
	}
	s.post(notemux.RawEvent{
		TimestampMS: now,
		Source:      notemux.SourceFilePlayback,
		Channel:     t.Channel,
		Kind:        notemux.NoteOn,
		Data1:       note,
		Data2:       velocity,
	})
	s.active[track] = activeNote{sounding: true, note: note}
}

func (s *Sequencer) release(now int64, track int) {
	if !s.active[track].sounding {
		return
	}
	s.post(notemux.RawEvent{
		TimestampMS: now,
		Source:      notemux.SourceFilePlayback,
		Channel:     s.seq.Tracks[track].Channel,
		Kind:        notemux.NoteOff,
		Data1:       s.active[track].note,
	})
	s.active[track] = activeNote{}
}

func (s *Sequencer) releaseAll() {
	now := time.Now().UnixMilli()
	for i := range s.active {
		s.release(now, i)
	}
}

// post is non-blocking; when the router channel is full the event is
// dropped, which for file playback is the right tradeoff.
func (s *Sequencer) post(ev notemux.RawEvent) {
	TrySend(s.broker.ToRouter, ev)
}
