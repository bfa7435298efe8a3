/*
Package notemux contains the domain types for the notemux event pipeline: raw
and sample-timestamped performance events, the input source enumeration with
its fixed priorities, render window sizes and their profiles, and the
contracts for synths and audio outputs.

The actual routing, adaptive sizing and control/render message passing live in
the engine package; hardware MIDI input in engine/gomidi; audio output in oto.
*/
package notemux
