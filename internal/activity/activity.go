// Package activity abstracts the host's input and visibility signals as a
// subscribable stream. The embedding application pushes qualifying input
// events (pointer, key, scroll, click, touch) and visibility changes into a
// Feed; the tracker consumes them without knowing their origin.
package activity

import "time"

// PulseKind identifies the input event that produced an activity pulse
type PulseKind string

const (
	PulsePointer    PulseKind = "pointer"
	PulseKey        PulseKind = "key"
	PulseScroll     PulseKind = "scroll"
	PulseClick      PulseKind = "click"
	PulseTouchStart PulseKind = "touchstart"
	PulseTouchMove  PulseKind = "touchmove"
)

// Pulse is one qualifying input event
type Pulse struct {
	Kind PulseKind
	At   time.Time
}

// Source is a subscribable stream of activity pulses and visibility changes
type Source interface {
	Pulses() <-chan Pulse
	Visibility() <-chan bool
}

// Feed is a push-based Source. Pulses arriving faster than the consumer
// drains them are dropped; the tracker throttles evaluations anyway, so a
// lost pulse inside a burst changes nothing.
type Feed struct {
	pulses     chan Pulse
	visibility chan bool
}

// NewFeed creates an activity feed
func NewFeed() *Feed {
	return &Feed{
		pulses:     make(chan Pulse, 64),
		visibility: make(chan bool, 8),
	}
}

// Pulse records one qualifying input event
func (f *Feed) Pulse(kind PulseKind) {
	select {
	case f.pulses <- Pulse{Kind: kind, At: time.Now()}:
	default:
	}
}

// SetVisible records a visibility change
func (f *Feed) SetVisible(visible bool) {
	select {
	case f.visibility <- visible:
	default:
	}
}

func (f *Feed) Pulses() <-chan Pulse {
	return f.pulses
}

func (f *Feed) Visibility() <-chan bool {
	return f.visibility
}
