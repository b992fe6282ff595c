package display

import "sync"

// EventKind tags a recorded Sink call.
type EventKind int

const (
	EventLine EventKind = iota
	EventEndOfMessage
	EventDisconnected
)

// Event is one recorded Sink call.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Recorder is a Sink that keeps every call in order. It is used by tests
// and by callers that post-process server output.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Line implements Sink.
func (r *Recorder) Line(text string) { r.add(Event{Kind: EventLine, Text: text}) }

// EndOfMessage implements Sink.
func (r *Recorder) EndOfMessage() { r.add(Event{Kind: EventEndOfMessage}) }

// Disconnected implements Sink.
func (r *Recorder) Disconnected(err error) { r.add(Event{Kind: EventDisconnected, Err: err}) }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Lines returns the text of every recorded Line call.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lines []string
	for _, ev := range r.events {
		if ev.Kind == EventLine {
			lines = append(lines, ev.Text)
		}
	}
	return lines
}

// Updated is signalled (non-blocking, coalesced) after each new event.
func (r *Recorder) Updated() <-chan struct{} {
	return r.notify
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}
