package summaries

import (
	"encoding/json"
	"sync/atomic"
)

const (
	EventMessage = ""
	EventError   = "error"
	EventEnd     = "end"
)

// Event is one server-sent event. An empty Name is the unnamed "message" event.
type Event struct {
	Name string
	Data string
}

func tokenEvent(delta string) Event {
	b, _ := json.Marshal(delta)
	return Event{Name: EventMessage, Data: string(b)}
}

func messageEvent(name, msg string) Event {
	b, _ := json.Marshal(map[string]string{"message": msg})
	return Event{Name: name, Data: string(b)}
}

type Sink interface {
	Send(ev Event) error
}

type SinkFunc func(ev Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }

type nopSink struct{}

func (nopSink) Send(Event) error { return nil }

type sinkBox struct{ Sink }

// SwitchSink forwards to a client until Disconnect swaps in a sink that drops
// everything. Producers keep calling Send either way.
type SwitchSink struct {
	cur       atomic.Pointer[sinkBox]
	connected atomic.Bool
}

func NewSwitchSink(s Sink) *SwitchSink {
	if s == nil {
		s = nopSink{}
	}
	ss := &SwitchSink{}
	ss.cur.Store(&sinkBox{s})
	ss.connected.Store(true)
	return ss
}

func (s *SwitchSink) Send(ev Event) error {
	return s.cur.Load().Send(ev)
}

func (s *SwitchSink) Disconnect() {
	s.connected.Store(false)
	s.cur.Store(&sinkBox{nopSink{}})
}

func (s *SwitchSink) Connected() bool { return s.connected.Load() }
