package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Sink receives committed events. Publish must not call back into the vault.
type Sink interface {
	Publish(e Event)
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Fanout forwards each event to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(e Event) {
	for _, s := range f {
		s.Publish(e)
	}
}

// Recorder keeps every event it sees.
type Recorder struct {
	events []Event
	mu     sync.Mutex
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k in emission order.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Envelope is the wire form shared by the NATS and websocket transports.
type Envelope struct {
	Kind      Kind   `json:"kind"`
	Vault     string `json:"vault"`
	Timestamp int64  `json:"timestamp"`
	Data      Event  `json:"data"`
}

// Encode wraps e in an Envelope and marshals it.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Kind:      e.Kind(),
		Vault:     e.Source().Hex(),
		Timestamp: time.Now().UnixMilli(),
		Data:      e,
	})
}
