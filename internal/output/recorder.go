package output

import "sync"

// Event is a single notification captured by a Recorder.
type Event struct {
	Kind    string // init, message, percentage, success, warning, error
	Text    string
	Percent int
	Err     error
}

// Recorder is a Sink that keeps every notification in memory. It is used
// where output has to be inspected rather than printed.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Init(fileName string, mirrors, connections int) {
	r.add(Event{Kind: "init", Text: fileName})
}

func (r *Recorder) Message(text string) {
	r.add(Event{Kind: "message", Text: text})
}

func (r *Recorder) Percentage(percent int) {
	r.add(Event{Kind: "percentage", Percent: percent})
}

func (r *Recorder) Success() {
	r.add(Event{Kind: "success"})
}

func (r *Recorder) Warning(text string, err error) {
	r.add(Event{Kind: "warning", Text: text, Err: err})
}

func (r *Recorder) Error(text string, err error) {
	r.add(Event{Kind: "error", Text: text, Err: err})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Percentages returns the percentage notifications in emission order.
func (r *Recorder) Percentages() []int {
	var out []int
	for _, e := range r.Events() {
		if e.Kind == "percentage" {
			out = append(out, e.Percent)
		}
	}
	return out
}

func (r *Recorder) Count(kind string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
