package graph

import "sync"

// Phase of a run a progress event belongs to.
type Phase int

const (
	Discovering Phase = iota
	Resolving
	Building
)

func (p Phase) String() string {
	switch p {
	case Discovering:
		return "Discovering"
	case Resolving:
		return "Resolving"
	case Building:
		return "Building"
	}
	return "Unknown"
}

// Status of one progress event.
type Status int

const (
	StatusDiscovering Status = iota
	StatusResolving
	StatusBuildSucceeded
	StatusBuildFailed
	StatusBuildSkipped
)

func (s Status) String() string {
	switch s {
	case StatusDiscovering:
		return "Discovering"
	case StatusResolving:
		return "Resolving"
	case StatusBuildSucceeded:
		return "BuildSucceeded"
	case StatusBuildFailed:
		return "BuildFailed"
	case StatusBuildSkipped:
		return "BuildSkipped"
	}
	return "Unknown"
}

// Phase returns the phase the status is reported in.
func (s Status) Phase() Phase {
	switch s {
	case StatusDiscovering:
		return Discovering
	case StatusResolving:
		return Resolving
	}
	return Building
}

// Event is one progress notification. Index is 1-based.
//
// Name is the module identity, except for StatusDiscovering events of local
// files: those are emitted before the file is loaded and carry its path.
type Event struct {
	Status Status
	Name   string
	Index  int
	Total  int
	Err    error // build failure cause, StatusBuildFailed only
}

// Observer receives progress and non-fatal errors. Implementations used with
// the build scheduler must be safe for concurrent calls.
type Observer interface {
	Progress(ev Event)
	Error(err error)
}

// Nop is an Observer that drops everything.
type Nop struct{}

func (Nop) Progress(Event) {}
func (Nop) Error(error)    {}

// Recorder is an Observer keeping every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	errs   []error
}

func (r *Recorder) Progress(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Error(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// Events returns a copy of the recorded progress events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Errors returns a copy of the recorded errors.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Multi fans notifications out to several observers.
type Multi []Observer

func (m Multi) Progress(ev Event) {
	for _, o := range m {
		o.Progress(ev)
	}
}

func (m Multi) Error(err error) {
	for _, o := range m {
		o.Error(err)
	}
}

// ObserverFunc adapts a function to Observer. Error notifications carry a
// zero Event.
type ObserverFunc func(ev Event, err error)

func (f ObserverFunc) Progress(ev Event) { f(ev, nil) }
func (f ObserverFunc) Error(err error)   { f(Event{}, err) }

// Notification is one message of an Events stream: either a progress event
// or, when Err is set, an error.
type Notification struct {
	Event Event
	Err   error
}

// Events is an Observer streaming notifications on a channel. Sends block,
// the consumer must keep draining it until the run is over.
type Events chan Notification

func (c Events) Progress(ev Event) { c <- Notification{Event: ev} }
func (c Events) Error(err error)   { c <- Notification{Err: err} }
