package irc

// Next hands an event to the remaining stages of the pipeline and returns
// what they produced.
type Next func(ev Event) []Event

// Mutator is a stage of the event pipeline. It may pass ev to next
// unchanged, replace it, drop it, or expand it into several events, and it
// may inspect the events returned by the later stages.
type Mutator interface {
	MutateEvent(s *Session, ev Event, next Next) []Event
}

type MutatorFunc func(s *Session, ev Event, next Next) []Event

func (f MutatorFunc) MutateEvent(s *Session, ev Event, next Next) []Event {
	return f(s, ev, next)
}

// Pipeline runs events through its mutators in order.
type Pipeline []Mutator

// DefaultPipeline is the pipeline used by sessions.
var DefaultPipeline = Pipeline{
	registrationTracker{},
	pingResponder{},
	featureTracker{},
	capabilityTracker{},
	saslNegotiator{},
	stateSync{},
	batchUnwrapper{},
}

func (p Pipeline) Run(s *Session, ev Event) []Event {
	return p.run(s, 0, ev)
}

func (p Pipeline) run(s *Session, i int, ev Event) []Event {
	if i == len(p) {
		return []Event{ev}
	}
	return p[i].MutateEvent(s, ev, func(ev Event) []Event {
		return p.run(s, i+1, ev)
	})
}

// forward passes each event to next and concatenates the results.
func forward(next Next, evs ...Event) []Event {
	var out []Event
	for _, ev := range evs {
		out = append(out, next(ev)...)
	}
	return out
}
