package irc

// batchUnwrapper holds back the events of open batches, and delivers them
// at once in a BatchReceived when the batch ends.
type batchUnwrapper struct{}

func (batchUnwrapper) MutateEvent(s *Session, ev Event, next Next) []Event {
	batches := s.server.batches
	switch e := ev.(type) {
	case BatchStarted:
		batches[e.ReferenceID] = &batch{
			typ:    e.BatchType,
			params: e.Params,
			parent: e.BatchID,
			meta:   e.EventMetadata,
		}
		return nil
	case BatchFinished:
		b, ok := batches[e.ReferenceID]
		if !ok {
			s.logger.Printf("unknown batch %q", e.ReferenceID)
			return nil
		}
		delete(batches, e.ReferenceID)
		received := BatchReceived{
			EventMetadata: b.meta,
			Type:          b.typ,
			Params:        b.params,
			Events:        b.events,
		}
		if parent, ok := batches[b.parent]; ok {
			parent.events = append(parent.events, received)
			return nil
		}
		return next(received)
	}

	if id := ev.Metadata().BatchID; id != "" {
		if b, ok := batches[id]; ok {
			b.events = append(b.events, ev)
			return nil
		}
	}
	return next(ev)
}
