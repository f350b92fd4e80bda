package irc

import (
	"sort"
	"strings"
)

// SupportedCapabilities is the set of capabilities supported by this library.
var SupportedCapabilities = map[string]struct{}{
	"account-notify":    {},
	"account-tag":       {},
	"away-notify":       {},
	"batch":             {},
	"cap-notify":        {},
	"chghost":           {},
	"echo-message":      {},
	"extended-join":     {},
	"invite-notify":     {},
	"labeled-response":  {},
	"message-tags":      {},
	"multi-prefix":      {},
	"sasl":              {},
	"server-time":       {},
	"standard-replies":  {},
	"userhost-in-names": {},
}

// maxCapReqLen bounds the length of the capability list of a CAP REQ.
const maxCapReqLen = 400

// capabilitiesToRequest returns the capabilities of available that we want
// and haven't enabled yet.
func (s *Session) capabilitiesToRequest(available map[string]string) []string {
	caps := &s.server.Capabilities
	var reqs []string
	for name, value := range available {
		if _, ok := SupportedCapabilities[name]; !ok {
			continue
		}
		if _, ok := caps.Enabled[name]; ok {
			continue
		}
		if name == "sasl" && !s.wantsSASL(value) {
			continue
		}
		reqs = append(reqs, name)
	}
	sort.Strings(reqs)
	return reqs
}

// wantsSASL reports whether SASL can be attempted given the value of the
// sasl capability.
func (s *Session) wantsSASL(value string) bool {
	st := &s.server.SASL
	if len(st.Mechanisms) == 0 || s.server.Capabilities.NegotiationState == CapNegotiationFinished {
		return false
	}
	return st.PreferredMechanism(parseMechanismList(value)) != nil
}

func (s *Session) requestCapabilities(reqs []string) {
	caps := &s.server.Capabilities
	var line []string
	n := 0
	for _, name := range reqs {
		caps.requested[name] = struct{}{}
		if n+len(name)+1 > maxCapReqLen && len(line) > 0 {
			s.send(NewMessage("CAP", "REQ", strings.Join(line, " ")))
			line, n = nil, 0
		}
		line = append(line, name)
		n += len(name) + 1
	}
	if len(line) > 0 {
		s.send(NewMessage("CAP", "REQ", strings.Join(line, " ")))
	}
}

// capabilityTracker negotiates capabilities and ends negotiation once every
// request got an answer and SASL is done.
type capabilityTracker struct{}

func (capabilityTracker) MutateEvent(s *Session, ev Event, next Next) []Event {
	caps := &s.server.Capabilities
	var evs []Event
	switch e := ev.(type) {
	case ServerCapabilitiesReceived:
		for name, value := range e.Capabilities {
			caps.Advertised[name] = value
		}
		if caps.NegotiationState == CapNegotiationIdle {
			caps.NegotiationState = CapNegotiationAwaitingList
		}
		if e.continued {
			return nil
		}
		e.Capabilities = make(map[string]string, len(caps.Advertised))
		for name, value := range caps.Advertised {
			e.Capabilities[name] = value
		}
		evs = next(e)
		if caps.NegotiationState == CapNegotiationAwaitingList {
			s.requestCapabilities(s.capabilitiesToRequest(caps.Advertised))
			caps.NegotiationState = CapNegotiationAwaitingAck
		}
	case ServerCapabilitiesAcknowledged:
		for name, enable := range e.Capabilities {
			if enable {
				caps.Enabled[name] = struct{}{}
			} else {
				delete(caps.Enabled, name)
			}
			delete(caps.requested, name)
		}
		evs = next(e)
	case ServerCapabilitiesRejected:
		for _, name := range e.Capabilities {
			delete(caps.requested, name)
		}
		evs = next(e)
	case ServerCapabilitiesAdded:
		for name, value := range e.Capabilities {
			caps.Advertised[name] = value
		}
		evs = next(e)
		s.requestCapabilities(s.capabilitiesToRequest(e.Capabilities))
	case ServerCapabilitiesRemoved:
		for _, name := range e.Capabilities {
			delete(caps.Advertised, name)
			delete(caps.Enabled, name)
		}
		evs = next(e)
	default:
		evs = next(ev)
	}

	if caps.NegotiationState == CapNegotiationAwaitingAck && len(caps.requested) == 0 && !s.server.SASL.inProgress() {
		s.send(NewMessage("CAP", "END"))
		caps.NegotiationState = CapNegotiationFinished
		evs = append(evs, ServerCapabilitiesFinished{EventMetadata{Time: ev.Metadata().Time}})
	}
	return evs
}
