package irc

// registrationTracker follows the connection status, and emits ServerReady
// once the server has welcomed us and negotiation is over.
type registrationTracker struct{}

func (registrationTracker) MutateEvent(s *Session, ev Event, next Next) []Event {
	st := &s.server
	switch e := ev.(type) {
	case ServerConnected:
		if st.Status == StatusConnecting {
			st.Status = StatusNegotiating
		}
	case ServerWelcome:
		st.ReceivedWelcome = true
		st.LocalNickname = e.LocalNick
		st.ServerName = e.Server
	case MotdFinished:
		// Some servers send no RPL_ISUPPORT at all.
		st.receivedFeatures = true
	case NicknameChangeFailed:
		if !st.ReceivedWelcome && (e.Cause == AlreadyInUse || e.Cause == Collision) {
			st.LocalNickname += "_"
			s.send(NewMessage("NICK", st.LocalNickname))
		}
	}

	evs := next(ev)

	if st.Status == StatusNegotiating && s.ready() {
		st.Status = StatusReady
		ready := ServerReady{EventMetadata{Time: ev.Metadata().Time}}
		evs = append([]Event{ready}, evs...)
	}
	return evs
}

func (s *Session) ready() bool {
	st := &s.server
	return st.ReceivedWelcome &&
		st.receivedFeatures &&
		!st.Capabilities.negotiating() &&
		!st.SASL.inProgress()
}

type pingResponder struct{}

func (pingResponder) MutateEvent(s *Session, ev Event, next Next) []Event {
	if e, ok := ev.(PingReceived); ok {
		s.send(NewMessage("PONG", e.Nonce))
	}
	return next(ev)
}
