package irc

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/emersion/go-sasl"
)

// saslChunkSize is the maximum length of an AUTHENTICATE payload.
const saslChunkSize = 400

// SASLMechanism is an authentication mechanism the client can use.
// Mechanisms with a higher priority are tried first.
type SASLMechanism struct {
	Name      string
	Priority  int
	NewClient func() sasl.Client
}

func SASLPlain(username, password string) SASLMechanism {
	return SASLMechanism{
		Name:     sasl.Plain,
		Priority: 0,
		NewClient: func() sasl.Client {
			return sasl.NewPlainClient("", username, password)
		},
	}
}

// SASLExternal authenticates with the TLS client certificate.
func SASLExternal() SASLMechanism {
	return SASLMechanism{
		Name:     sasl.External,
		Priority: 10,
		NewClient: func() sasl.Client {
			return sasl.NewExternalClient("")
		},
	}
}

func SASLAnonymous(trace string) SASLMechanism {
	return SASLMechanism{
		Name:     sasl.Anonymous,
		Priority: -10,
		NewClient: func() sasl.Client {
			return sasl.NewAnonymousClient(trace)
		},
	}
}

type SASLNegotiationState int

const (
	SASLIdle SASLNegotiationState = iota
	SASLMechanismSelected
	SASLChallengeWait
	SASLFinished
)

// SASLState tracks SASL authentication.
type SASLState struct {
	State            SASLNegotiationState
	Mechanisms       []SASLMechanism // by descending priority
	Current          *SASLMechanism  // the mechanism being attempted
	ServerMechanisms []string        // as advertised by the server, if known
	Success          bool

	client   sasl.Client // progress of the current mechanism
	started  bool
	buffer   string // AUTHENTICATE payload being reassembled
	retrying bool   // whether to ignore the failure following RPL_SASLMECHS
	untried  int    // index of the first mechanism not attempted yet
}

func newSASLState(mechanisms []SASLMechanism) SASLState {
	sorted := append([]SASLMechanism(nil), mechanisms...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return SASLState{Mechanisms: sorted}
}

// PreferredMechanism returns the mechanism to try next: the first one after
// the current mechanism, in order of descending priority, that the server
// supports. An empty server list is taken to support everything.
func (st *SASLState) PreferredMechanism(serverMechanisms []string) *SASLMechanism {
	for i := st.untried; i < len(st.Mechanisms); i++ {
		m := &st.Mechanisms[i]
		if len(serverMechanisms) > 0 && !containsFold(serverMechanisms, m.Name) {
			continue
		}
		return m
	}
	return nil
}

// SetMechanism changes the current mechanism and discards the progress of
// the previous one. Mechanisms before m are not tried again.
func (st *SASLState) SetMechanism(m *SASLMechanism) {
	st.Current = m
	st.client = nil
	st.started = false
	st.buffer = ""
	if m == nil {
		return
	}
	for i := range st.Mechanisms {
		if &st.Mechanisms[i] == m {
			st.untried = i + 1
			break
		}
	}
	if m.NewClient != nil {
		st.client = m.NewClient()
	}
}

func (st *SASLState) Reset() {
	mechanisms := st.Mechanisms
	*st = SASLState{Mechanisms: mechanisms}
}

func (st *SASLState) inProgress() bool {
	return st.State == SASLMechanismSelected || st.State == SASLChallengeWait
}

func (st *SASLState) snapshot() SASLState {
	return SASLState{
		State:            st.State,
		Mechanisms:       append([]SASLMechanism(nil), st.Mechanisms...),
		Current:          st.Current,
		ServerMechanisms: append([]string(nil), st.ServerMechanisms...),
		Success:          st.Success,
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// parseMechanismList parses the value of the sasl capability or of
// RPL_SASLMECHS.
func parseMechanismList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

// authenticatePayloads encodes a SASL response into AUTHENTICATE parameters.
func authenticatePayloads(resp []byte) []string {
	enc := base64.StdEncoding.EncodeToString(resp)
	var chunks []string
	for len(enc) >= saslChunkSize {
		chunks = append(chunks, enc[:saslChunkSize])
		enc = enc[saslChunkSize:]
	}
	if enc == "" {
		enc = "+"
	}
	return append(chunks, enc)
}

type saslNegotiator struct{}

func (saslNegotiator) MutateEvent(s *Session, ev Event, next Next) []Event {
	st := &s.server.SASL
	switch e := ev.(type) {
	case ServerCapabilitiesAcknowledged:
		if enabled := e.Capabilities["sasl"]; enabled && st.State == SASLIdle && len(st.Mechanisms) > 0 {
			serverMechanisms := parseMechanismList(s.server.Capabilities.Advertised["sasl"])
			st.ServerMechanisms = serverMechanisms
			if m := st.PreferredMechanism(serverMechanisms); m != nil {
				s.selectMechanism(m)
			} else {
				st.State = SASLFinished
				return append(next(ev), next(SaslMechanismNotAvailableError{
					EventMetadata: e.EventMetadata,
					Mechanisms:    serverMechanisms,
				})...)
			}
		}
	case AuthenticationMessage:
		if !st.inProgress() {
			s.logger.Printf("unexpected AUTHENTICATE message")
			return next(ev)
		}
		st.retrying = false
		s.authenticate(e.Argument)
	case SaslMechanismNotAvailableError:
		st.ServerMechanisms = e.Mechanisms
		if !st.inProgress() {
			break
		}
		if m := st.PreferredMechanism(e.Mechanisms); m != nil {
			st.retrying = true
			s.selectMechanism(m)
			return nil
		}
	case SaslFinished:
		if st.retrying && !e.Success {
			st.retrying = false
			return nil
		}
		st.State = SASLFinished
		st.Success = e.Success
		st.client = nil
		st.buffer = ""
	}
	return next(ev)
}

func (s *Session) selectMechanism(m *SASLMechanism) {
	st := &s.server.SASL
	st.SetMechanism(m)
	st.State = SASLMechanismSelected
	s.send(NewMessage("AUTHENTICATE", m.Name))
}

// authenticate feeds one AUTHENTICATE chunk to the current mechanism.
func (s *Session) authenticate(chunk string) {
	st := &s.server.SASL
	if len(chunk) == saslChunkSize {
		st.buffer += chunk
		return
	}
	payload := st.buffer + chunk
	st.buffer = ""

	var challenge []byte
	if payload != "" {
		var err error
		challenge, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			s.logger.Printf("invalid AUTHENTICATE payload: %v", err)
			s.send(NewMessage("AUTHENTICATE", "*"))
			return
		}
	}

	if st.client == nil {
		s.send(NewMessage("AUTHENTICATE", "*"))
		return
	}

	var resp []byte
	var err error
	if !st.started {
		st.started = true
		_, resp, err = st.client.Start()
		if err == nil && len(challenge) > 0 {
			resp, err = st.client.Next(challenge)
		}
	} else {
		resp, err = st.client.Next(challenge)
	}
	if err != nil {
		s.logger.Printf("SASL %s: %v", st.Current.Name, err)
		s.send(NewMessage("AUTHENTICATE", "*"))
		return
	}

	for _, p := range authenticatePayloads(resp) {
		s.send(NewMessage("AUTHENTICATE", p))
	}
	st.State = SASLChallengeWait
}
