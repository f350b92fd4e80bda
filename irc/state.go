package irc

import (
	"sort"
	"time"
)

// User is an IRC user as seen by the client.
type User struct {
	Nickname    string
	Ident       string // "" if unknown
	Hostname    string // "" if unknown
	Account     string // "" if unknown or logged out
	RealName    string // "" if unknown
	AwayMessage string // "" if not away or unknown
}

func userFromPrefix(p *Prefix) User {
	if p == nil {
		return User{}
	}
	return User{
		Nickname: p.Name,
		Ident:    p.User,
		Hostname: p.Host,
	}
}

// updateFrom copies the fields of other that are known into u.
func (u *User) updateFrom(other User) {
	if other.Nickname != "" {
		u.Nickname = other.Nickname
	}
	if other.Ident != "" {
		u.Ident = other.Ident
	}
	if other.Hostname != "" {
		u.Hostname = other.Hostname
	}
	if other.Account != "" {
		u.Account = other.Account
	}
	if other.RealName != "" {
		u.RealName = other.RealName
	}
}

type ServerStatus int

const (
	StatusConnecting ServerStatus = iota
	StatusNegotiating
	StatusReady
)

func (s ServerStatus) String() string {
	switch s {
	case StatusNegotiating:
		return "negotiating"
	case StatusReady:
		return "ready"
	default:
		return "connecting"
	}
}

type CapabilityNegotiationState int

const (
	CapNegotiationIdle CapabilityNegotiationState = iota
	CapNegotiationAwaitingList
	CapNegotiationAwaitingAck
	CapNegotiationFinished
)

// CapabilitiesState tracks CAP negotiation.
type CapabilitiesState struct {
	NegotiationState CapabilityNegotiationState
	Advertised       map[string]string   // capabilities offered by the server, with their value
	Enabled          map[string]struct{} // capabilities acknowledged by the server

	requested map[string]struct{} // capabilities requested but not yet ACKed or NAKed
}

func newCapabilitiesState() CapabilitiesState {
	return CapabilitiesState{
		Advertised: map[string]string{},
		Enabled:    map[string]struct{}{},
		requested:  map[string]struct{}{},
	}
}

func (c *CapabilitiesState) negotiating() bool {
	return c.NegotiationState == CapNegotiationAwaitingList || c.NegotiationState == CapNegotiationAwaitingAck
}

type batch struct {
	typ    string
	params []string
	parent string
	meta   EventMetadata
	events []Event
}

// ServerState is the state of the connection to the server.
type ServerState struct {
	Status          ServerStatus
	LocalNickname   string
	ServerName      string
	ReceivedWelcome bool
	Features        ServerFeatureMap
	Capabilities    CapabilitiesState
	SASL            SASLState

	receivedFeatures bool
	batches          map[string]*batch
}

func newServerState(nick string, mechanisms []SASLMechanism) ServerState {
	return ServerState{
		Status:        StatusConnecting,
		LocalNickname: nick,
		Features:      ServerFeatureMap{},
		Capabilities:  newCapabilitiesState(),
		SASL:          newSASLState(mechanisms),
		batches:       map[string]*batch{},
	}
}

// snapshot returns a copy of s that shares no map with it.
func (s *ServerState) snapshot() ServerState {
	res := *s
	res.Features = s.Features.Copy()
	res.Capabilities.Advertised = make(map[string]string, len(s.Capabilities.Advertised))
	for k, v := range s.Capabilities.Advertised {
		res.Capabilities.Advertised[k] = v
	}
	res.Capabilities.Enabled = make(map[string]struct{}, len(s.Capabilities.Enabled))
	for k := range s.Capabilities.Enabled {
		res.Capabilities.Enabled[k] = struct{}{}
	}
	res.Capabilities.requested = nil
	res.SASL = s.SASL.snapshot()
	res.batches = nil
	return res
}

// ChannelUser is a member of a channel.
type ChannelUser struct {
	Nickname string
	Modes    string // membership modes, e.g. "ov"
}

type ChannelTopic struct {
	Topic string    // "" if absent
	User  *User     // the user who set the topic, if known
	Time  time.Time // when the topic was set, if known
}

// ChannelState is a joined channel.
type ChannelState struct {
	Name              string
	Topic             ChannelTopic
	Modes             map[byte]string // channel modes and their parameter, if any
	ReceivingUserList bool

	users caseMap[*ChannelUser]
}

func newChannelState(name string, casemap func() CaseMapping) *ChannelState {
	return &ChannelState{
		Name:  name,
		Modes: map[byte]string{},
		users: newCaseMap[*ChannelUser](casemap),
	}
}

// User returns the member with the given nickname.
func (c *ChannelState) User(nick string) (ChannelUser, bool) {
	u, ok := c.users.Get(nick)
	if !ok {
		return ChannelUser{}, false
	}
	return *u, true
}

// Users returns the members of the channel sorted by nickname.
func (c *ChannelState) Users() []ChannelUser {
	users := make([]ChannelUser, 0, c.users.Len())
	c.users.ForEach(func(_ string, u *ChannelUser) {
		users = append(users, *u)
	})
	sort.Slice(users, func(i, j int) bool {
		return users[i].Nickname < users[j].Nickname
	})
	return users
}

func (c *ChannelState) snapshot() ChannelState {
	res := *c
	res.Modes = make(map[byte]string, len(c.Modes))
	for k, v := range c.Modes {
		res.Modes[k] = v
	}
	if c.Topic.User != nil {
		u := *c.Topic.User
		res.Topic.User = &u
	}
	res.users = c.users.clone(func(u *ChannelUser) *ChannelUser {
		cu := *u
		return &cu
	})
	return res
}

// KnownUser is a user sharing a channel with the local user, or the local
// user itself.
type KnownUser struct {
	Details  User
	Channels []string
}

type knownUser struct {
	details  User
	channels caseMap[struct{}]
}

func (u *knownUser) snapshot() KnownUser {
	res := KnownUser{Details: u.details}
	u.channels.ForEach(func(name string, _ struct{}) {
		res.Channels = append(res.Channels, name)
	})
	sort.Strings(res.Channels)
	return res
}
