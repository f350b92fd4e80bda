package irc

import (
	"time"

	"mvdan.cc/xurls/v2"
)

// EventMetadata is attached to every event.
type EventMetadata struct {
	Time      time.Time
	BatchID   string // the batch this event belongs to, if any
	MessageID string // the msgid tag, if any
	Label     string // the labeled-response label, if any
}

func (m EventMetadata) Metadata() EventMetadata {
	return m
}

// Event is any of the event types declared in this file.
type Event interface {
	Metadata() EventMetadata
}

// SourcedEvent is an event caused by a specific user.
type SourcedEvent interface {
	Event
	Source() User
}

// TargetedEvent is an event aimed at a channel or nickname.
type TargetedEvent interface {
	Event
	EventTarget() string
}

func metadataOf(msg Message) EventMetadata {
	return EventMetadata{
		Time:      msg.TimeOrNow(),
		BatchID:   msg.Tags["batch"],
		MessageID: msg.Tags["msgid"],
		Label:     msg.Tags["label"],
	}
}

func now() EventMetadata {
	return EventMetadata{Time: timeNow()}
}

type ServerConnecting struct{ EventMetadata }

type ServerConnected struct{ EventMetadata }

type ServerDisconnected struct{ EventMetadata }

// ConnectionError is a coarse classification of transport failures.
type ConnectionError int

const (
	ConnectionErrorUnknown ConnectionError = iota
	ConnectionErrorUnresolvableAddress
	ConnectionErrorConnectionRefused
	ConnectionErrorTLSFailure
	ConnectionErrorBadTLSCertificate
	ConnectionErrorTimeout
	ConnectionErrorConnectionReset
)

func (e ConnectionError) String() string {
	switch e {
	case ConnectionErrorUnresolvableAddress:
		return "unresolvable address"
	case ConnectionErrorConnectionRefused:
		return "connection refused"
	case ConnectionErrorTLSFailure:
		return "TLS failure"
	case ConnectionErrorBadTLSCertificate:
		return "bad TLS certificate"
	case ConnectionErrorTimeout:
		return "timeout"
	case ConnectionErrorConnectionReset:
		return "connection reset"
	default:
		return "unknown error"
	}
}

type ServerConnectionError struct {
	EventMetadata
	Kind    ConnectionError
	Details string
}

// ServerReady is emitted once registration and negotiation are complete.
type ServerReady struct{ EventMetadata }

type ServerWelcome struct {
	EventMetadata
	Server    string
	LocalNick string
}

// ServerFeaturesUpdated carries ISUPPORT features. A nil value resets the
// feature to its default.
type ServerFeaturesUpdated struct {
	EventMetadata
	Features ServerFeatureMap
}

type PingReceived struct {
	EventMetadata
	Nonce string
}

type ServerErrorReceived struct {
	EventMetadata
	Message string
}

type Severity int

const (
	SeverityNote Severity = iota
	SeverityWarn
	SeverityFail
)

// StandardReplyReceived is a FAIL, WARN or NOTE message.
type StandardReplyReceived struct {
	EventMetadata
	Severity    Severity
	Command     string
	Code        string
	Context     []string
	Description string
}

type ChannelJoined struct {
	EventMetadata
	User     User
	Channel  string
	Account  string // from extended-join, "" if unknown or logged out
	RealName string // from extended-join
}

type ChannelParted struct {
	EventMetadata
	User    User
	Channel string
	Reason  string
}

type ChannelUserKicked struct {
	EventMetadata
	User    User
	Channel string
	Victim  string
	Reason  string
}

// ChannelQuit is synthesized for each channel a quitting user was in.
type ChannelQuit struct {
	EventMetadata
	User    User
	Channel string
	Reason  string
}

// ChannelNickChanged is synthesized for each channel a renamed user is in.
type ChannelNickChanged struct {
	EventMetadata
	User    User
	Channel string
	NewNick string
}

type ChannelNamesReceived struct {
	EventMetadata
	Channel string
	Names   []string
}

type ChannelNamesFinished struct {
	EventMetadata
	Channel string
}

// ChannelTopicDiscovered is sent on join or TOPIC queries. Topic is "" if
// the channel has none.
type ChannelTopicDiscovered struct {
	EventMetadata
	Channel string
	Topic   string
}

type ChannelTopicMetadataDiscovered struct {
	EventMetadata
	Channel string
	User    User
	SetTime time.Time
}

type ChannelTopicChanged struct {
	EventMetadata
	User    User
	Channel string
	Topic   string
}

type MessageReceived struct {
	EventMetadata
	User    User
	Target  string
	Message string
}

// Links returns the URLs found in the message.
func (e MessageReceived) Links() []string {
	return xurls.Relaxed().FindAllString(e.Message, -1)
}

type NoticeReceived struct {
	EventMetadata
	User    User
	Target  string
	Message string
}

func (e NoticeReceived) Links() []string {
	return xurls.Relaxed().FindAllString(e.Message, -1)
}

type ActionReceived struct {
	EventMetadata
	User   User
	Target string
	Action string
}

type CtcpReceived struct {
	EventMetadata
	User    User
	Target  string
	Type    string
	Content string
}

type CtcpReplyReceived struct {
	EventMetadata
	User    User
	Target  string
	Type    string
	Content string
}

type UserQuit struct {
	EventMetadata
	User   User
	Reason string
}

type UserNickChanged struct {
	EventMetadata
	User    User
	NewNick string
}

type UserHostChanged struct {
	EventMetadata
	User     User
	NewIdent string
	NewHost  string
}

// UserAccountChanged is sent on ACCOUNT and RPL_LOGGEDIN/RPL_LOGGEDOUT.
// NewAccount is "" when the user logged out.
type UserAccountChanged struct {
	EventMetadata
	User       User
	NewAccount string
}

// UserAwayChanged is sent on AWAY (away-notify). Message is "" when the
// user is back.
type UserAwayChanged struct {
	EventMetadata
	User    User
	Message string
}

type InviteReceived struct {
	EventMetadata
	User    User
	Target  string
	Channel string
}

type ServerCapabilitiesReceived struct {
	EventMetadata
	Capabilities map[string]string
	continued    bool
}

type ServerCapabilitiesAcknowledged struct {
	EventMetadata
	Capabilities map[string]bool // false for disabled capabilities
}

type ServerCapabilitiesRejected struct {
	EventMetadata
	Capabilities []string
}

type ServerCapabilitiesAdded struct {
	EventMetadata
	Capabilities map[string]string
}

type ServerCapabilitiesRemoved struct {
	EventMetadata
	Capabilities []string
}

// ServerCapabilitiesFinished is sent once capability negotiation has ended.
type ServerCapabilitiesFinished struct{ EventMetadata }

type MotdLineReceived struct {
	EventMetadata
	Line  string
	First bool
}

type MotdFinished struct {
	EventMetadata
	Missing bool
}

type ModeChanged struct {
	EventMetadata
	Target     string
	Modes      string
	Arguments  []string
	Discovered bool // whether this is a reply to a mode query
}

// AuthenticationMessage is a chunk of an AUTHENTICATE payload. Argument is
// "" for the empty "+" payload.
type AuthenticationMessage struct {
	EventMetadata
	Argument string
}

type SaslFinished struct {
	EventMetadata
	Success bool
}

type SaslMechanismNotAvailableError struct {
	EventMetadata
	Mechanisms []string
}

type BatchStarted struct {
	EventMetadata
	ReferenceID string
	BatchType   string
	Params      []string
}

type BatchFinished struct {
	EventMetadata
	ReferenceID string
}

// BatchReceived replaces all the events of a batch, in order.
type BatchReceived struct {
	EventMetadata
	Type   string
	Params []string
	Events []Event
}

type NicknameChangeError int

const (
	ErroneousNickname NicknameChangeError = iota
	AlreadyInUse
	Collision
	NoNicknameGiven
)

type NicknameChangeFailed struct {
	EventMetadata
	Cause NicknameChangeError
}

func (e ChannelJoined) Source() User                  { return e.User }
func (e ChannelParted) Source() User                  { return e.User }
func (e ChannelUserKicked) Source() User              { return e.User }
func (e ChannelQuit) Source() User                    { return e.User }
func (e ChannelNickChanged) Source() User             { return e.User }
func (e ChannelTopicChanged) Source() User            { return e.User }
func (e MessageReceived) Source() User                { return e.User }
func (e NoticeReceived) Source() User                 { return e.User }
func (e ActionReceived) Source() User                 { return e.User }
func (e CtcpReceived) Source() User                   { return e.User }
func (e CtcpReplyReceived) Source() User              { return e.User }
func (e UserQuit) Source() User                       { return e.User }
func (e UserNickChanged) Source() User                { return e.User }
func (e UserHostChanged) Source() User                { return e.User }
func (e UserAccountChanged) Source() User             { return e.User }
func (e UserAwayChanged) Source() User                { return e.User }
func (e InviteReceived) Source() User                 { return e.User }
func (e ChannelTopicMetadataDiscovered) Source() User { return e.User }

func (e ChannelJoined) EventTarget() string                  { return e.Channel }
func (e ChannelParted) EventTarget() string                  { return e.Channel }
func (e ChannelUserKicked) EventTarget() string              { return e.Channel }
func (e ChannelQuit) EventTarget() string                    { return e.Channel }
func (e ChannelNickChanged) EventTarget() string             { return e.Channel }
func (e ChannelNamesReceived) EventTarget() string           { return e.Channel }
func (e ChannelNamesFinished) EventTarget() string           { return e.Channel }
func (e ChannelTopicDiscovered) EventTarget() string         { return e.Channel }
func (e ChannelTopicMetadataDiscovered) EventTarget() string { return e.Channel }
func (e ChannelTopicChanged) EventTarget() string            { return e.Channel }
func (e MessageReceived) EventTarget() string                { return e.Target }
func (e NoticeReceived) EventTarget() string                 { return e.Target }
func (e ActionReceived) EventTarget() string                 { return e.Target }
func (e CtcpReceived) EventTarget() string                   { return e.Target }
func (e CtcpReplyReceived) EventTarget() string              { return e.Target }
func (e ModeChanged) EventTarget() string                    { return e.Target }
func (e InviteReceived) EventTarget() string                 { return e.Target }
