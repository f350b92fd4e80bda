package irc

import (
	"sort"
	"strings"

	"github.com/rivo/uniseg"
)

// Logger receives diagnostics about malformed or unexpected input.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// MessageWriter receives the messages a session wants to send.
// WriteMessage must not block.
type MessageWriter interface {
	WriteMessage(msg Message)
}

type SessionParams struct {
	Nickname string
	Username string // defaults to Nickname
	RealName string // defaults to Nickname
	Password string // sent with PASS, if set

	// SASL lists the mechanisms to try. SASL is not attempted if empty.
	SASL []SASLMechanism

	Logger Logger
}

// Session is the protocol state of one connection. It is not safe for
// concurrent use: Client serializes access to it.
type Session struct {
	out      MessageWriter
	logger   Logger
	params   SessionParams
	pipeline Pipeline

	server   ServerState
	channels caseMap[*ChannelState]
	users    caseMap[*knownUser]
}

func NewSession(out MessageWriter, params SessionParams) *Session {
	if params.Username == "" {
		params.Username = params.Nickname
	}
	if params.RealName == "" {
		params.RealName = params.Nickname
	}
	logger := params.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	s := &Session{
		out:      out,
		logger:   logger,
		params:   params,
		pipeline: DefaultPipeline,
	}
	s.Reset()
	return s
}

// Reset forgets everything learnt from the server, including SASL and
// capability negotiation progress.
func (s *Session) Reset() {
	s.server = newServerState(s.params.Nickname, s.params.SASL)
	s.channels = newCaseMap[*ChannelState](s.casemap)
	s.users = newCaseMap[*knownUser](s.casemap)
}

// Register starts the registration of a new connection.
func (s *Session) Register() {
	s.send(NewMessage("CAP", "LS", "302"))
	if s.params.Password != "" {
		s.send(NewMessage("PASS", s.params.Password))
	}
	s.send(NewMessage("NICK", s.params.Nickname))
	s.send(NewMessage("USER", s.params.Username, "0", "*", s.params.RealName))
}

// HandleLine parses a line received from the server and returns the
// resulting events. Malformed lines are logged and produce no event.
func (s *Session) HandleLine(line string) []Event {
	msg, err := ParseMessage(line)
	if err != nil {
		if err != errEmptyMessage {
			s.logger.Printf("failed to parse %q: %v", line, err)
		}
		return nil
	}
	return s.HandleMessage(msg)
}

func (s *Session) HandleMessage(msg Message) []Event {
	evs, err := processMessage(msg)
	if err != nil {
		s.logger.Printf("invalid %s message: %v", msg.Command, err)
		return nil
	}
	var out []Event
	for _, ev := range evs {
		out = append(out, s.Emit(ev)...)
	}
	return out
}

// Emit runs ev through the pipeline.
func (s *Session) Emit(ev Event) []Event {
	return s.pipeline.Run(s, ev)
}

func (s *Session) send(msg Message) {
	s.out.WriteMessage(msg)
}

func (s *Session) casemap() CaseMapping {
	return s.server.Features.CaseMapping()
}

func (s *Session) Casemap(name string) string {
	return s.casemap().Fold(name)
}

func (s *Session) Nick() string {
	return s.server.LocalNickname
}

func (s *Session) IsMe(nick string) bool {
	return s.casemap().Equivalent(nick, s.server.LocalNickname)
}

func (s *Session) IsLocalUser(u User) bool {
	return s.IsMe(u.Nickname)
}

// IsChannel reports whether name starts with one of the CHANTYPES.
func (s *Session) IsChannel(name string) bool {
	return name != "" && strings.IndexByte(s.server.Features.ChannelTypes(), name[0]) >= 0
}

func (s *Session) HasCapability(capability string) bool {
	_, ok := s.server.Capabilities.Enabled[capability]
	return ok
}

func (s *Session) ServerState() ServerState {
	return s.server.snapshot()
}

func (s *Session) Channel(name string) (ChannelState, bool) {
	c, ok := s.channels.Get(name)
	if !ok {
		return ChannelState{}, false
	}
	return c.snapshot(), true
}

// Channels returns the joined channels sorted by name.
func (s *Session) Channels() []ChannelState {
	channels := make([]ChannelState, 0, s.channels.Len())
	s.channels.ForEach(func(_ string, c *ChannelState) {
		channels = append(channels, c.snapshot())
	})
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})
	return channels
}

func (s *Session) User(nick string) (KnownUser, bool) {
	u, ok := s.users.Get(nick)
	if !ok {
		return KnownUser{}, false
	}
	return u.snapshot(), true
}

// Users returns the known users sorted by nickname.
func (s *Session) Users() []KnownUser {
	users := make([]KnownUser, 0, s.users.Len())
	s.users.ForEach(func(_ string, u *knownUser) {
		users = append(users, u.snapshot())
	})
	sort.Slice(users, func(i, j int) bool {
		return users[i].Details.Nickname < users[j].Details.Nickname
	})
	return users
}

func (s *Session) Send(command string, params ...string) {
	s.send(NewMessage(command, params...))
}

func (s *Session) Join(channel, key string) {
	if key == "" {
		s.send(NewMessage("JOIN", channel))
	} else {
		s.send(NewMessage("JOIN", channel, key))
	}
}

func (s *Session) Part(channel, reason string) {
	if reason == "" {
		s.send(NewMessage("PART", channel))
	} else {
		s.send(NewMessage("PART", channel, reason))
	}
}

func (s *Session) ChangeTopic(channel, topic string) {
	s.send(NewMessage("TOPIC", channel, topic))
}

func (s *Session) Quit(reason string) {
	s.send(NewMessage("QUIT", reason))
}

func (s *Session) ChangeNick(nick string) {
	s.send(NewMessage("NICK", nick))
}

func (s *Session) ChangeMode(target, flags string, args []string) {
	if flags != "" {
		args = append([]string{target, flags}, args...)
	} else {
		args = append([]string{target}, args...)
	}
	s.send(NewMessage("MODE", args...))
}

func (s *Session) Away(message string) {
	if message != "" {
		s.send(NewMessage("AWAY", message))
	} else {
		s.send(NewMessage("AWAY"))
	}
}

func (s *Session) Invite(nick, channel string) {
	s.send(NewMessage("INVITE", nick, channel))
}

func (s *Session) Kick(nick, channel, comment string) {
	if comment == "" {
		s.send(NewMessage("KICK", channel, nick))
	} else {
		s.send(NewMessage("KICK", channel, nick, comment))
	}
}

func (s *Session) Names(channel string) {
	s.send(NewMessage("NAMES", channel))
}

// splitChunks splits s in chunks of at most chunkLen bytes, without
// breaking grapheme clusters.
func splitChunks(s string, chunkLen int) (chunks []string) {
	if chunkLen <= 0 || len(s) <= chunkLen {
		return []string{s}
	}

	b := 0
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cw := len(gr.Str())
		if n+cw > chunkLen && n > 0 {
			chunks = append(chunks, s[b:b+n])
			b += n
			n = cw
			continue
		}
		n += cw
	}
	if b < len(s) {
		chunks = append(chunks, s[b:])
	}
	return
}

// maxTextLen returns how many bytes of text fit in a command sent to
// target, once the server prepends our prefix.
func (s *Session) maxTextLen(command, target string) int {
	ident := s.params.Username
	hostLen := len("255.255.255.255")
	if u, ok := s.users.Get(s.server.LocalNickname); ok {
		if u.details.Ident != "" {
			ident = u.details.Ident
		}
		if u.details.Hostname != "" {
			hostLen = len(u.details.Hostname)
		}
	}
	return s.server.Features.LineLength() -
		len(":!@  :\r\n") -
		len(command) -
		len(s.server.LocalNickname) -
		len(ident) -
		hostLen -
		len(target)
}

func (s *Session) sendText(command, target, content string) {
	for _, chunk := range splitChunks(content, s.maxTextLen(command, target)) {
		s.send(NewMessage(command, target, chunk))
	}
}

func (s *Session) PrivMsg(target, content string) {
	s.sendText("PRIVMSG", target, content)
}

func (s *Session) Notice(target, content string) {
	s.sendText("NOTICE", target, content)
}

func (s *Session) Action(target, content string) {
	s.send(NewMessage("PRIVMSG", target, "\x01ACTION "+content+"\x01"))
}
