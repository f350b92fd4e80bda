package irc

import (
	"fmt"
	"reflect"
	"testing"
)

type testWriter struct {
	msgs []Message
}

func (w *testWriter) WriteMessage(msg Message) {
	w.msgs = append(w.msgs, msg)
}

// take returns the lines written since the last call.
func (w *testWriter) take() []string {
	lines := make([]string, len(w.msgs))
	for i, msg := range w.msgs {
		lines[i] = msg.String()
	}
	w.msgs = nil
	return lines
}

type testLogger struct {
	lines []string
}

func (l *testLogger) Printf(format string, v ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func newTestSession(params SessionParams) (*Session, *testWriter, *testLogger) {
	if params.Nickname == "" {
		params.Nickname = "me"
	}
	w := &testWriter{}
	l := &testLogger{}
	params.Logger = l
	s := NewSession(w, params)
	return s, w, l
}

func feed(s *Session, lines ...string) []Event {
	var evs []Event
	for _, line := range lines {
		evs = append(evs, s.HandleLine(line)...)
	}
	return evs
}

// register brings s to the ready state, without capabilities.
func register(t *testing.T, s *Session, w *testWriter) {
	t.Helper()
	s.Emit(ServerConnected{})
	s.Register()
	feed(s,
		":irc.example.org 001 me :Welcome",
		":irc.example.org 005 me CHANTYPES=# PREFIX=(ov)@+ :are supported",
	)
	if st := s.ServerState(); st.Status != StatusReady {
		t.Fatalf("status = %v, want ready", st.Status)
	}
	w.take()
}

func assertLines(t *testing.T, got []string, expected ...string) {
	t.Helper()
	if len(got) == 0 && len(expected) == 0 {
		return
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("sent lines:\n%q\nwant:\n%q", got, expected)
	}
}

func assertEventTypes(t *testing.T, evs []Event, expected ...Event) {
	t.Helper()
	if len(evs) != len(expected) {
		t.Errorf("got %d events (%#v), want %d", len(evs), evs, len(expected))
		return
	}
	for i := range evs {
		if reflect.TypeOf(evs[i]) != reflect.TypeOf(expected[i]) {
			t.Errorf("event #%d: got %T, want %T", i, evs[i], expected[i])
		}
	}
}

func countReady(evs []Event) int {
	n := 0
	for _, ev := range evs {
		if _, ok := ev.(ServerReady); ok {
			n++
		}
	}
	return n
}

func TestRegister(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{
		Nickname: "me",
		Username: "user",
		RealName: "Real Name",
		Password: "secret",
	})
	s.Register()
	assertLines(t, w.take(),
		"CAP LS 302",
		"PASS secret",
		"NICK me",
		"USER user 0 * :Real Name",
	)
}

func TestServerReady(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	var all []Event
	all = append(all, s.Emit(ServerConnected{})...)
	s.Register()
	w.take()

	all = append(all, feed(s, "CAP * LS :multi-prefix unknown-cap")...)
	assertLines(t, w.take(), "CAP REQ multi-prefix")

	all = append(all, feed(s, ":irc.example.org 001 me :Welcome")...)
	all = append(all, feed(s, ":irc.example.org 005 me CASEMAPPING=ascii :are supported")...)
	if st := s.ServerState(); st.Status != StatusNegotiating {
		t.Fatalf("status = %v before the end of negotiation", st.Status)
	}

	last := feed(s, ":irc.example.org CAP me ACK :multi-prefix")
	assertLines(t, w.take(), "CAP END")
	assertEventTypes(t, last,
		ServerReady{},
		ServerCapabilitiesAcknowledged{},
		ServerCapabilitiesFinished{},
	)
	all = append(all, last...)
	all = append(all, feed(s, ":irc.example.org 376 me :End of MOTD")...)

	if n := countReady(all); n != 1 {
		t.Errorf("got %d ServerReady events, want 1", n)
	}
	st := s.ServerState()
	if st.Status != StatusReady || st.LocalNickname != "me" || st.ServerName != "irc.example.org" {
		t.Errorf("unexpected server state %+v", st)
	}
	if !s.HasCapability("multi-prefix") {
		t.Errorf("multi-prefix not enabled")
	}
}

func TestServerReadyWithoutCapabilities(t *testing.T) {
	s, _, _ := newTestSession(SessionParams{})
	s.Emit(ServerConnected{})
	evs := feed(s,
		":irc.example.org 001 me :Welcome",
		":irc.example.org 375 me :- MOTD -",
		":irc.example.org 376 me :End of MOTD",
	)
	assertEventTypes(t, evs,
		ServerWelcome{},
		MotdLineReceived{},
		ServerReady{},
		MotdFinished{},
	)
}

func TestNicknameInUse(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{Nickname: "me"})
	s.Emit(ServerConnected{})
	evs := feed(s, ":irc.example.org 433 * me :Nickname is already in use")
	assertEventTypes(t, evs, NicknameChangeFailed{})
	if ev := evs[0].(NicknameChangeFailed); ev.Cause != AlreadyInUse {
		t.Errorf("cause = %v", ev.Cause)
	}
	assertLines(t, w.take(), "NICK me_")

	feed(s, ":irc.example.org 001 me_ :Welcome")
	if nick := s.Nick(); nick != "me_" {
		t.Errorf("nick = %q", nick)
	}
	feed(s, ":irc.example.org 433 me_ other :Nickname is already in use")
	assertLines(t, w.take())
}

func TestCapabilitiesMultiline(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	s.Emit(ServerConnected{})

	evs := feed(s, ":irc.example.org CAP * LS * :batch server-time")
	if len(evs) != 0 {
		t.Errorf("expected no event for a continued LS, got %#v", evs)
	}
	assertLines(t, w.take())

	evs = feed(s, ":irc.example.org CAP * LS :away-notify sasl=PLAIN")
	assertEventTypes(t, evs, ServerCapabilitiesReceived{})
	caps := evs[0].(ServerCapabilitiesReceived).Capabilities
	expected := map[string]string{
		"batch":       "",
		"server-time": "",
		"away-notify": "",
		"sasl":        "PLAIN",
	}
	if !reflect.DeepEqual(caps, expected) {
		t.Errorf("capabilities = %v", caps)
	}
	// sasl is not requested without mechanisms
	assertLines(t, w.take(), "CAP REQ :away-notify batch server-time")

	evs = feed(s, ":irc.example.org CAP me NAK :away-notify batch server-time")
	assertEventTypes(t, evs, ServerCapabilitiesRejected{}, ServerCapabilitiesFinished{})
	assertLines(t, w.take(), "CAP END")

	evs = feed(s, ":irc.example.org CAP me NEW :chghost")
	assertEventTypes(t, evs, ServerCapabilitiesAdded{})
	assertLines(t, w.take(), "CAP REQ chghost")
	feed(s, ":irc.example.org CAP me ACK :chghost")
	if !s.HasCapability("chghost") {
		t.Errorf("chghost not enabled")
	}
	feed(s, ":irc.example.org CAP me DEL :chghost")
	if s.HasCapability("chghost") {
		t.Errorf("chghost still enabled")
	}
}

func TestInvite(t *testing.T) {
	s, _, l := newTestSession(SessionParams{})
	evs := feed(s, ":acidburn!libby@root.localhost INVITE crashOverride #crashandburn")
	expected := []Event{
		InviteReceived{
			EventMetadata: evs[0].Metadata(),
			User:          User{Nickname: "acidburn", Ident: "libby", Hostname: "root.localhost"},
			Target:        "crashOverride",
			Channel:       "#crashandburn",
		},
	}
	if !reflect.DeepEqual(evs, expected) {
		t.Errorf("got %#v, want %#v", evs, expected)
	}

	evs = feed(s, "INVITE crashOverride #crashandburn")
	if len(evs) != 0 {
		t.Errorf("expected no event without a source, got %#v", evs)
	}
	if len(l.lines) != 1 {
		t.Errorf("expected 1 diagnostic, got %q", l.lines)
	}
}

func TestMalformedPrivMsg(t *testing.T) {
	s, _, l := newTestSession(SessionParams{})
	evs := feed(s, ":a!b@c PRIVMSG")
	if len(evs) != 0 {
		t.Errorf("expected no event, got %#v", evs)
	}
	if len(l.lines) != 1 {
		t.Errorf("expected 1 diagnostic, got %q", l.lines)
	}

	evs = feed(s, "", ":unknown!u@h FOOBAR x y")
	if len(evs) != 0 || len(l.lines) != 1 {
		t.Errorf("empty lines and unknown commands must be silent, got %#v %q", evs, l.lines)
	}
}

func TestPrivMsgCTCP(t *testing.T) {
	s, _, _ := newTestSession(SessionParams{})
	evs := feed(s,
		":a!b@c PRIVMSG #chan :\x01ACTION waves\x01",
		":a!b@c PRIVMSG me :\x01VERSION\x01",
		":a!b@c NOTICE me :\x01VERSION kouhai\x01",
		":a!b@c PRIVMSG #chan :see https://example.org/x",
		"NOTICE * :*** Looking up your hostname",
	)
	assertEventTypes(t, evs,
		ActionReceived{},
		CtcpReceived{},
		CtcpReplyReceived{},
		MessageReceived{},
		NoticeReceived{},
	)
	if ev := evs[0].(ActionReceived); ev.Action != "waves" || ev.Target != "#chan" {
		t.Errorf("unexpected action %+v", ev)
	}
	if ev := evs[1].(CtcpReceived); ev.Type != "VERSION" || ev.Content != "" {
		t.Errorf("unexpected CTCP %+v", ev)
	}
	if ev := evs[2].(CtcpReplyReceived); ev.Type != "VERSION" || ev.Content != "kouhai" {
		t.Errorf("unexpected CTCP reply %+v", ev)
	}
	if links := evs[3].(MessageReceived).Links(); !reflect.DeepEqual(links, []string{"https://example.org/x"}) {
		t.Errorf("links = %q", links)
	}
	if ev := evs[4].(NoticeReceived); ev.User.Nickname != "" || ev.Target != "*" {
		t.Errorf("unexpected notice %+v", ev)
	}
}

func TestServerTime(t *testing.T) {
	s, _, _ := newTestSession(SessionParams{})
	evs := feed(s, "@time=2021-05-06T07:08:09.000Z;msgid=abc :a!b@c PRIVMSG #chan :hi")
	meta := evs[0].Metadata()
	if meta.Time.UTC().Format("2006-01-02T15:04:05") != "2021-05-06T07:08:09" {
		t.Errorf("time = %v", meta.Time)
	}
	if meta.MessageID != "abc" {
		t.Errorf("msgid = %q", meta.MessageID)
	}
}

func TestJoinIdempotent(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)

	feed(s,
		":me!u@h JOIN #chan",
		":me!u@h JOIN #chan",
		":other!o@h JOIN #chan",
		":other!o@h JOIN #CHAN",
	)
	c, ok := s.Channel("#chan")
	if !ok {
		t.Fatalf("channel not tracked")
	}
	users := c.Users()
	if len(users) != 2 || users[0].Nickname != "me" || users[1].Nickname != "other" {
		t.Errorf("members = %+v", users)
	}
	u, ok := s.User("other")
	if !ok || !reflect.DeepEqual(u.Channels, []string{"#chan"}) {
		t.Errorf("user = %+v, %v", u, ok)
	}
}

func TestExtendedJoin(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	evs := feed(s,
		":me!u@h JOIN #chan * :My Name",
		":other!o@h JOIN #chan account :Other Name",
	)
	if ev := evs[0].(ChannelJoined); ev.Account != "" || ev.RealName != "My Name" {
		t.Errorf("unexpected join %+v", ev)
	}
	u, _ := s.User("other")
	if u.Details.Account != "account" || u.Details.RealName != "Other Name" || u.Details.Ident != "o" {
		t.Errorf("unexpected user %+v", u.Details)
	}

	feed(s, ":other!o@h ACCOUNT *", ":other!o@h CHGHOST newident newhost", ":other!o@h AWAY :lunch")
	u, _ = s.User("other")
	expected := User{
		Nickname:    "other",
		Ident:       "newident",
		Hostname:    "newhost",
		RealName:    "Other Name",
		AwayMessage: "lunch",
	}
	if u.Details != expected {
		t.Errorf("user = %+v, want %+v", u.Details, expected)
	}
}

func TestQuitAndNickFanOut(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	feed(s,
		":me!u@h JOIN #b",
		":me!u@h JOIN #a",
		":other!o@h JOIN #a",
		":other!o@h JOIN #b",
	)

	evs := feed(s, ":other!o@h NICK renamed")
	assertEventTypes(t, evs, ChannelNickChanged{}, ChannelNickChanged{}, UserNickChanged{})
	if evs[0].(ChannelNickChanged).Channel != "#a" || evs[1].(ChannelNickChanged).Channel != "#b" {
		t.Errorf("unexpected channels %+v", evs)
	}
	if _, ok := s.User("other"); ok {
		t.Errorf("old nickname still known")
	}
	c, _ := s.Channel("#a")
	if _, ok := c.User("RENAMED"); !ok {
		t.Errorf("new nickname not in channel")
	}

	evs = feed(s, ":renamed!o@h QUIT :bye")
	assertEventTypes(t, evs, ChannelQuit{}, ChannelQuit{}, UserQuit{})
	if _, ok := s.User("renamed"); ok {
		t.Errorf("quitting user still known")
	}
	if c, _ := s.Channel("#b"); len(c.Users()) != 1 {
		t.Errorf("members = %+v", c.Users())
	}

	feed(s, ":me!u@h NICK newme")
	if s.Nick() != "newme" || !s.IsLocalUser(User{Nickname: "NEWME"}) {
		t.Errorf("local nickname not updated: %q", s.Nick())
	}
}

func TestPartAndKick(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	feed(s,
		":me!u@h JOIN #a",
		":me!u@h JOIN #b",
		":other!o@h JOIN #a",
		":other!o@h JOIN #b",
		":third!t@h JOIN #a",
	)

	feed(s, ":other!o@h PART #a :later")
	if u, ok := s.User("other"); !ok || !reflect.DeepEqual(u.Channels, []string{"#b"}) {
		t.Errorf("user = %+v, %v", u, ok)
	}
	feed(s, ":me!u@h KICK #b other :out")
	if _, ok := s.User("other"); ok {
		t.Errorf("user sharing no channel still known")
	}

	feed(s, ":me!u@h PART #a")
	if _, ok := s.Channel("#a"); ok {
		t.Errorf("parted channel still tracked")
	}
	if _, ok := s.User("third"); ok {
		t.Errorf("user of a parted channel still known")
	}
	if _, ok := s.User("me"); !ok {
		t.Errorf("local user forgotten")
	}
}

func TestNamesAndModes(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	feed(s,
		":me!u@h JOIN #chan",
		":stale!s@h JOIN #chan",
		":irc.example.org 353 me = #chan :@me +voiced plain",
		":irc.example.org 366 me #chan :End of /NAMES list.",
	)
	c, _ := s.Channel("#chan")
	users := c.Users()
	expected := []ChannelUser{
		{Nickname: "me", Modes: "o"},
		{Nickname: "plain"},
		{Nickname: "voiced", Modes: "v"},
	}
	if !reflect.DeepEqual(users, expected) {
		t.Errorf("members = %+v", users)
	}
	if _, ok := s.User("stale"); ok {
		t.Errorf("user missing from NAMES still known")
	}

	feed(s, ":me!u@h MODE #chan +ov-v+kb plain plain voiced key *!*@h")
	c, _ = s.Channel("#chan")
	if m, _ := c.User("plain"); m.Modes != "ov" {
		t.Errorf("plain modes = %q", m.Modes)
	}
	if m, _ := c.User("voiced"); m.Modes != "" {
		t.Errorf("voiced modes = %q", m.Modes)
	}
	if !reflect.DeepEqual(c.Modes, map[byte]string{'k': "key"}) {
		t.Errorf("channel modes = %v", c.Modes)
	}

	feed(s, ":irc.example.org 324 me #chan +nt")
	c, _ = s.Channel("#chan")
	if !reflect.DeepEqual(c.Modes, map[byte]string{'n': "", 't': ""}) {
		t.Errorf("channel modes = %v", c.Modes)
	}
}

func TestTopic(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	feed(s,
		":me!u@h JOIN #chan",
		":irc.example.org 332 me #chan :old topic",
		":irc.example.org 333 me #chan setter!s@h 1600000000",
	)
	c, _ := s.Channel("#chan")
	if c.Topic.Topic != "old topic" || c.Topic.User == nil || c.Topic.User.Nickname != "setter" || c.Topic.Time.Unix() != 1600000000 {
		t.Errorf("topic = %+v", c.Topic)
	}

	feed(s, ":other!o@h TOPIC #chan :new topic")
	c, _ = s.Channel("#chan")
	if c.Topic.Topic != "new topic" || c.Topic.User.Nickname != "other" {
		t.Errorf("topic = %+v", c.Topic)
	}
}

func TestBatch(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	feed(s, ":me!u@h JOIN #chan", ":a!a@h JOIN #chan", ":b!b@h JOIN #chan")

	evs := feed(s,
		":irc.example.org BATCH +outer netsplit irc.a irc.b",
		"@batch=outer :a!a@h QUIT :irc.a irc.b",
		"@batch=outer :irc.example.org BATCH +inner example",
		"@batch=inner :b!b@h QUIT :irc.a irc.b",
		":irc.example.org BATCH -inner",
	)
	if len(evs) != 0 {
		t.Fatalf("events delivered before the end of the batch: %#v", evs)
	}
	if _, ok := s.User("a"); ok {
		t.Errorf("state not updated for batched events")
	}

	evs = feed(s, ":irc.example.org BATCH -outer")
	assertEventTypes(t, evs, BatchReceived{})
	b := evs[0].(BatchReceived)
	if b.Type != "netsplit" || !reflect.DeepEqual(b.Params, []string{"irc.a", "irc.b"}) {
		t.Errorf("unexpected batch %+v", b)
	}
	assertEventTypes(t, b.Events, ChannelQuit{}, UserQuit{}, BatchReceived{})
	inner := b.Events[2].(BatchReceived)
	assertEventTypes(t, inner.Events, ChannelQuit{}, UserQuit{})
}

func TestPing(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	evs := feed(s, "PING :1234")
	assertEventTypes(t, evs, PingReceived{})
	assertLines(t, w.take(), "PONG 1234")
}

func TestReset(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{SASL: []SASLMechanism{SASLPlain("u", "p")}})
	register(t, s, w)
	feed(s, ":me!u@h JOIN #chan")
	s.Reset()
	st := s.ServerState()
	if st.Status != StatusConnecting || st.ReceivedWelcome || len(s.Channels()) != 0 || len(s.Users()) != 0 {
		t.Errorf("state not reset: %+v", st)
	}
	if st.SASL.State != SASLIdle || len(st.SASL.Mechanisms) != 1 {
		t.Errorf("SASL state not reset: %+v", st.SASL)
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		s        string
		n        int
		expected []string
	}{
		{"hello", 10, []string{"hello"}},
		{"hello world", 5, []string{"hello", " worl", "d"}},
		{"ééé", 3, []string{"é", "é", "é"}},
		{"a👍🏽b", 5, []string{"a", "👍🏽", "b"}},
	}
	for _, test := range tests {
		if got := splitChunks(test.s, test.n); !reflect.DeepEqual(got, test.expected) {
			t.Errorf("splitChunks(%q, %d) = %q, want %q", test.s, test.n, got, test.expected)
		}
	}
}

func TestPrivMsgSplit(t *testing.T) {
	s, w, _ := newTestSession(SessionParams{})
	register(t, s, w)
	feed(s, ":irc.example.org 005 me LINELEN=100 :are supported")
	w.take()

	long := ""
	for i := 0; i < 10; i++ {
		long += "0123456789"
	}
	s.PrivMsg("#chan", long)
	lines := w.take()
	if len(lines) < 2 {
		t.Fatalf("expected the message to be split, got %q", lines)
	}
	var joined string
	for _, line := range lines {
		msg, _ := ParseMessage(line)
		joined += msg.Params[1]
	}
	if joined != long {
		t.Errorf("chunks do not add up: %q", lines)
	}
}
