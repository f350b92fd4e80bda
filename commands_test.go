package kouhai

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"git.sr.ht/~delthas/kouhai/irc"
)

// fakeClient records the messages the application sends.
type fakeClient struct {
	status   irc.ServerStatus
	sent     []string
	channels map[string]irc.ChannelState
	caps     map[string]bool
}

func (c *fakeClient) send(format string, v ...interface{}) {
	c.sent = append(c.sent, fmt.Sprintf(format, v...))
}

func (c *fakeClient) Connect() error                 { return nil }
func (c *fakeClient) Disconnect()                    {}
func (c *fakeClient) Subscribe(f func(ev irc.Event)) {}
func (c *fakeClient) Send(line string)               { c.send("%s", line) }
func (c *fakeClient) SendLabeled(msg irc.Message) string {
	var label string
	if c.caps["labeled-response"] {
		label = "l1"
		msg = msg.WithTag("label", label)
	}
	c.send("%s", msg.String())
	return label
}
func (c *fakeClient) ServerState() irc.ServerState {
	return irc.ServerState{Status: c.status, Features: irc.ServerFeatureMap{}}
}
func (c *fakeClient) Channel(name string) (irc.ChannelState, bool) {
	ch, ok := c.channels[strings.ToLower(name)]
	return ch, ok
}
func (c *fakeClient) Nick() string                   { return "me" }
func (c *fakeClient) IsChannel(name string) bool     { return strings.HasPrefix(name, "#") }
func (c *fakeClient) HasCapability(name string) bool { return c.caps[name] }
func (c *fakeClient) Join(channel, key string)       { c.send("JOIN %s %s", channel, key) }
func (c *fakeClient) Part(channel, reason string)    { c.send("PART %s %s", channel, reason) }
func (c *fakeClient) PrivMsg(target, content string) { c.send("PRIVMSG %s %s", target, content) }
func (c *fakeClient) Notice(target, content string)  { c.send("NOTICE %s %s", target, content) }
func (c *fakeClient) Action(target, content string)  { c.send("ACTION %s %s", target, content) }
func (c *fakeClient) ChangeNick(nick string)         { c.send("NICK %s", nick) }
func (c *fakeClient) ChangeTopic(channel, topic string) {
	c.send("TOPIC %s %s", channel, topic)
}
func (c *fakeClient) ChangeMode(target, flags string, args []string) {
	c.send("MODE %s %s %q", target, flags, args)
}
func (c *fakeClient) Quit(reason string)          { c.send("QUIT %s", reason) }
func (c *fakeClient) Away(message string)         { c.send("AWAY %s", message) }
func (c *fakeClient) Invite(nick, channel string) { c.send("INVITE %s %s", nick, channel) }
func (c *fakeClient) Kick(nick, channel, comment string) {
	c.send("KICK %s %s %s", nick, channel, comment)
}
func (c *fakeClient) Names(channel string) { c.send("NAMES %s", channel) }

func newTestApp() (*App, *fakeClient, *bytes.Buffer) {
	c := &fakeClient{status: irc.StatusReady, caps: map[string]bool{}}
	var out bytes.Buffer
	return newApp(Config{Addr: "irc.example.org"}, c, &out), c, &out
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input     string
		command   string
		args      string
		isCommand bool
	}{
		{"hello", "", "hello", false},
		{"//slash", "", "/slash", false},
		{"/join #chan", "JOIN", "#chan", true},
		{"/msg   nick  hi there", "MSG", "nick  hi there", true},
		{"/", "", "", true},
	}
	for _, test := range tests {
		command, args, isCommand := parseCommand(test.input)
		if command != test.command || args != test.args || isCommand != test.isCommand {
			t.Errorf("parseCommand(%q) = %q, %q, %v", test.input, command, args, isCommand)
		}
	}
}

func TestFieldsN(t *testing.T) {
	tests := []struct {
		s        string
		n        int
		expected []string
	}{
		{"", 2, nil},
		{"  a  ", 2, []string{"a"}},
		{"a b c", 1, []string{"a b c"}},
		{"a  b c", 2, []string{"a", "b c"}},
		{"a b  c d", maxArgsInfinite, []string{"a", "b", "c", "d"}},
	}
	for _, test := range tests {
		if got := fieldsN(test.s, test.n); !reflect.DeepEqual(got, test.expected) {
			t.Errorf("fieldsN(%q, %d) = %q, want %q", test.s, test.n, got, test.expected)
		}
	}
}

func TestHandleInput(t *testing.T) {
	app, c, out := newTestApp()

	inputs := []string{
		"/join #chan,#other key",
		"hello everyone",
		"/me waves",
		"/msg friend hi there",
		"back to friend",
		"/nick newnick",
		"/mode #chan +o friend",
		"/kick friend #chan you are mean",
		"/invite friend #chan",
		"/part #chan bye",
		"/away",
		"/back",
		"/quote PRIVMSG #chan :raw",
		"/notice friend psst",
	}
	for _, input := range inputs {
		if err := app.handleInput(input); err != nil {
			t.Errorf("%q: %v", input, err)
		}
	}
	expected := []string{
		"JOIN #chan,#other key",
		"PRIVMSG #chan hello everyone",
		"ACTION #chan waves",
		"PRIVMSG friend hi there",
		"PRIVMSG friend back to friend",
		"NICK newnick",
		`MODE #chan +o ["friend"]`,
		"KICK friend #chan you are mean",
		"INVITE friend #chan",
		"PART #chan bye",
		"AWAY Away",
		"AWAY ",
		"PRIVMSG #chan raw",
		"NOTICE friend psst",
	}
	if !reflect.DeepEqual(c.sent, expected) {
		t.Errorf("sent:\n%q\nwant:\n%q", c.sent, expected)
	}
	if !strings.Contains(out.String(), "#chan <me> hello everyone") {
		t.Errorf("own message not printed without echo-message:\n%s", out.String())
	}
}

func TestQuoteLabeled(t *testing.T) {
	app, c, out := newTestApp()
	c.caps["labeled-response"] = true
	if err := app.handleInput("/quote WHO #chan"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"@label=l1 WHO #chan"}
	if !reflect.DeepEqual(c.sent, expected) {
		t.Errorf("sent %q, want %q", c.sent, expected)
	}
	if !strings.Contains(out.String(), "Sent with label l1") {
		t.Errorf("label not printed:\n%s", out.String())
	}
}

func TestHandleInputErrors(t *testing.T) {
	app, c, _ := newTestApp()

	tests := []struct {
		input string
		err   string
	}{
		{"hello", errNoTarget.Error()},
		{"/", "lone slash"},
		{"/foobar", "does not exist"},
		{"/n x", "ambiguous"},
		{"/msg alone", "usage: MSG"},
		{"/topic", errNoChannel.Error()},
		{"/nick bad:nick", "illegal char"},
		{"/quote @", "invalid raw message"},
	}
	for _, test := range tests {
		err := app.handleInput(test.input)
		if err == nil || !strings.Contains(err.Error(), test.err) {
			t.Errorf("%q: got error %v, want %q", test.input, err, test.err)
		}
	}

	c.status = irc.StatusConnecting
	if err := app.handleInput("/join #chan"); err != errOffline {
		t.Errorf("offline join: got %v", err)
	}
	if err := app.handleInput("/help join"); err != nil {
		t.Errorf("offline help: %v", err)
	}
	if len(c.sent) != 0 {
		t.Errorf("unexpected messages %q", c.sent)
	}
}

func TestCommandPrefix(t *testing.T) {
	app, c, _ := newTestApp()
	if err := app.handleInput("/jo #chan"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := app.handleInput("/ME waves"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"JOIN #chan ", "ACTION #chan waves"}
	if !reflect.DeepEqual(c.sent, expected) {
		t.Errorf("sent %q, want %q", c.sent, expected)
	}
}
