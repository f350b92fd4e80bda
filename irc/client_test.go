package irc

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testTimeout = 5 * time.Second

type fakeTransport struct {
	connectErr error
	sent       chan string

	mu     sync.Mutex
	lines  chan string
	closed bool
	err    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan string, 64)}
}

func (t *fakeTransport) Connect(ctx context.Context) (<-chan string, error) {
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = make(chan string, 64)
	t.closed = false
	t.err = nil
	return t.lines, nil
}

func (t *fakeTransport) SendLine(line string) error {
	t.sent <- line
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lines != nil && !t.closed {
		close(t.lines)
		t.closed = true
	}
	return nil
}

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) receive(lines ...string) {
	t.mu.Lock()
	ch := t.lines
	t.mu.Unlock()
	for _, line := range lines {
		ch <- line
	}
}

// fail ends the connection as if the server had dropped it.
func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.Disconnect()
}

func newTestClient(t *testing.T, transport Transport) (*Client, <-chan Event) {
	t.Helper()
	c := NewClient(ClientParams{
		SessionParams: SessionParams{Nickname: "me"},
	}, transport)
	events := make(chan Event, 256)
	c.Subscribe(func(ev Event) {
		events <- ev
	})
	return c, events
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for an event")
		return nil
	}
}

// waitEvent skips events until one of the type of expected.
func waitEvent[E Event](t *testing.T, events <-chan Event) E {
	t.Helper()
	for {
		if ev, ok := nextEvent(t, events).(E); ok {
			return ev
		}
	}
}

func expectSent(t *testing.T, transport *fakeTransport, expected ...string) {
	t.Helper()
	for _, want := range expected {
		select {
		case line := <-transport.sent:
			if line != want {
				t.Errorf("sent %q, want %q", line, want)
			}
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestClientConnectError(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = fmt.Errorf("connect: %w", syscall.ECONNREFUSED)
	c, events := newTestClient(t, transport)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, ok := nextEvent(t, events).(ServerConnecting); !ok {
		t.Errorf("expected ServerConnecting first")
	}
	ev, ok := nextEvent(t, events).(ServerConnectionError)
	if !ok {
		t.Fatalf("expected ServerConnectionError")
	}
	if ev.Kind != ConnectionErrorConnectionRefused {
		t.Errorf("kind = %v", ev.Kind)
	}
	if _, ok := nextEvent(t, events).(ServerDisconnected); !ok {
		t.Errorf("expected ServerDisconnected last")
	}
}

func TestClientSession(t *testing.T) {
	transport := newFakeTransport()
	c, events := newTestClient(t, transport)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent[ServerConnected](t, events)
	expectSent(t, transport, "CAP LS 302", "NICK me", "USER me 0 * me")

	if err := c.Connect(); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnecting", err)
	}

	transport.receive(
		":irc.example.org CAP * LS :",
		":irc.example.org 001 me :Welcome",
		":irc.example.org 422 me :MOTD File is missing",
	)
	expectSent(t, transport, "CAP END")
	waitEvent[ServerReady](t, events)
	if st := c.ServerState(); st.Status != StatusReady {
		t.Errorf("status = %v", st.Status)
	}

	c.Join("#chan", "")
	expectSent(t, transport, "JOIN #chan")
	transport.receive(":me!me@host JOIN #chan")
	waitEvent[ChannelJoined](t, events)
	if _, ok := c.Channel("#CHAN"); !ok {
		t.Errorf("channel not tracked")
	}

	transport.receive("PING :token")
	expectSent(t, transport, "PONG token")

	c.Disconnect()
	for {
		ev := nextEvent(t, events)
		if _, ok := ev.(ServerConnectionError); ok {
			t.Errorf("unexpected connection error after Disconnect")
		}
		if _, ok := ev.(ServerDisconnected); ok {
			break
		}
	}
	if len(c.Channels()) != 0 {
		t.Errorf("channels kept after disconnection")
	}
	if st := c.ServerState(); st.Status != StatusConnecting {
		t.Errorf("status = %v after disconnection", st.Status)
	}

	if err := c.Connect(); err != nil {
		t.Errorf("Connect after disconnection: %v", err)
	}
	waitEvent[ServerConnected](t, events)
	c.Disconnect()
	waitEvent[ServerDisconnected](t, events)
}

func TestClientSendLabeled(t *testing.T) {
	transport := newFakeTransport()
	c, events := newTestClient(t, transport)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectSent(t, transport, "CAP LS 302", "NICK me", "USER me 0 * me")

	if label := c.SendLabeled(NewMessage("WHO", "#chan")); label != "" {
		t.Errorf("got label %q without labeled-response", label)
	}
	expectSent(t, transport, "WHO #chan")

	transport.receive(":irc.example.org CAP * LS :labeled-response")
	expectSent(t, transport, "CAP REQ labeled-response")
	transport.receive(":irc.example.org CAP * ACK :labeled-response")
	waitEvent[ServerCapabilitiesAcknowledged](t, events)
	expectSent(t, transport, "CAP END")

	label := c.SendLabeled(NewMessage("WHO", "#chan"))
	if _, err := uuid.Parse(label); err != nil {
		t.Fatalf("label %q is not a UUID: %v", label, err)
	}
	expectSent(t, transport, "@label="+label+" WHO #chan")

	c.Disconnect()
	waitEvent[ServerDisconnected](t, events)
}

func TestClientConnectionLost(t *testing.T) {
	transport := newFakeTransport()
	c, events := newTestClient(t, transport)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent[ServerConnected](t, events)
	transport.fail(syscall.ECONNRESET)

	ev := waitEvent[ServerConnectionError](t, events)
	if ev.Kind != ConnectionErrorConnectionReset {
		t.Errorf("kind = %v", ev.Kind)
	}
	waitEvent[ServerDisconnected](t, events)
}

func TestRedact(t *testing.T) {
	tests := []struct {
		line, expected string
	}{
		{"PASS hunter2", "PASS <removed>"},
		{"OPER admin hunter2", "OPER admin <removed>"},
		{"AUTHENTICATE PLAIN", "AUTHENTICATE PLAIN"},
		{"AUTHENTICATE AHVzZXIAcGFzcw==", "AUTHENTICATE <removed>"},
		{"AUTHENTICATE +", "AUTHENTICATE +"},
		{"PRIVMSG #chan :PASS hunter2", "PRIVMSG #chan :PASS hunter2"},
	}
	for _, test := range tests {
		if got := redact(test.line); got != test.expected {
			t.Errorf("redact(%q) = %q, want %q", test.line, got, test.expected)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err      error
		expected ConnectionError
	}{
		{&net.DNSError{Err: "no such host", Name: "irc.invalid", IsNotFound: true}, ConnectionErrorUnresolvableAddress},
		{fmt.Errorf("tls handshake: %w", x509.UnknownAuthorityError{}), ConnectionErrorBadTLSCertificate},
		{&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, ConnectionErrorConnectionRefused},
		{io.EOF, ConnectionErrorConnectionReset},
		{fmt.Errorf("connect: %w", context.DeadlineExceeded), ConnectionErrorTimeout},
		{errors.New("something else"), ConnectionErrorUnknown},
	}
	for _, test := range tests {
		if got := classifyError(test.err); got != test.expected {
			t.Errorf("classifyError(%v) = %v, want %v", test.err, got, test.expected)
		}
	}
}
