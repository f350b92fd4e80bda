package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/proxy"
	"golang.org/x/text/encoding"
)

// Transport carries lines between a Client and a server.
type Transport interface {
	// Connect opens the connection. The returned channel yields received
	// lines without their CRLF, and is closed when the connection ends.
	Connect(ctx context.Context) (<-chan string, error)
	SendLine(line string) error
	Disconnect() error
	// Err returns the error that ended the last connection, if any.
	Err() error
}

const (
	chanCapacity = 64
	maxLineLen   = 8191 + 512 // tags and message
	keepAlive    = 30 * time.Second
	maxRTT       = 10 * time.Second
	dialTimeout  = 10 * time.Second
)

// NetTransport is a Transport over TCP, optionally with TLS. It honors the
// proxy environment variables.
type NetTransport struct {
	Addr      string // host[:port]
	TLS       bool
	TLSConfig *tls.Config // may hold a client certificate for SASL EXTERNAL

	// Encoding decodes received lines which are not valid UTF-8. Invalid
	// lines are sanitized if nil.
	Encoding encoding.Encoding

	mu      sync.Mutex
	conn    net.Conn
	quit    chan struct{}
	err     error
	closing bool
	last    atomic.Value // time.Time of the last I/O
}

// address returns Addr with the default port added if needed.
func (t *NetTransport) address() string {
	addr := t.Addr
	colonIdx := strings.LastIndexByte(addr, ':')
	bracketIdx := strings.LastIndexByte(addr, ']')
	if colonIdx <= bracketIdx {
		// either colonIdx < 0, or the last colon is before a ']' (end
		// of IPv6 address). -> missing port
		if t.TLS {
			addr += ":6697"
		} else {
			addr += ":6667"
		}
	}
	return addr
}

func (t *NetTransport) dial(ctx context.Context) (net.Conn, error) {
	addr := t.address()
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &net.Dialer{
		Timeout: dialTimeout,
	}
	var conn net.Conn
	var err error
	if d, ok := proxy.FromEnvironmentUsing(dialer).(proxy.ContextDialer); ok {
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if t.TLS {
		var cfg *tls.Config
		if t.TLSConfig != nil {
			cfg = t.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName, _, _ = net.SplitHostPort(addr) // should succeed since the dial did.
		}
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{"irc"}
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}
	return conn, nil
}

func (t *NetTransport) Connect(ctx context.Context) (<-chan string, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}

	quit := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.quit = quit
	t.err = nil
	t.closing = false
	t.mu.Unlock()
	t.last.Store(time.Now())

	in := make(chan string, chanCapacity)
	done := make(chan struct{})
	go t.readLoop(conn, in, done, quit)
	go t.keepAliveLoop(conn, done)
	return in, nil
}

func (t *NetTransport) readLoop(conn net.Conn, in chan<- string, done chan<- struct{}, quit <-chan struct{}) {
	defer close(in)
	defer close(done)

	r := bufio.NewScanner(conn)
	r.Buffer(make([]byte, 4096), maxLineLen+2)
	conn.SetReadDeadline(time.Now().Add(keepAlive + maxRTT))
	for r.Scan() {
		now := time.Now()
		t.last.Store(now)
		conn.SetReadDeadline(now.Add(keepAlive + maxRTT))
		select {
		case in <- t.decode(r.Text()):
		case <-quit:
			return
		}
	}

	// a nil error means the server closed the connection
	err := r.Err()
	t.mu.Lock()
	if !t.closing {
		t.err = err
	}
	t.mu.Unlock()
	conn.Close()
}

func (t *NetTransport) decode(line string) string {
	if utf8.ValidString(line) {
		return line
	}
	if t.Encoding != nil {
		if decoded, err := t.Encoding.NewDecoder().String(line); err == nil {
			line = decoded
		}
	}
	return strings.ToValidUTF8(line, string([]rune{unicode.ReplacementChar}))
}

// keepAliveLoop pings the server when the connection is idle. The read
// deadline ends the connection if the server stops answering.
func (t *NetTransport) keepAliveLoop(conn net.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if t.last.Load().(time.Time).Add(keepAlive).After(time.Now()) {
				continue
			}
			if err := t.SendLine("PING _"); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (t *NetTransport) SendLine(line string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	t.last.Store(time.Now())
	_, err := fmt.Fprintf(conn, "%s\r\n", line)
	return err
}

func (t *NetTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.closing = true
	close(t.quit)
	err := t.conn.Close()
	t.conn = nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (t *NetTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// classifyError maps a transport error to a ConnectionError.
func classifyError(err error) ConnectionError {
	var dnsErr *net.DNSError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	var verification *tls.CertificateVerificationError
	var record tls.RecordHeaderError
	var alert tls.AlertError
	var netErr net.Error

	switch {
	case errors.As(err, &dnsErr):
		return ConnectionErrorUnresolvableAddress
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalid),
		errors.As(err, &verification):
		return ConnectionErrorBadTLSCertificate
	case errors.As(err, &record), errors.As(err, &alert):
		return ConnectionErrorTLSFailure
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionErrorConnectionRefused
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return ConnectionErrorConnectionReset
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ConnectionErrorTimeout
	}
	return ConnectionErrorUnknown
}
