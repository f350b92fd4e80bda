package irc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var ErrAlreadyConnecting = errors.New("already connecting or connected")

type ClientParams struct {
	SessionParams

	// FloodRate is the number of messages per second sent to the server
	// after FloodBurst messages have been sent at once. Zero disables
	// flood control.
	FloodRate  float64
	FloodBurst int

	// Debug logs every line sent and received.
	Debug bool
}

// Client drives a Session over a Transport.
//
// Events are delivered to observers in the order of the lines they were
// derived from, on a goroutine owned by the Client. Observers must not
// block for long, but they may call any Client method.
type Client struct {
	params    ClientParams
	logger    Logger
	transport Transport
	queue     *outQueue

	mu      sync.RWMutex
	session *Session

	connMu  sync.Mutex
	running bool
	closing bool
	cancel  context.CancelFunc

	obsMu     sync.Mutex
	observers []func(Event)
	deliverMu sync.Mutex
}

func NewClient(params ClientParams, transport Transport) *Client {
	c := &Client{
		params:    params,
		logger:    params.Logger,
		transport: transport,
		queue:     newOutQueue(),
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	c.session = NewSession(c, params.SessionParams)
	return c
}

// WriteMessage queues msg for sending. It is called by the session, with
// c.mu held.
func (c *Client) WriteMessage(msg Message) {
	c.queue.push(msg.String())
}

// Connect starts connecting in the background. Progress and failures are
// reported as events.
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.running {
		return ErrAlreadyConnecting
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.closing = false
	c.cancel = cancel
	go c.run(ctx)
	return nil
}

// Disconnect closes the connection, if any. A ServerDisconnected event
// follows once the state has been reset.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	if !c.running || c.closing {
		c.connMu.Unlock()
		return
	}
	c.closing = true
	cancel := c.cancel
	c.connMu.Unlock()

	cancel()
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Printf("disconnect: %v", err)
	}
}

func (c *Client) disconnecting() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.closing
}

func (c *Client) run(ctx context.Context) {
	c.publish([]Event{ServerConnecting{now()}})

	lines, err := c.transport.Connect(ctx)
	if err != nil {
		if !c.disconnecting() {
			c.publish([]Event{connectionError(err)})
		}
		c.finish()
		return
	}

	c.queue.reset()
	writerCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go c.writeLoop(writerCtx, writerDone)

	c.mu.Lock()
	evs := c.session.Emit(ServerConnected{now()})
	c.session.Register()
	c.mu.Unlock()
	c.publish(evs)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			c.handleLine(line)
		}
	}

	stopWriter()
	<-writerDone
	if err := c.transport.Err(); err != nil && !c.disconnecting() {
		c.publish([]Event{connectionError(err)})
	}
	c.finish()
}

func connectionError(err error) Event {
	return ServerConnectionError{
		EventMetadata: now(),
		Kind:          classifyError(err),
		Details:       err.Error(),
	}
}

// finish resets the state after a connection ended and reports it.
func (c *Client) finish() {
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Printf("disconnect: %v", err)
	}
	c.queue.reset()

	c.mu.Lock()
	c.session.Reset()
	c.mu.Unlock()

	c.connMu.Lock()
	c.running = false
	c.cancel()
	c.connMu.Unlock()

	c.publish([]Event{ServerDisconnected{now()}})
}

func (c *Client) handleLine(line string) {
	if c.params.Debug {
		c.logger.Printf("IN: %s", line)
	}
	c.mu.Lock()
	evs := c.session.HandleLine(line)
	c.mu.Unlock()
	c.publish(evs)
}

func (c *Client) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	limit := rate.Inf
	burst := c.params.FloodBurst
	if c.params.FloodRate > 0 {
		limit = rate.Limit(c.params.FloodRate)
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	for {
		line, ok := c.queue.pop(ctx)
		if !ok {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if c.params.Debug {
			c.logger.Printf("OUT: %s", redact(line))
		}
		if err := c.transport.SendLine(line); err != nil {
			c.logger.Printf("failed to send: %v", err)
			return
		}
	}
}

// redact hides the secrets of an outgoing line.
func redact(line string) string {
	msg, err := ParseMessage(line)
	if err != nil {
		return line
	}
	const placeholder = "<removed>"
	if msg.Command == "PASS" && len(msg.Params) >= 1 {
		msg.Params = append([]string{placeholder}, msg.Params[1:]...)
	} else if msg.Command == "OPER" && len(msg.Params) >= 2 {
		msg.Params = append([]string{msg.Params[0], placeholder}, msg.Params[2:]...)
	} else if msg.Command == "AUTHENTICATE" && len(msg.Params) >= 1 {
		switch msg.Params[0] {
		case "*", "+", "PLAIN", "EXTERNAL", "ANONYMOUS":
		default:
			msg.Params = append([]string{placeholder}, msg.Params[1:]...)
		}
	}
	return msg.String()
}

// Subscribe registers f to be called with every event.
func (c *Client) Subscribe(f func(ev Event)) {
	c.obsMu.Lock()
	c.observers = append(c.observers, f)
	c.obsMu.Unlock()
}

func (c *Client) publish(evs []Event) {
	if len(evs) == 0 {
		return
	}
	c.obsMu.Lock()
	observers := append([]func(Event){}, c.observers...)
	c.obsMu.Unlock()

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	for _, ev := range evs {
		for _, f := range observers {
			f(ev)
		}
	}
}

// Send queues a raw line. It never blocks.
func (c *Client) Send(line string) {
	c.queue.push(line)
}

func (c *Client) SendMessage(msg Message) {
	c.queue.push(msg.String())
}

// SendLabeled sends msg with a fresh label when labeled-response is
// enabled, and returns the label.
func (c *Client) SendLabeled(msg Message) (label string) {
	if c.HasCapability("labeled-response") {
		label = uuid.NewString()
		msg = msg.WithTag("label", label)
	}
	c.SendMessage(msg)
	return label
}

func (c *Client) ServerState() ServerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.ServerState()
}

func (c *Client) Channel(name string) (ChannelState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Channel(name)
}

func (c *Client) Channels() []ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Channels()
}

func (c *Client) User(nick string) (KnownUser, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.User(nick)
}

func (c *Client) Users() []KnownUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Users()
}

func (c *Client) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Nick()
}

func (c *Client) IsLocalUser(u User) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.IsLocalUser(u)
}

func (c *Client) IsChannel(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.IsChannel(name)
}

func (c *Client) HasCapability(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.HasCapability(name)
}

// withSession runs f with exclusive access to the session. Used by the
// senders which read the session state to build their messages.
func (c *Client) withSession(f func(s *Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c.session)
}

func (c *Client) Join(channel, key string) {
	c.withSession(func(s *Session) { s.Join(channel, key) })
}

func (c *Client) Part(channel, reason string) {
	c.withSession(func(s *Session) { s.Part(channel, reason) })
}

func (c *Client) PrivMsg(target, content string) {
	c.withSession(func(s *Session) { s.PrivMsg(target, content) })
}

func (c *Client) Notice(target, content string) {
	c.withSession(func(s *Session) { s.Notice(target, content) })
}

func (c *Client) Action(target, content string) {
	c.withSession(func(s *Session) { s.Action(target, content) })
}

func (c *Client) ChangeNick(nick string) {
	c.withSession(func(s *Session) { s.ChangeNick(nick) })
}

func (c *Client) ChangeTopic(channel, topic string) {
	c.withSession(func(s *Session) { s.ChangeTopic(channel, topic) })
}

func (c *Client) ChangeMode(target, flags string, args []string) {
	c.withSession(func(s *Session) { s.ChangeMode(target, flags, args) })
}

func (c *Client) Quit(reason string) {
	c.withSession(func(s *Session) { s.Quit(reason) })
}

func (c *Client) Away(message string) {
	c.withSession(func(s *Session) { s.Away(message) })
}

func (c *Client) Invite(nick, channel string) {
	c.withSession(func(s *Session) { s.Invite(nick, channel) })
}

func (c *Client) Kick(nick, channel, comment string) {
	c.withSession(func(s *Session) { s.Kick(nick, channel, comment) })
}

func (c *Client) Names(channel string) {
	c.withSession(func(s *Session) { s.Names(channel) })
}

// outQueue is an unbounded FIFO of lines to send.
type outQueue struct {
	mu     sync.Mutex
	lines  []string
	notify chan struct{}
}

func newOutQueue() *outQueue {
	return &outQueue{notify: make(chan struct{}, 1)}
}

func (q *outQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop waits for a line. ok is false if ctx is done first.
func (q *outQueue) pop(ctx context.Context) (line string, ok bool) {
	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line = q.lines[0]
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, true
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return "", false
		}
	}
}

func (q *outQueue) reset() {
	q.mu.Lock()
	q.lines = nil
	q.mu.Unlock()
}
