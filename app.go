package kouhai

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"git.sr.ht/~delthas/kouhai/irc"
)

const (
	throttleInterval = 6 * time.Second
	throttleMax      = 1 * time.Minute
	quitTimeout      = 2 * time.Second
)

// ircClient is the part of *irc.Client used by the application.
type ircClient interface {
	Connect() error
	Disconnect()
	Subscribe(f func(ev irc.Event))
	Send(line string)
	SendLabeled(msg irc.Message) (label string)

	ServerState() irc.ServerState
	Channel(name string) (irc.ChannelState, bool)
	Nick() string
	IsChannel(name string) bool
	HasCapability(name string) bool

	Join(channel, key string)
	Part(channel, reason string)
	PrivMsg(target, content string)
	Notice(target, content string)
	Action(target, content string)
	ChangeNick(nick string)
	ChangeTopic(channel, topic string)
	ChangeMode(target, flags string, args []string)
	Quit(reason string)
	Away(message string)
	Invite(nick, channel string)
	Kick(nick, channel, comment string)
	Names(channel string)
}

type App struct {
	cfg    Config
	client ircClient
	out    io.Writer

	events chan irc.Event
	redial chan struct{}

	quit     chan struct{}
	quitOnce sync.Once

	// Only accessed by the event loop.
	target   string // default target of messages
	delay    time.Duration
	quitting bool
}

func NewApp(cfg Config) (app *App, err error) {
	var tlsConfig *tls.Config
	if cfg.TLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
		if cfg.TLSCertificate != nil {
			tlsConfig.Certificates = []tls.Certificate{*cfg.TLSCertificate}
		}
	}
	transport := &irc.NetTransport{
		Addr:      cfg.Addr,
		TLS:       cfg.TLS,
		TLSConfig: tlsConfig,
		Encoding:  cfg.Encoding,
	}
	client := irc.NewClient(irc.ClientParams{
		SessionParams: irc.SessionParams{
			Nickname: cfg.Nick,
			Username: cfg.User,
			RealName: cfg.Real,
			Password: cfg.ServerPassword(),
			SASL:     cfg.Mechanisms(),
			Logger:   log.New(os.Stderr, "irc: ", log.LstdFlags),
		},
		FloodRate:  cfg.FloodRate,
		FloodBurst: cfg.FloodBurst,
		Debug:      cfg.Debug,
	}, transport)
	return newApp(cfg, client, os.Stdout), nil
}

func newApp(cfg Config, client ircClient, out io.Writer) *App {
	app := &App{
		cfg:    cfg,
		client: client,
		out:    out,
		events: make(chan irc.Event, 64),
		redial: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	client.Subscribe(app.postEvent)
	return app
}

// Close stops Run and closes the connection.
func (app *App) Close() {
	app.quitOnce.Do(func() {
		close(app.quit)
	})
	app.client.Disconnect()
}

// Run connects to the server and handles events and the commands read
// from in, until Close is called or in reaches EOF.
func (app *App) Run(in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-app.quit:
				return
			}
		}
	}()

	app.delay = throttleInterval
	app.connect()

	for {
		select {
		case <-app.quit:
			return
		case ev := <-app.events:
			app.handleIRCEvent(ev)
		case <-app.redial:
			app.connect()
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := app.handleInput(line); err != nil {
				app.printf("!! %v", err)
			}
		}
	}
}

func (app *App) postEvent(ev irc.Event) {
	select {
	case app.events <- ev:
	case <-app.quit:
	}
}

func (app *App) connect() {
	app.printf("-- Connecting to %s...", app.cfg.Addr)
	if err := app.client.Connect(); err != nil {
		app.printf("!! %v", err)
	}
}

// scheduleReconnect plans the next connection attempt, waiting a little
// longer after each failure.
func (app *App) scheduleReconnect() {
	delay := app.delay
	if app.delay < throttleMax {
		app.delay += throttleInterval
	}
	app.printf("-- Reconnecting in %v", delay)
	time.AfterFunc(delay, func() {
		select {
		case app.redial <- struct{}{}:
		default:
		}
	})
}

func (app *App) handleIRCEvent(ev irc.Event) {
	switch ev := ev.(type) {
	case irc.ServerConnecting:
		return
	case irc.ServerReady:
		app.delay = throttleInterval
		for _, channel := range app.cfg.Channels {
			app.client.Join(channel, "")
		}
	case irc.ServerDisconnected:
		if app.quitting {
			app.printLine(ev)
			app.Close()
			return
		}
		defer app.scheduleReconnect()
	case irc.ChannelNamesFinished:
		c, ok := app.client.Channel(ev.Channel)
		if ok {
			app.printf("%s", formatNames(c, app.client.ServerState().Features.ModePrefixes()))
		}
		return
	case irc.MessageReceived:
		if app.target == "" && !app.client.IsChannel(ev.Target) {
			app.target = ev.User.Nickname
		}
	}
	app.printLine(ev)
}

func (app *App) printLine(ev irc.Event) {
	if line, ok := formatEvent(ev); ok {
		fmt.Fprintln(app.out, line)
	}
}

func (app *App) printf(format string, v ...interface{}) {
	fmt.Fprintf(app.out, time.Now().Format("15:04")+" "+format+"\n", v...)
}
