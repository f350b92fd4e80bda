package kouhai

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"git.sr.ht/~delthas/kouhai/irc"
)

var (
	errOffline   = fmt.Errorf("you are disconnected from the server, retry later")
	errNoTarget  = errors.New("no current target; use /MSG or /JOIN first")
	errNoChannel = errors.New("either join a channel first, or specify the channel")
)

const maxArgsInfinite = -1

type command struct {
	AllowOffline bool
	MinArgs      int
	MaxArgs      int
	Usage        string
	Desc         string
	Handle       func(app *App, args []string) error
}

type commandSet map[string]*command

var commands commandSet

func init() {
	commands = commandSet{
		"HELP": {
			AllowOffline: true,
			MaxArgs:      1,
			Usage:        "[command]",
			Desc:         "show the list of commands, or how to use the given one",
			Handle:       commandDoHelp,
		},
		"JOIN": {
			MinArgs: 1,
			MaxArgs: 2,
			Usage:   "<channels> [keys]",
			Desc:    "join a channel",
			Handle:  commandDoJoin,
		},
		"PART": {
			MaxArgs: 2,
			Usage:   "[channel] [reason]",
			Desc:    "part a channel",
			Handle:  commandDoPart,
		},
		"MSG": {
			MinArgs: 2,
			MaxArgs: 2,
			Usage:   "<target> <message>",
			Desc:    "send a message to the given target",
			Handle:  commandDoMsg,
		},
		"ME": {
			MinArgs: 1,
			MaxArgs: 1,
			Usage:   "<message>",
			Desc:    "send an action to the current target",
			Handle:  commandDoMe,
		},
		"NOTICE": {
			MinArgs: 2,
			MaxArgs: 2,
			Usage:   "<target> <message>",
			Desc:    "send a notice to the given target",
			Handle:  commandDoNotice,
		},
		"NICK": {
			MinArgs: 1,
			MaxArgs: 1,
			Usage:   "<nickname>",
			Desc:    "change your nickname",
			Handle:  commandDoNick,
		},
		"TOPIC": {
			MaxArgs: 1,
			Usage:   "[topic]",
			Desc:    "show or set the topic of the current channel",
			Handle:  commandDoTopic,
		},
		"MODE": {
			MaxArgs: maxArgsInfinite,
			Usage:   "[<nick/channel>] [<flags>] [args]",
			Desc:    "change channel or user modes",
			Handle:  commandDoMode,
		},
		"INVITE": {
			MinArgs: 1,
			MaxArgs: 2,
			Usage:   "<name> [channel]",
			Desc:    "invite someone to a channel",
			Handle:  commandDoInvite,
		},
		"KICK": {
			MinArgs: 1,
			MaxArgs: 3,
			Usage:   "<nick> [channel] [message]",
			Desc:    "eject someone from the channel",
			Handle:  commandDoKick,
		},
		"AWAY": {
			MaxArgs: 1,
			Usage:   "[message]",
			Desc:    "mark yourself as away",
			Handle:  commandDoAway,
		},
		"BACK": {
			Desc:   "mark yourself as back from being away",
			Handle: commandDoBack,
		},
		"NAMES": {
			MaxArgs: 1,
			Usage:   "[channel]",
			Desc:    "show the member list of a channel",
			Handle:  commandDoNames,
		},
		"QUOTE": {
			MinArgs: 1,
			MaxArgs: 1,
			Usage:   "<raw message>",
			Desc:    "send raw protocol data",
			Handle:  commandDoQuote,
		},
		"QUIT": {
			AllowOffline: true,
			MaxArgs:      1,
			Usage:        "[reason]",
			Desc:         "quit kouhai",
			Handle:       commandDoQuit,
		},
	}
}

func (app *App) online() bool {
	return app.client.ServerState().Status == irc.StatusReady
}

// currentChannel returns the current target if it is a channel.
func (app *App) currentChannel() (string, error) {
	if app.target == "" || !app.client.IsChannel(app.target) {
		return "", errNoChannel
	}
	return app.target, nil
}

func noCommand(app *App, content string) error {
	if app.target == "" {
		return errNoTarget
	}
	return commandSendMessage(app, app.target, content)
}

func commandSendMessage(app *App, target string, content string) error {
	app.client.PrivMsg(target, content)
	if !app.client.HasCapability("echo-message") {
		app.printLine(irc.MessageReceived{
			EventMetadata: irc.EventMetadata{Time: time.Now()},
			User:          irc.User{Nickname: app.client.Nick()},
			Target:        target,
			Message:       content,
		})
	}
	return nil
}

func commandDoHelp(app *App, args []string) (err error) {
	var names []string
	if len(args) == 0 {
		app.printf("-- Available commands:")
		for name := range commands {
			names = append(names, name)
		}
	} else {
		search := strings.ToUpper(args[0])
		app.printf("-- Commands that match %q:", search)
		for name := range commands {
			if strings.Contains(name, search) {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			app.printf("  no command matches %q", args[0])
			return nil
		}
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		app.printf("%s %s", name, cmd.Usage)
		app.printf("  %s", cmd.Desc)
	}
	return nil
}

func commandDoJoin(app *App, args []string) (err error) {
	channel := args[0]
	key := ""
	if len(args) == 2 {
		key = args[1]
	}
	app.client.Join(channel, key)
	if i := strings.IndexByte(channel, ','); i >= 0 {
		channel = channel[:i]
	}
	app.target = channel
	return nil
}

func commandDoPart(app *App, args []string) (err error) {
	channel := app.target
	reason := ""
	if 0 < len(args) {
		if app.client.IsChannel(args[0]) {
			channel = args[0]
			if 1 < len(args) {
				reason = args[1]
			}
		} else {
			reason = strings.Join(args, " ")
		}
	}
	if channel == "" || !app.client.IsChannel(channel) {
		return errNoChannel
	}
	app.client.Part(channel, reason)
	return nil
}

func commandDoMsg(app *App, args []string) (err error) {
	app.target = args[0]
	return commandSendMessage(app, args[0], args[1])
}

func commandDoMe(app *App, args []string) (err error) {
	if app.target == "" {
		return errNoTarget
	}
	app.client.Action(app.target, args[0])
	if !app.client.HasCapability("echo-message") {
		app.printLine(irc.ActionReceived{
			EventMetadata: irc.EventMetadata{Time: time.Now()},
			User:          irc.User{Nickname: app.client.Nick()},
			Target:        app.target,
			Action:        args[0],
		})
	}
	return nil
}

func commandDoNotice(app *App, args []string) (err error) {
	app.client.Notice(args[0], args[1])
	return nil
}

func commandDoNick(app *App, args []string) (err error) {
	nick := args[0]
	if i := strings.IndexAny(nick, " :"); i >= 0 {
		return fmt.Errorf("illegal char %q in nickname", nick[i])
	}
	app.client.ChangeNick(nick)
	return nil
}

func commandDoTopic(app *App, args []string) (err error) {
	channel, err := app.currentChannel()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		app.client.ChangeTopic(channel, args[0])
		return nil
	}
	c, ok := app.client.Channel(channel)
	if !ok {
		return fmt.Errorf("not in %s", channel)
	}
	if c.Topic.Topic == "" {
		app.printf("%s -- No topic", c.Name)
		return nil
	}
	app.printf("%s -- Topic: %s", c.Name, c.Topic.Topic)
	if c.Topic.User != nil {
		app.printf("%s -- Set by %s on %s", c.Name, c.Topic.User.Nickname, c.Topic.Time.Format("2006-01-02 15:04"))
	}
	return nil
}

func commandDoMode(app *App, args []string) (err error) {
	target := app.target
	if len(args) > 0 && !strings.HasPrefix(args[0], "+") && !strings.HasPrefix(args[0], "-") {
		target = args[0]
		args = args[1:]
	}
	if target == "" {
		return errNoTarget
	}
	flags := ""
	if len(args) > 0 {
		flags = args[0]
		args = args[1:]
	}
	app.client.ChangeMode(target, flags, args)
	return nil
}

func commandDoInvite(app *App, args []string) (err error) {
	nick := args[0]
	channel := app.target
	if len(args) == 2 {
		channel = args[1]
	} else if channel, err = app.currentChannel(); err != nil {
		return err
	}
	app.client.Invite(nick, channel)
	return nil
}

func commandDoKick(app *App, args []string) (err error) {
	nick := args[0]
	channel := app.target
	// Check whether the argument after the user is a channel, to accept both:
	// - KICK user #chan you are mean
	// - KICK user you are mean
	comment := ""
	if len(args) >= 2 {
		if app.client.IsChannel(args[1]) {
			channel = args[1]
		} else {
			comment = args[1] + " "
		}
	}
	if channel == "" || !app.client.IsChannel(channel) {
		return errNoChannel
	}
	if len(args) == 3 {
		comment += args[2]
	}
	app.client.Kick(nick, channel, strings.TrimSpace(comment))
	return nil
}

func commandDoAway(app *App, args []string) (err error) {
	reason := "Away"
	if len(args) > 0 {
		reason = args[0]
	}
	app.client.Away(reason)
	return nil
}

func commandDoBack(app *App, args []string) (err error) {
	app.client.Away("")
	return nil
}

func commandDoNames(app *App, args []string) (err error) {
	var channel string
	if len(args) > 0 {
		channel = args[0]
	} else if channel, err = app.currentChannel(); err != nil {
		return err
	}
	c, ok := app.client.Channel(channel)
	if !ok {
		app.client.Names(channel)
		return nil
	}
	app.printf("%s", formatNames(c, app.client.ServerState().Features.ModePrefixes()))
	return nil
}

func commandDoQuote(app *App, args []string) (err error) {
	msg, err := irc.ParseMessage(args[0])
	if err != nil {
		return fmt.Errorf("invalid raw message: %v", err)
	}
	if label := app.client.SendLabeled(msg); label != "" {
		app.printf("-- Sent with label %s", label)
	}
	return nil
}

func commandDoQuit(app *App, args []string) (err error) {
	if !app.online() {
		app.Close()
		return nil
	}
	reason := ""
	if 0 < len(args) {
		reason = args[0]
	}
	app.quitting = true
	app.client.Quit(reason)
	time.AfterFunc(quitTimeout, app.Close)
	return nil
}

// implemented from https://golang.org/src/strings/strings.go?s=8055:8085#L310
func fieldsN(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" || n == 0 {
		return nil
	}
	if n == 1 {
		return []string{s}
	}
	var a []string
	na := 0
	fieldStart := 0
	i := 0
	for i < len(s) {
		if s[i] != ' ' {
			i++
			continue
		}
		a = append(a, s[fieldStart:i])
		na++
		i++
		// Skip spaces in between fields.
		for i < len(s) && s[i] == ' ' {
			i++
		}
		fieldStart = i
		if n != maxArgsInfinite && na+1 >= n {
			a = append(a, s[fieldStart:])
			return a
		}
	}
	if fieldStart < len(s) {
		// Last field ends at EOF.
		a = append(a, s[fieldStart:])
	}
	return a
}

func parseCommand(s string) (command, args string, isCommand bool) {
	if len(s) == 0 || s[0] != '/' {
		return "", s, false
	}
	if len(s) > 1 && s[1] == '/' {
		// Input starts with two slashes.
		return "", s[1:], false
	}

	i := strings.IndexByte(s, ' ')
	if i < 0 {
		i = len(s)
	}

	return strings.ToUpper(s[1:i]), strings.TrimLeft(s[i:], " "), true
}

func (app *App) handleInput(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	cmdName, rawArgs, isCommand := parseCommand(content)
	if !isCommand {
		if !app.online() {
			return errOffline
		}
		return noCommand(app, rawArgs)
	}
	if cmdName == "" {
		return fmt.Errorf("lone slash at the beginning")
	}

	chosenCMDName := cmdName
	if _, ok := commands[cmdName]; !ok {
		var found bool
		for key := range commands {
			if !strings.HasPrefix(key, cmdName) {
				continue
			}
			if found {
				return fmt.Errorf("ambiguous command %q (could mean %v or %v)", cmdName, chosenCMDName, key)
			}
			chosenCMDName = key
			found = true
		}
		if !found {
			return fmt.Errorf("the kouhai command %q does not exist; use /QUOTE to send it as is to the server", cmdName)
		}
	}

	cmd := commands[chosenCMDName]

	var args []string
	if rawArgs != "" && cmd.MaxArgs != 0 {
		args = fieldsN(rawArgs, cmd.MaxArgs)
	}

	if len(args) < cmd.MinArgs {
		return fmt.Errorf("usage: %s %s", chosenCMDName, cmd.Usage)
	}
	if !cmd.AllowOffline && !app.online() {
		return errOffline
	}
	return cmd.Handle(app, args)
}
