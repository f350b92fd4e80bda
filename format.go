package kouhai

import (
	"fmt"
	"sort"
	"strings"

	"git.sr.ht/~delthas/kouhai/irc"
)

// formatEvent returns the line to print for ev, or false for events that
// are not shown.
func formatEvent(ev irc.Event) (string, bool) {
	var body string
	switch ev := ev.(type) {
	case irc.ServerConnecting:
		body = "-- Connecting..."
	case irc.ServerConnected:
		body = "-- Connected"
	case irc.ServerReady:
		body = "-- Connected to the server"
	case irc.ServerDisconnected:
		body = "!! Disconnected"
	case irc.ServerConnectionError:
		body = fmt.Sprintf("!! Connection error (%v): %s", ev.Kind, ev.Details)
	case irc.ServerErrorReceived:
		body = fmt.Sprintf("!! Server error: %s", ev.Message)
	case irc.NicknameChangeFailed:
		body = fmt.Sprintf("!! Nickname change failed: %s", nicknameError(ev.Cause))
	case irc.SaslFinished:
		if ev.Success {
			body = "-- Authenticated"
		} else {
			body = "!! Authentication failed"
		}
	case irc.SaslMechanismNotAvailableError:
		body = fmt.Sprintf("!! No suitable SASL mechanism (server supports: %s)", strings.Join(ev.Mechanisms, ", "))
	case irc.StandardReplyReceived:
		body = fmt.Sprintf("%s %s %s: %s", severityHead(ev.Severity), ev.Command, ev.Code, ev.Description)
	case irc.MotdLineReceived:
		body = "-- " + ev.Line
	case irc.ChannelJoined:
		body = fmt.Sprintf("%s --> %s joined", ev.Channel, ev.User.Nickname)
	case irc.ChannelParted:
		body = fmt.Sprintf("%s <-- %s left%s", ev.Channel, ev.User.Nickname, reason(ev.Reason))
	case irc.ChannelUserKicked:
		body = fmt.Sprintf("%s <-- %s was kicked by %s%s", ev.Channel, ev.Victim, ev.User.Nickname, reason(ev.Reason))
	case irc.UserQuit:
		body = fmt.Sprintf("<-- %s quit%s", ev.User.Nickname, reason(ev.Reason))
	case irc.UserNickChanged:
		body = fmt.Sprintf("-- %s is now known as %s", ev.User.Nickname, ev.NewNick)
	case irc.ChannelTopicDiscovered:
		body = fmt.Sprintf("%s -- Topic: %s", ev.Channel, ev.Topic)
	case irc.ChannelTopicChanged:
		body = fmt.Sprintf("%s -- %s changed the topic to: %s", ev.Channel, ev.User.Nickname, ev.Topic)
	case irc.ChannelNamesFinished:
		return "", false
	case irc.ModeChanged:
		if ev.Discovered {
			body = fmt.Sprintf("%s -- Modes: %s", ev.Target, joinModes(ev.Modes, ev.Arguments))
		} else {
			body = fmt.Sprintf("%s -- Mode change: %s", ev.Target, joinModes(ev.Modes, ev.Arguments))
		}
	case irc.MessageReceived:
		body = fmt.Sprintf("%s <%s> %s", ev.Target, ev.User.Nickname, ev.Message)
	case irc.NoticeReceived:
		from := ev.User.Nickname
		if from == "" {
			from = "*"
		}
		body = fmt.Sprintf("%s -%s- %s", ev.Target, from, ev.Message)
	case irc.ActionReceived:
		body = fmt.Sprintf("%s * %s %s", ev.Target, ev.User.Nickname, ev.Action)
	case irc.CtcpReceived:
		body = fmt.Sprintf("-- %s sent a CTCP %s request", ev.User.Nickname, ev.Type)
	case irc.CtcpReplyReceived:
		body = fmt.Sprintf("-- CTCP %s reply from %s: %s", ev.Type, ev.User.Nickname, ev.Content)
	case irc.InviteReceived:
		body = fmt.Sprintf("-- %s invited %s to %s", ev.User.Nickname, ev.Target, ev.Channel)
	case irc.UserAwayChanged:
		if ev.Message == "" {
			body = fmt.Sprintf("-- %s is back", ev.User.Nickname)
		} else {
			body = fmt.Sprintf("-- %s is away: %s", ev.User.Nickname, ev.Message)
		}
	case irc.BatchReceived:
		lines := make([]string, 0, len(ev.Events))
		for _, child := range ev.Events {
			if line, ok := formatEvent(child); ok {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			return "", false
		}
		return strings.Join(lines, "\n"), true
	default:
		return "", false
	}
	return ev.Metadata().Time.Format("15:04") + " " + body, true
}

// formatNames formats the member list of a channel, with the highest mode
// prefix of each member.
func formatNames(c irc.ChannelState, prefixes irc.ModePrefixMapping) string {
	var names []string
	for _, u := range c.Users() {
		name := u.Nickname
		if len(u.Modes) > 0 {
			if i := strings.IndexByte(prefixes.Modes, u.Modes[0]); i >= 0 && i < len(prefixes.Prefixes) {
				name = prefixes.Prefixes[i:i+1] + name
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s -- Names: %s", c.Name, strings.Join(names, " "))
}

func reason(s string) string {
	if s == "" {
		return ""
	}
	return " (" + s + ")"
}

func joinModes(modes string, args []string) string {
	return strings.TrimSpace(modes + " " + strings.Join(args, " "))
}

func nicknameError(cause irc.NicknameChangeError) string {
	switch cause {
	case irc.ErroneousNickname:
		return "erroneous nickname"
	case irc.AlreadyInUse:
		return "nickname already in use"
	case irc.Collision:
		return "nickname collision"
	case irc.NoNicknameGiven:
		return "no nickname given"
	}
	return "unknown error"
}

func severityHead(s irc.Severity) string {
	switch s {
	case irc.SeverityFail:
		return "!!"
	case irc.SeverityWarn:
		return "!-"
	}
	return "--"
}
