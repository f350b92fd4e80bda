package irc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// processor turns a message into events. Processors only look at the
// message itself.
type processor func(msg Message) ([]Event, error)

var processors = map[string]processor{
	rplWelcome:  processWelcome,
	rplIsupport: processISupport,

	errNonicknamegiven:  processNickChangeError,
	errErroneusnickname: processNickChangeError,
	errNicknameinuse:    processNickChangeError,
	errNickcollision:    processNickChangeError,

	"JOIN": processJoin,
	"PART": processPart,
	"KICK": processKick,
	"QUIT": processQuit,
	"NICK": processNick,

	"PRIVMSG": processPrivMsg,
	"NOTICE":  processNotice,

	rplNotopic:       processTopicReply,
	rplTopic:         processTopicReply,
	rplTopicwhotime:  processTopicWhoTime,
	"TOPIC":          processTopic,
	rplNamreply:      processNames,
	rplEndofnames:    processEndOfNames,
	"MODE":           processMode,
	rplChannelmodeis: processMode,
	rplUmodeis:       processMode,

	"CAP": processCap,

	"AUTHENTICATE": processAuthenticate,
	rplLoggedin:    processLoggedIn,
	rplLoggedout:   processLoggedIn,
	errNicklocked:  processSaslResult,
	rplSaslsuccess: processSaslResult,
	errSaslfail:    processSaslResult,
	errSasltoolong: processSaslResult,
	errSaslaborted: processSaslResult,
	errSaslalready: processSaslResult,
	rplSaslmechs:   processSaslMechs,

	"BATCH":   processBatch,
	"INVITE":  processInvite,
	"ACCOUNT": processAccount,
	"AWAY":    processAway,
	"CHGHOST": processChgHost,
	"PING":    processPing,

	rplMotdstart: processMotd,
	rplMotd:      processMotd,
	rplEndofmotd: processMotd,
	errNomotd:    processMotd,

	"ERROR": processError,
	"FAIL":  processStandardReply,
	"WARN":  processStandardReply,
	"NOTE":  processStandardReply,
}

// processMessage returns the events of msg. Unknown commands have none.
func processMessage(msg Message) ([]Event, error) {
	p, ok := processors[msg.Command]
	if !ok {
		return nil, nil
	}
	return p(msg)
}

func sourced(msg Message) (User, error) {
	if msg.Prefix == nil || msg.Prefix.Name == "" {
		return User{}, errNoPrefix
	}
	return userFromPrefix(msg.Prefix), nil
}

func one(ev Event) ([]Event, error) {
	return []Event{ev}, nil
}

func processWelcome(msg Message) ([]Event, error) {
	var nick string
	if err := msg.ParseParams(&nick); err != nil {
		return nil, err
	}
	var server string
	if msg.Prefix != nil {
		server = msg.Prefix.Name
	}
	return one(ServerWelcome{
		EventMetadata: metadataOf(msg),
		Server:        server,
		LocalNick:     nick,
	})
}

func processISupport(msg Message) ([]Event, error) {
	if len(msg.Params) < 3 {
		return nil, msg.errNotEnoughParams(3)
	}
	return one(ServerFeaturesUpdated{
		EventMetadata: metadataOf(msg),
		Features:      parseFeatures(msg.Params[1 : len(msg.Params)-1]),
	})
}

func processNickChangeError(msg Message) ([]Event, error) {
	var cause NicknameChangeError
	switch msg.Command {
	case errNonicknamegiven:
		cause = NoNicknameGiven
	case errErroneusnickname:
		cause = ErroneousNickname
	case errNicknameinuse:
		cause = AlreadyInUse
	case errNickcollision:
		cause = Collision
	}
	return one(NicknameChangeFailed{
		EventMetadata: metadataOf(msg),
		Cause:         cause,
	})
}

func processJoin(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var channel string
	if err := msg.ParseParams(&channel); err != nil {
		return nil, err
	}
	ev := ChannelJoined{
		EventMetadata: metadataOf(msg),
		User:          user,
		Channel:       channel,
	}
	if len(msg.Params) >= 3 {
		// extended-join
		if account := msg.Params[1]; account != "*" {
			ev.Account = account
		}
		ev.RealName = msg.Params[2]
	} else if account, ok := msg.Tags["account"]; ok {
		ev.Account = account
	}
	return one(ev)
}

func processPart(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var channel, reason string
	if err := msg.ParseParams(&channel); err != nil {
		return nil, err
	}
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	return one(ChannelParted{
		EventMetadata: metadataOf(msg),
		User:          user,
		Channel:       channel,
		Reason:        reason,
	})
}

func processKick(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var channel, victim, reason string
	if err := msg.ParseParams(&channel, &victim); err != nil {
		return nil, err
	}
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}
	return one(ChannelUserKicked{
		EventMetadata: metadataOf(msg),
		User:          user,
		Channel:       channel,
		Victim:        victim,
		Reason:        reason,
	})
}

func processQuit(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var reason string
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}
	return one(UserQuit{
		EventMetadata: metadataOf(msg),
		User:          user,
		Reason:        reason,
	})
}

func processNick(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var nick string
	if err := msg.ParseParams(&nick); err != nil {
		return nil, err
	}
	return one(UserNickChanged{
		EventMetadata: metadataOf(msg),
		User:          user,
		NewNick:       nick,
	})
}

// parseCTCP splits a CTCP payload. ok is false if text is not one.
func parseCTCP(text string) (typ, content string, ok bool) {
	if len(text) < 2 || text[0] != '\x01' {
		return "", "", false
	}
	text = strings.TrimSuffix(text[1:], "\x01")
	typ, content, _ = strings.Cut(text, " ")
	return strings.ToUpper(typ), content, typ != ""
}

func processPrivMsg(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var target, text string
	if err := msg.ParseParams(&target, &text); err != nil {
		return nil, err
	}
	meta := metadataOf(msg)
	typ, content, ok := parseCTCP(text)
	switch {
	case !ok:
		return one(MessageReceived{
			EventMetadata: meta,
			User:          user,
			Target:        target,
			Message:       text,
		})
	case typ == "ACTION":
		return one(ActionReceived{
			EventMetadata: meta,
			User:          user,
			Target:        target,
			Action:        content,
		})
	default:
		return one(CtcpReceived{
			EventMetadata: meta,
			User:          user,
			Target:        target,
			Type:          typ,
			Content:       content,
		})
	}
}

// processNotice accepts notices without a source, which servers send
// before registration.
func processNotice(msg Message) ([]Event, error) {
	var target, text string
	if err := msg.ParseParams(&target, &text); err != nil {
		return nil, err
	}
	user := userFromPrefix(msg.Prefix)
	meta := metadataOf(msg)
	if typ, content, ok := parseCTCP(text); ok {
		return one(CtcpReplyReceived{
			EventMetadata: meta,
			User:          user,
			Target:        target,
			Type:          typ,
			Content:       content,
		})
	}
	return one(NoticeReceived{
		EventMetadata: meta,
		User:          user,
		Target:        target,
		Message:       text,
	})
}

func processTopicReply(msg Message) ([]Event, error) {
	var channel, topic string
	if err := msg.ParseParams(nil, &channel); err != nil {
		return nil, err
	}
	if msg.Command == rplTopic {
		if err := msg.ParseParams(nil, nil, &topic); err != nil {
			return nil, err
		}
	}
	return one(ChannelTopicDiscovered{
		EventMetadata: metadataOf(msg),
		Channel:       channel,
		Topic:         topic,
	})
}

func processTopicWhoTime(msg Message) ([]Event, error) {
	var channel, who, setAt string
	if err := msg.ParseParams(nil, &channel, &who, &setAt); err != nil {
		return nil, err
	}
	// ignore the error, we still have who
	t, _ := strconv.ParseInt(setAt, 10, 64)
	return one(ChannelTopicMetadataDiscovered{
		EventMetadata: metadataOf(msg),
		Channel:       channel,
		User:          userFromPrefix(ParsePrefix(who)),
		SetTime:       time.Unix(t, 0),
	})
}

func processTopic(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var channel, topic string
	if err := msg.ParseParams(&channel, &topic); err != nil {
		return nil, err
	}
	return one(ChannelTopicChanged{
		EventMetadata: metadataOf(msg),
		User:          user,
		Channel:       channel,
		Topic:         topic,
	})
}

func processNames(msg Message) ([]Event, error) {
	var channel, names string
	if err := msg.ParseParams(nil, nil, &channel, &names); err != nil {
		return nil, err
	}
	return one(ChannelNamesReceived{
		EventMetadata: metadataOf(msg),
		Channel:       channel,
		Names:         strings.Fields(names),
	})
}

func processEndOfNames(msg Message) ([]Event, error) {
	var channel string
	if err := msg.ParseParams(nil, &channel); err != nil {
		return nil, err
	}
	return one(ChannelNamesFinished{
		EventMetadata: metadataOf(msg),
		Channel:       channel,
	})
}

func processMode(msg Message) ([]Event, error) {
	params := msg.Params
	discovered := msg.Command != "MODE"
	if msg.Command == rplChannelmodeis {
		// the first parameter is our own nickname
		if len(params) < 3 {
			return nil, msg.errNotEnoughParams(3)
		}
		params = params[1:]
	}
	if len(params) < 2 {
		return nil, msg.errNotEnoughParams(2)
	}
	return one(ModeChanged{
		EventMetadata: metadataOf(msg),
		Target:        params[0],
		Modes:         params[1],
		Arguments:     append([]string(nil), params[2:]...),
		Discovered:    discovered,
	})
}

func processCap(msg Message) ([]Event, error) {
	var subcommand, caps string
	if err := msg.ParseParams(nil, &subcommand); err != nil {
		return nil, err
	}
	continued := len(msg.Params) > 3 && msg.Params[2] == "*"
	if continued {
		caps = msg.Params[3]
	} else if err := msg.ParseParams(nil, nil, &caps); err != nil {
		return nil, err
	}

	meta := metadataOf(msg)
	switch strings.ToUpper(subcommand) {
	case "LS":
		ev := ServerCapabilitiesReceived{
			EventMetadata: meta,
			Capabilities:  map[string]string{},
			continued:     continued,
		}
		for _, c := range ParseCaps(caps) {
			ev.Capabilities[c.Name] = c.Value
		}
		return one(ev)
	case "ACK":
		ev := ServerCapabilitiesAcknowledged{
			EventMetadata: meta,
			Capabilities:  map[string]bool{},
		}
		for _, c := range ParseCaps(caps) {
			ev.Capabilities[c.Name] = c.Enable
		}
		return one(ev)
	case "NAK":
		var names []string
		for _, c := range ParseCaps(caps) {
			names = append(names, c.Name)
		}
		return one(ServerCapabilitiesRejected{
			EventMetadata: meta,
			Capabilities:  names,
		})
	case "NEW":
		ev := ServerCapabilitiesAdded{
			EventMetadata: meta,
			Capabilities:  map[string]string{},
		}
		for _, c := range ParseCaps(caps) {
			ev.Capabilities[c.Name] = c.Value
		}
		return one(ev)
	case "DEL":
		var names []string
		for _, c := range ParseCaps(caps) {
			names = append(names, c.Name)
		}
		return one(ServerCapabilitiesRemoved{
			EventMetadata: meta,
			Capabilities:  names,
		})
	}
	return nil, nil
}

func processAuthenticate(msg Message) ([]Event, error) {
	var payload string
	if err := msg.ParseParams(&payload); err != nil {
		return nil, err
	}
	if payload == "+" {
		payload = ""
	}
	return one(AuthenticationMessage{
		EventMetadata: metadataOf(msg),
		Argument:      payload,
	})
}

func processLoggedIn(msg Message) ([]Event, error) {
	var mask, account string
	if msg.Command == rplLoggedin {
		if err := msg.ParseParams(nil, &mask, &account); err != nil {
			return nil, err
		}
	} else if err := msg.ParseParams(nil, &mask); err != nil {
		return nil, err
	}
	user := userFromPrefix(ParsePrefix(mask))
	if user.Nickname == "" {
		user.Nickname = msg.Params[0]
	}
	return one(UserAccountChanged{
		EventMetadata: metadataOf(msg),
		User:          user,
		NewAccount:    account,
	})
}

func processSaslResult(msg Message) ([]Event, error) {
	return one(SaslFinished{
		EventMetadata: metadataOf(msg),
		Success:       msg.Command == rplSaslsuccess || msg.Command == errSaslalready,
	})
}

func processSaslMechs(msg Message) ([]Event, error) {
	var mechanisms string
	if err := msg.ParseParams(nil, &mechanisms); err != nil {
		return nil, err
	}
	return one(SaslMechanismNotAvailableError{
		EventMetadata: metadataOf(msg),
		Mechanisms:    parseMechanismList(mechanisms),
	})
}

func processBatch(msg Message) ([]Event, error) {
	var ref string
	if err := msg.ParseParams(&ref); err != nil {
		return nil, err
	}
	meta := metadataOf(msg)
	switch {
	case strings.HasPrefix(ref, "+"):
		var typ string
		if err := msg.ParseParams(nil, &typ); err != nil {
			return nil, err
		}
		return one(BatchStarted{
			EventMetadata: meta,
			ReferenceID:   ref[1:],
			BatchType:     typ,
			Params:        append([]string(nil), msg.Params[2:]...),
		})
	case strings.HasPrefix(ref, "-"):
		return one(BatchFinished{
			EventMetadata: meta,
			ReferenceID:   ref[1:],
		})
	}
	return nil, fmt.Errorf("invalid batch reference %q", ref)
}

func processInvite(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var target, channel string
	if err := msg.ParseParams(&target, &channel); err != nil {
		return nil, err
	}
	return one(InviteReceived{
		EventMetadata: metadataOf(msg),
		User:          user,
		Target:        target,
		Channel:       channel,
	})
}

func processAccount(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var account string
	if err := msg.ParseParams(&account); err != nil {
		return nil, err
	}
	if account == "*" {
		account = ""
	}
	return one(UserAccountChanged{
		EventMetadata: metadataOf(msg),
		User:          user,
		NewAccount:    account,
	})
}

func processAway(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var message string
	if len(msg.Params) > 0 {
		message = msg.Params[0]
	}
	return one(UserAwayChanged{
		EventMetadata: metadataOf(msg),
		User:          user,
		Message:       message,
	})
}

func processChgHost(msg Message) ([]Event, error) {
	user, err := sourced(msg)
	if err != nil {
		return nil, err
	}
	var ident, host string
	if err := msg.ParseParams(&ident, &host); err != nil {
		return nil, err
	}
	return one(UserHostChanged{
		EventMetadata: metadataOf(msg),
		User:          user,
		NewIdent:      ident,
		NewHost:       host,
	})
}

func processPing(msg Message) ([]Event, error) {
	var nonce string
	if err := msg.ParseParams(&nonce); err != nil {
		return nil, err
	}
	return one(PingReceived{
		EventMetadata: metadataOf(msg),
		Nonce:         nonce,
	})
}

func processMotd(msg Message) ([]Event, error) {
	meta := metadataOf(msg)
	switch msg.Command {
	case rplEndofmotd, errNomotd:
		return one(MotdFinished{
			EventMetadata: meta,
			Missing:       msg.Command == errNomotd,
		})
	}
	var line string
	if err := msg.ParseParams(nil, &line); err != nil {
		return nil, err
	}
	return one(MotdLineReceived{
		EventMetadata: meta,
		Line:          line,
		First:         msg.Command == rplMotdstart,
	})
}

func processError(msg Message) ([]Event, error) {
	var message string
	if err := msg.ParseParams(&message); err != nil {
		return nil, err
	}
	return one(ServerErrorReceived{
		EventMetadata: metadataOf(msg),
		Message:       message,
	})
}

func processStandardReply(msg Message) ([]Event, error) {
	var command, code string
	if err := msg.ParseParams(&command, &code, nil); err != nil {
		return nil, err
	}
	var severity Severity
	switch msg.Command {
	case "FAIL":
		severity = SeverityFail
	case "WARN":
		severity = SeverityWarn
	case "NOTE":
		severity = SeverityNote
	}
	last := len(msg.Params) - 1
	return one(StandardReplyReceived{
		EventMetadata: metadataOf(msg),
		Severity:      severity,
		Command:       command,
		Code:          code,
		Context:       append([]string(nil), msg.Params[2:last]...),
		Description:   msg.Params[last],
	})
}
