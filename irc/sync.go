package irc

import (
	"sort"
	"strings"
)

// stateSync keeps the channel and user states up to date.
type stateSync struct{}

func (stateSync) MutateEvent(s *Session, ev Event, next Next) []Event {
	switch e := ev.(type) {
	case ServerWelcome:
		s.users.Set(e.LocalNick, s.newKnownUser(User{Nickname: e.LocalNick}))
	case ChannelJoined:
		s.handleJoin(e)
	case ChannelParted:
		s.removeFromChannel(e.User.Nickname, e.Channel)
	case ChannelUserKicked:
		s.removeFromChannel(e.Victim, e.Channel)
	case UserQuit:
		var evs []Event
		for _, channel := range s.channelsOf(e.User.Nickname) {
			evs = append(evs, ChannelQuit{
				EventMetadata: e.EventMetadata,
				User:          e.User,
				Channel:       channel,
				Reason:        e.Reason,
			})
			s.removeFromChannel(e.User.Nickname, channel)
		}
		return forward(next, append(evs, ev)...)
	case UserNickChanged:
		var evs []Event
		for _, channel := range s.channelsOf(e.User.Nickname) {
			evs = append(evs, ChannelNickChanged{
				EventMetadata: e.EventMetadata,
				User:          e.User,
				Channel:       channel,
				NewNick:       e.NewNick,
			})
		}
		s.renameUser(e.User.Nickname, e.NewNick)
		return forward(next, append(evs, ev)...)
	case ChannelNamesReceived:
		s.handleNames(e)
	case ChannelNamesFinished:
		if c, ok := s.channels.Get(e.Channel); ok {
			c.ReceivingUserList = false
			s.pruneChannelMembers(c)
		}
	case ChannelTopicDiscovered:
		if c, ok := s.channels.Get(e.Channel); ok {
			c.Topic.Topic = e.Topic
		}
	case ChannelTopicMetadataDiscovered:
		if c, ok := s.channels.Get(e.Channel); ok {
			u := e.User
			c.Topic.User = &u
			c.Topic.Time = e.SetTime
		}
	case ChannelTopicChanged:
		if c, ok := s.channels.Get(e.Channel); ok {
			u := e.User
			c.Topic = ChannelTopic{Topic: e.Topic, User: &u, Time: e.Time}
		}
	case ModeChanged:
		if c, ok := s.channels.Get(e.Target); ok {
			s.applyModes(c, e)
		}
	case UserAccountChanged:
		if u, ok := s.users.Get(e.User.Nickname); ok {
			u.details.Account = e.NewAccount
		}
	case UserHostChanged:
		if u, ok := s.users.Get(e.User.Nickname); ok {
			u.details.Ident = e.NewIdent
			u.details.Hostname = e.NewHost
		}
	case UserAwayChanged:
		if u, ok := s.users.Get(e.User.Nickname); ok {
			u.details.AwayMessage = e.Message
		}
	case SourcedEvent:
		if u, ok := s.users.Get(e.Source().Nickname); ok {
			u.details.updateFrom(e.Source())
		}
	}
	return next(ev)
}

func (s *Session) newKnownUser(details User) *knownUser {
	return &knownUser{
		details:  details,
		channels: newCaseMap[struct{}](s.casemap),
	}
}

// knownUser returns the user with the given details, adding it if needed.
func (s *Session) knownUser(details User) *knownUser {
	u, ok := s.users.Get(details.Nickname)
	if !ok {
		u = s.newKnownUser(details)
		s.users.Set(details.Nickname, u)
		return u
	}
	u.details.updateFrom(details)
	return u
}

func (s *Session) handleJoin(e ChannelJoined) {
	c, ok := s.channels.Get(e.Channel)
	if !ok {
		if !s.IsMe(e.User.Nickname) {
			return
		}
		c = newChannelState(e.Channel, s.casemap)
		s.channels.Set(e.Channel, c)
	}

	details := e.User
	details.Account = e.Account
	details.RealName = e.RealName
	u := s.knownUser(details)
	u.channels.Set(c.Name, struct{}{})

	if !c.users.Has(e.User.Nickname) {
		c.users.Set(e.User.Nickname, &ChannelUser{Nickname: e.User.Nickname})
	}
}

func (s *Session) handleNames(e ChannelNamesReceived) {
	c, ok := s.channels.Get(e.Channel)
	if !ok {
		return
	}
	if !c.ReceivingUserList {
		c.ReceivingUserList = true
		c.users.Clear()
	}
	prefixes := s.server.Features.ModePrefixes()
	for _, name := range ParseNameReply(strings.Join(e.Names, " "), prefixes.Prefixes) {
		u := s.knownUser(userFromPrefix(name.Name))
		u.channels.Set(c.Name, struct{}{})
		c.users.Set(name.Name.Name, &ChannelUser{
			Nickname: name.Name.Name,
			Modes:    prefixes.ModesOf(name.PowerLevel),
		})
	}
}

// pruneChannelMembers forgets the membership of users who were not part of
// the last names reply of c.
func (s *Session) pruneChannelMembers(c *ChannelState) {
	var gone []string
	s.users.ForEach(func(nick string, u *knownUser) {
		if u.channels.Has(c.Name) && !c.users.Has(nick) {
			gone = append(gone, nick)
		}
	})
	for _, nick := range gone {
		s.removeFromChannel(nick, c.Name)
	}
}

func (s *Session) applyModes(c *ChannelState, e ModeChanged) {
	prefixes := s.server.Features.ModePrefixes()
	chanmodes := s.server.Features.ChannelModes()
	changes, err := ParseChannelMode(e.Modes, e.Arguments, chanmodes, prefixes.Modes)
	if err != nil {
		s.logger.Printf("MODE %s: %v", e.Target, err)
		return
	}
	if e.Discovered {
		for m := range c.Modes {
			delete(c.Modes, m)
		}
	}
	for _, change := range changes {
		if prefixes.IsMode(change.Mode) {
			m, ok := c.users.Get(change.Param)
			if !ok {
				continue
			}
			if change.Enable {
				m.Modes = prefixes.SortModes(m.Modes + string(change.Mode))
			} else {
				m.Modes = strings.ReplaceAll(m.Modes, string(change.Mode), "")
			}
			continue
		}
		if chanmodes.Type(change.Mode) == ChannelModeList {
			continue
		}
		if change.Enable {
			c.Modes[change.Mode] = change.Param
		} else {
			delete(c.Modes, change.Mode)
		}
	}
}

// channelsOf returns the tracked channels nick is a member of.
func (s *Session) channelsOf(nick string) []string {
	var channels []string
	s.channels.ForEach(func(name string, c *ChannelState) {
		if c.users.Has(nick) {
			channels = append(channels, name)
		}
	})
	sort.Strings(channels)
	return channels
}

func (s *Session) removeFromChannel(nick, channel string) {
	c, ok := s.channels.Get(channel)
	if !ok {
		return
	}
	if s.IsMe(nick) {
		s.channels.Delete(channel)
		c.users.ForEach(func(member string, _ *ChannelUser) {
			if u, ok := s.users.Get(member); ok {
				u.channels.Delete(channel)
			}
			s.cleanUser(member)
		})
		return
	}
	c.users.Delete(nick)
	if u, ok := s.users.Get(nick); ok {
		u.channels.Delete(channel)
	}
	s.cleanUser(nick)
}

// cleanUser forgets nick if it shares no channel with us.
func (s *Session) cleanUser(nick string) {
	if s.IsMe(nick) {
		return
	}
	u, ok := s.users.Get(nick)
	if !ok {
		return
	}
	if u.channels.Len() == 0 {
		s.users.Delete(nick)
	}
}

func (s *Session) renameUser(oldNick, newNick string) {
	s.channels.ForEach(func(_ string, c *ChannelState) {
		if m, ok := c.users.Get(oldNick); ok {
			m.Nickname = newNick
			c.users.Rename(oldNick, newNick)
		}
	})
	if u, ok := s.users.Get(oldNick); ok {
		u.details.Nickname = newNick
		s.users.Rename(oldNick, newNick)
	}
	if s.IsMe(oldNick) {
		s.server.LocalNickname = newNick
	}
}
