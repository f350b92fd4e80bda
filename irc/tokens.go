package irc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

func word(s string) (w, rest string) {
	s = strings.TrimLeft(s, " ")
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " ")
}

func tagEscape(c byte) (escape byte) {
	switch c {
	case ':':
		escape = ';'
	case 's':
		escape = ' '
	case 'r':
		escape = '\r'
	case 'n':
		escape = '\n'
	default:
		escape = c
	}
	return
}

func unescapeTagValue(escaped string) string {
	var builder strings.Builder
	builder.Grow(len(escaped))
	escape := false
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == '\\' && !escape {
			escape = true
			continue
		}
		if escape {
			c = tagEscape(c)
			escape = false
		}
		builder.WriteByte(c)
	}
	return builder.String()
}

var tagEscaper = strings.NewReplacer(
	"\\", "\\\\",
	";", "\\:",
	" ", "\\s",
	"\r", "\\r",
	"\n", "\\n",
)

func escapeTagValue(unescaped string) string {
	return tagEscaper.Replace(unescaped)
}

func parseTags(s string) (tags map[string]string) {
	tags = map[string]string{}
	for _, item := range strings.Split(s, ";") {
		if item == "" || item == "=" || item == "+" || item == "+=" {
			continue
		}
		key, value, _ := strings.Cut(item, "=")
		if key == "" {
			continue
		}
		tags[key] = unescapeTagValue(value)
	}
	return
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		if v := tags[k]; v != "" {
			sb.WriteByte('=')
			sb.WriteString(escapeTagValue(v))
		}
	}
	return sb.String()
}

var (
	errEmptyMessage      = errors.New("empty message")
	errIncompleteMessage = errors.New("message is incomplete")
)

var errNoPrefix = errors.New("missing prefix")

// Prefix is the source of a message: a server name or a nick!user@host mask.
type Prefix struct {
	Name string
	User string
	Host string
}

// ParsePrefix parses a "nick!user@host" string. Missing parts are left empty.
func ParsePrefix(s string) (p *Prefix) {
	if s == "" {
		return
	}

	p = &Prefix{}

	spl0 := strings.SplitN(s, "@", 2)
	if 1 < len(spl0) {
		p.Host = spl0[1]
	}

	spl1 := strings.SplitN(spl0[0], "!", 2)
	if 1 < len(spl1) {
		p.User = spl1[1]
	}

	p.Name = spl1[0]

	return
}

// Copy makes a copy of the prefix, but doesn't copy the internal strings.
func (p *Prefix) Copy() *Prefix {
	if p == nil {
		return nil
	}
	res := &Prefix{}
	*res = *p
	return res
}

// String returns the "nick!user@host" representation of the prefix.
func (p *Prefix) String() string {
	if p == nil {
		return ""
	}

	if p.User != "" && p.Host != "" {
		return p.Name + "!" + p.User + "@" + p.Host
	} else if p.User != "" {
		return p.Name + "!" + p.User
	} else if p.Host != "" {
		return p.Name + "@" + p.Host
	} else {
		return p.Name
	}
}

// Message is the representation of an IRC message.
type Message struct {
	Tags    map[string]string
	Prefix  *Prefix
	Command string
	Params  []string
}

func NewMessage(command string, params ...string) Message {
	return Message{Command: command, Params: params}
}

// ParseMessage parses the message from the given string, which must be
// trimmed of "\r\n" beforehand.
func ParseMessage(line string) (msg Message, err error) {
	line = strings.TrimLeft(line, " ")
	if line == "" {
		err = errEmptyMessage
		return
	}

	if line[0] == '@' {
		var tags string

		tags, line = word(line)
		msg.Tags = parseTags(tags[1:])
	}

	line = strings.TrimLeft(line, " ")
	if line == "" {
		err = errIncompleteMessage
		return
	}

	if line[0] == ':' {
		var prefix string

		prefix, line = word(line)
		msg.Prefix = ParsePrefix(prefix[1:])
	}

	line = strings.TrimLeft(line, " ")
	if line == "" {
		err = errIncompleteMessage
		return
	}

	msg.Command, line = word(line)
	msg.Command = strings.ToUpper(msg.Command)

	for line != "" {
		if line[0] == ':' {
			msg.Params = append(msg.Params, line[1:])
			break
		}

		var param string
		param, line = word(line)
		msg.Params = append(msg.Params, param)
	}

	return
}

func (msg Message) WithTag(key, value string) Message {
	tags := make(map[string]string, len(msg.Tags)+1)
	for k, v := range msg.Tags {
		tags[k] = v
	}
	tags[key] = value
	msg.Tags = tags
	return msg
}

// Copy returns a deep copy of the message.
func (msg Message) Copy() Message {
	res := Message{
		Prefix:  msg.Prefix.Copy(),
		Command: msg.Command,
	}
	if msg.Tags != nil {
		res.Tags = make(map[string]string, len(msg.Tags))
		for k, v := range msg.Tags {
			res.Tags[k] = v
		}
	}
	if msg.Params != nil {
		res.Params = append([]string(nil), msg.Params...)
	}
	return res
}

// IsReply reports whether the message command is a server reply.
func (msg Message) IsReply() bool {
	if len(msg.Command) != 3 {
		return false
	}
	for _, r := range msg.Command {
		if !('0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

// String returns the protocol representation of the message, without an
// ending "\r\n".
func (msg Message) String() string {
	var sb strings.Builder

	if len(msg.Tags) != 0 {
		sb.WriteRune('@')
		sb.WriteString(formatTags(msg.Tags))
		sb.WriteRune(' ')
	}

	if msg.Prefix != nil {
		sb.WriteRune(':')
		sb.WriteString(msg.Prefix.String())
		sb.WriteRune(' ')
	}

	sb.WriteString(msg.Command)

	if len(msg.Params) != 0 {
		for _, p := range msg.Params[:len(msg.Params)-1] {
			sb.WriteRune(' ')
			sb.WriteString(p)
		}
		lastParam := msg.Params[len(msg.Params)-1]
		if lastParam == "" || lastParam[0] == ':' || strings.ContainsRune(lastParam, ' ') {
			sb.WriteString(" :")
		} else {
			sb.WriteRune(' ')
		}
		sb.WriteString(lastParam)
	}

	return sb.String()
}

func (msg Message) errNotEnoughParams(expected int) error {
	return fmt.Errorf("expected at least %d params, got %d", expected, len(msg.Params))
}

// ParseParams extracts positional parameters into out. A nil pointer skips
// the corresponding parameter.
func (msg Message) ParseParams(out ...*string) error {
	if len(msg.Params) < len(out) {
		return msg.errNotEnoughParams(len(out))
	}
	for i := range out {
		if out[i] != nil {
			*out[i] = msg.Params[i]
		}
	}
	return nil
}

// Time returns the time of the "server-time" tag, if present and valid.
func (msg Message) Time() (t time.Time, ok bool) {
	tag, ok := msg.Tags["time"]
	if !ok {
		return
	}
	return parseTimestamp(tag)
}

// TimeOrNow returns the message time or the current time.
func (msg Message) TimeOrNow() time.Time {
	t, ok := msg.Time()
	if ok {
		return t
	}
	return timeNow()
}

var timeNow = time.Now

func parseTimestamp(timestamp string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.Local(), true
}

type Cap struct {
	Name   string
	Value  string
	Enable bool
}

func ParseCaps(caps string) (diff []Cap) {
	for _, c := range strings.Split(caps, " ") {
		if c == "" || c == "-" || c == "=" || c == "-=" {
			continue
		}

		var item Cap

		if strings.HasPrefix(c, "-") {
			item.Enable = false
			c = c[1:]
		} else {
			item.Enable = true
		}

		kv := strings.SplitN(c, "=", 2)
		item.Name = strings.ToLower(kv[0])
		if len(kv) > 1 {
			item.Value = kv[1]
		}

		diff = append(diff, item)
	}

	return
}

// Name is one entry of a RPL_NAMREPLY.
type Name struct {
	PowerLevel string
	Name       *Prefix
}

// ParseNameReply parses the trailing parameter of a RPL_NAMREPLY, given the
// PREFIX symbols in use.
func ParseNameReply(trailing string, prefixes string) (names []Name) {
	for _, name := range strings.Split(trailing, " ") {
		if name == "" {
			continue
		}

		mask := strings.TrimLeft(name, prefixes)
		if mask == "" {
			continue
		}
		names = append(names, Name{
			PowerLevel: name[:len(name)-len(mask)],
			Name:       ParsePrefix(mask),
		})
	}

	return
}
