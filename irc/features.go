package irc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Feature describes an ISUPPORT token and the type of its value.
type Feature[T any] struct {
	Name    string
	Default T
	parse   func(value string) (T, bool)
}

func (f *Feature[T]) name() string {
	return f.Name
}

func (f *Feature[T]) parseValue(value string) (interface{}, bool) {
	return f.parse(value)
}

type featureDescriptor interface {
	name() string
	parseValue(value string) (interface{}, bool)
}

// ModePrefixMapping pairs channel membership modes with their prefix
// symbols, as advertised by the PREFIX token.
type ModePrefixMapping struct {
	Modes    string // e.g. "ov"
	Prefixes string // e.g. "@+"
}

func (m ModePrefixMapping) IsPrefix(c byte) bool {
	return strings.IndexByte(m.Prefixes, c) >= 0
}

func (m ModePrefixMapping) IsMode(c byte) bool {
	return strings.IndexByte(m.Modes, c) >= 0
}

// Mode returns the mode corresponding to the given prefix symbol.
func (m ModePrefixMapping) Mode(prefix byte) (byte, bool) {
	i := strings.IndexByte(m.Prefixes, prefix)
	if i < 0 || i >= len(m.Modes) {
		return 0, false
	}
	return m.Modes[i], true
}

// ModesOf converts a string of prefix symbols to modes, e.g. "@+" to "ov".
func (m ModePrefixMapping) ModesOf(prefixes string) string {
	var sb strings.Builder
	for i := 0; i < len(prefixes); i++ {
		if mode, ok := m.Mode(prefixes[i]); ok {
			sb.WriteByte(mode)
		}
	}
	return sb.String()
}

// SortModes orders modes from the most to the least powerful.
func (m ModePrefixMapping) SortModes(modes string) string {
	var sb strings.Builder
	for i := 0; i < len(m.Modes); i++ {
		if strings.IndexByte(modes, m.Modes[i]) >= 0 {
			sb.WriteByte(m.Modes[i])
		}
	}
	return sb.String()
}

func parseModePrefixMapping(value string) (m ModePrefixMapping, ok bool) {
	if value == "" {
		return m, true
	}
	if len(value)%2 != 0 || value[0] != '(' {
		return m, false
	}
	for i := 0; i < len(value); i++ {
		if unicode.MaxASCII < value[i] {
			return m, false
		}
	}
	numPrefixes := len(value)/2 - 1
	if value[numPrefixes+1] != ')' {
		return m, false
	}
	m.Modes = value[1 : numPrefixes+1]
	m.Prefixes = value[numPrefixes+2:]
	return m, true
}

// ChannelModeTypes are the four CHANMODES classes: list modes, modes that
// always take a parameter, modes that take one only when set, and flags.
type ChannelModeTypes [4]string

const (
	ChannelModeList = iota
	ChannelModeParam
	ChannelModeSetParam
	ChannelModeFlag
)

// Type returns the class of the given mode, or -1 if unknown.
func (t ChannelModeTypes) Type(mode byte) int {
	for i, modes := range t {
		if strings.IndexByte(modes, mode) >= 0 {
			return i
		}
	}
	return -1
}

func parseChannelModeTypes(value string) (t ChannelModeTypes, ok bool) {
	// We only care about the first four params
	types := strings.SplitN(value, ",", 5)
	if len(types) < 4 {
		return t, false
	}
	for i := 0; i < len(t); i++ {
		t[i] = types[i]
	}
	return t, true
}

func parseFeatureInt(value string) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFeatureString(value string) (string, bool) {
	return value, true
}

func parseFeatureBool(value string) (bool, bool) {
	return true, true
}

var (
	FeatureCaseMapping = &Feature[CaseMapping]{
		Name:    "CASEMAPPING",
		Default: CaseMappingRFC1459,
		parse:   ParseCaseMapping,
	}
	FeatureModePrefixes = &Feature[ModePrefixMapping]{
		Name:    "PREFIX",
		Default: ModePrefixMapping{Modes: "ov", Prefixes: "@+"},
		parse:   parseModePrefixMapping,
	}
	FeatureChannelModes = &Feature[ChannelModeTypes]{
		Name:    "CHANMODES",
		Default: ChannelModeTypes{"b", "k", "l", "imnpst"},
		parse:   parseChannelModeTypes,
	}
	FeatureChannelTypes = &Feature[string]{
		Name:    "CHANTYPES",
		Default: "#&",
		parse:   parseFeatureString,
	}
	FeatureMaximumChannels = &Feature[int]{
		Name:  "MAXCHANNELS",
		parse: parseFeatureInt,
	}
	FeatureMaximumChannelNameLength = &Feature[int]{
		Name:    "CHANNELLEN",
		Default: 200,
		parse:   parseFeatureInt,
	}
	FeatureMaximumNicknameLength = &Feature[int]{
		Name:  "NICKLEN",
		parse: parseFeatureInt,
	}
	FeatureNetwork = &Feature[string]{
		Name:  "NETWORK",
		parse: parseFeatureString,
	}
	FeatureLineLength = &Feature[int]{
		Name:    "LINELEN",
		Default: 512,
		parse:   parseFeatureInt,
	}
	FeatureWhoxSupport = &Feature[bool]{
		Name:  "WHOX",
		parse: parseFeatureBool,
	}
)

var knownFeatures = map[string]featureDescriptor{
	"CASEMAPPING": FeatureCaseMapping,
	"PREFIX":      FeatureModePrefixes,
	"CHANMODES":   FeatureChannelModes,
	"CHANTYPES":   FeatureChannelTypes,
	"MAXCHANNELS": FeatureMaximumChannels,
	"CHANNELLEN":  FeatureMaximumChannelNameLength,
	"NICKLEN":     FeatureMaximumNicknameLength,
	"NETWORK":     FeatureNetwork,
	"LINELEN":     FeatureLineLength,
	"WHOX":        FeatureWhoxSupport,
}

// ServerFeatureMap holds ISUPPORT values. Known features are stored with
// their typed value, unknown ones as raw strings.
type ServerFeatureMap map[string]interface{}

// FeatureValue returns the value of feature f, or its default.
func FeatureValue[T any](m ServerFeatureMap, f *Feature[T]) T {
	if v, ok := m[f.Name].(T); ok {
		return v
	}
	return f.Default
}

func (m ServerFeatureMap) CaseMapping() CaseMapping {
	return FeatureValue(m, FeatureCaseMapping)
}

func (m ServerFeatureMap) ModePrefixes() ModePrefixMapping {
	return FeatureValue(m, FeatureModePrefixes)
}

func (m ServerFeatureMap) ChannelModes() ChannelModeTypes {
	return FeatureValue(m, FeatureChannelModes)
}

func (m ServerFeatureMap) ChannelTypes() string {
	return FeatureValue(m, FeatureChannelTypes)
}

func (m ServerFeatureMap) LineLength() int {
	return FeatureValue(m, FeatureLineLength)
}

// Raw returns the value of a feature without a declared type.
func (m ServerFeatureMap) Raw(name string) (string, bool) {
	v, ok := m[name].(string)
	return v, ok
}

func (m ServerFeatureMap) Copy() ServerFeatureMap {
	res := make(ServerFeatureMap, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

// merge applies updates to m and returns the features whose value changed.
func (m ServerFeatureMap) merge(updates ServerFeatureMap) ServerFeatureMap {
	changed := ServerFeatureMap{}
	for k, v := range updates {
		old, ok := m[k]
		if v == nil {
			if ok {
				delete(m, k)
				changed[k] = nil
			}
			continue
		}
		if ok && old == v {
			continue
		}
		m[k] = v
		changed[k] = v
	}
	return changed
}

func unescapeISupportValue(value string) string {
	if !strings.Contains(value, `\x`) {
		return value
	}
	var sb strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+3 < len(value) && value[i+1] == 'x' {
			if b, err := strconv.ParseUint(value[i+2:i+4], 16, 8); err == nil {
				sb.WriteByte(byte(b))
				i += 3
				continue
			}
		}
		sb.WriteByte(value[i])
	}
	return sb.String()
}

// parseFeatures converts the tokens of a RPL_ISUPPORT line. Known tokens
// with an invalid value are ignored.
func parseFeatures(tokens []string) ServerFeatureMap {
	features := ServerFeatureMap{}
	for _, f := range tokens {
		if f == "" || f == "-" || f == "=" || f == "-=" {
			continue
		}

		if strings.HasPrefix(f, "-") {
			features[strings.ToUpper(f[1:])] = nil
			continue
		}

		key, value, _ := strings.Cut(f, "=")
		key = strings.ToUpper(key)
		value = unescapeISupportValue(value)

		desc, ok := knownFeatures[key]
		if !ok {
			features[key] = value
			continue
		}
		if v, ok := desc.parseValue(value); ok {
			features[key] = v
		}
	}
	return features
}

// ModeChange is one change of a MODE line.
type ModeChange struct {
	Enable bool
	Mode   byte
	Param  string
}

// ParseChannelMode splits a channel MODE string and its parameters into
// individual changes, according to the CHANMODES and PREFIX features.
func ParseChannelMode(mode string, params []string, chanmodes ChannelModeTypes, prefixModes string) ([]ModeChange, error) {
	var changes []ModeChange
	enable := true
	j := 0
	for i := 0; i < len(mode); i++ {
		c := mode[i]
		if c == '+' || c == '-' {
			enable = c == '+'
			continue
		}
		var takesParam bool
		if strings.IndexByte(prefixModes, c) >= 0 {
			takesParam = true
		} else {
			switch chanmodes.Type(c) {
			case ChannelModeList, ChannelModeParam:
				takesParam = true
			case ChannelModeSetParam:
				takesParam = enable
			}
		}
		change := ModeChange{Enable: enable, Mode: c}
		if takesParam {
			if j >= len(params) {
				return changes, fmt.Errorf("malformed modestring %q: missing parameter for mode %q", mode, c)
			}
			change.Param = params[j]
			j++
		}
		changes = append(changes, change)
	}
	return changes, nil
}

type featureTracker struct{}

func (featureTracker) MutateEvent(s *Session, ev Event, next Next) []Event {
	e, ok := ev.(ServerFeaturesUpdated)
	if !ok {
		return next(ev)
	}
	s.server.receivedFeatures = true
	changed := s.server.Features.merge(e.Features)
	if len(changed) == 0 {
		return nil
	}
	e.Features = changed
	return next(e)
}
