package irc

import "strings"

// CaseMapping is the rule a server uses to compare nicknames and channel
// names.
type CaseMapping int

const (
	CaseMappingRFC1459 CaseMapping = iota
	CaseMappingASCII
	CaseMappingStrictRFC1459
)

// ParseCaseMapping parses the value of the CASEMAPPING ISUPPORT token.
func ParseCaseMapping(name string) (CaseMapping, bool) {
	switch strings.ToLower(name) {
	case "ascii":
		return CaseMappingASCII, true
	case "rfc1459":
		return CaseMappingRFC1459, true
	case "strict-rfc1459", "rfc1459-strict":
		return CaseMappingStrictRFC1459, true
	}
	return CaseMappingRFC1459, false
}

func (cm CaseMapping) String() string {
	switch cm {
	case CaseMappingASCII:
		return "ascii"
	case CaseMappingStrictRFC1459:
		return "strict-rfc1459"
	default:
		return "rfc1459"
	}
}

// Fold returns the canonical form of name.
func (cm CaseMapping) Fold(name string) string {
	switch cm {
	case CaseMappingASCII:
		return CasemapASCII(name)
	case CaseMappingStrictRFC1459:
		return CasemapStrictRFC1459(name)
	default:
		return CasemapRFC1459(name)
	}
}

// Equivalent reports whether a and b designate the same nickname or channel.
func (cm CaseMapping) Equivalent(a, b string) bool {
	return cm.Fold(a) == cm.Fold(b)
}

func CasemapASCII(name string) string {
	nameBytes := []byte(name)
	for i, r := range nameBytes {
		if 'A' <= r && r <= 'Z' {
			nameBytes[i] = r + 'a' - 'A'
		}
	}
	return string(nameBytes)
}

func CasemapRFC1459(name string) string {
	nameBytes := []byte(name)
	for i, r := range nameBytes {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		} else if r == '~' {
			r = '^'
		}
		nameBytes[i] = r
	}
	return string(nameBytes)
}

func CasemapStrictRFC1459(name string) string {
	nameBytes := []byte(name)
	for i, r := range nameBytes {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		}
		nameBytes[i] = r
	}
	return string(nameBytes)
}

// caseMap is a map keyed by nicknames or channel names.
//
// Keys are folded with the mapping in effect when they are inserted. When
// the server changes its CASEMAPPING mid-connection, entries inserted before
// the change keep their old folded key.
type caseMap[V any] struct {
	casemap func() CaseMapping
	entries map[string]*caseMapEntry[V]
}

type caseMapEntry[V any] struct {
	name  string
	value V
}

func newCaseMap[V any](casemap func() CaseMapping) caseMap[V] {
	return caseMap[V]{
		casemap: casemap,
		entries: map[string]*caseMapEntry[V]{},
	}
}

func (cm *caseMap[V]) fold(name string) string {
	if cm.casemap == nil {
		return CasemapRFC1459(name)
	}
	return cm.casemap().Fold(name)
}

func (cm *caseMap[V]) Get(name string) (V, bool) {
	e, ok := cm.entries[cm.fold(name)]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (cm *caseMap[V]) Has(name string) bool {
	_, ok := cm.entries[cm.fold(name)]
	return ok
}

// Set inserts or replaces the value for name. An existing entry keeps its
// original spelling.
func (cm *caseMap[V]) Set(name string, value V) {
	key := cm.fold(name)
	if e, ok := cm.entries[key]; ok {
		e.value = value
		return
	}
	cm.entries[key] = &caseMapEntry[V]{name: name, value: value}
}

func (cm *caseMap[V]) Delete(name string) {
	delete(cm.entries, cm.fold(name))
}

// Rename moves the entry for oldName to newName, updating its spelling.
func (cm *caseMap[V]) Rename(oldName, newName string) bool {
	oldKey := cm.fold(oldName)
	e, ok := cm.entries[oldKey]
	if !ok {
		return false
	}
	delete(cm.entries, oldKey)
	e.name = newName
	cm.entries[cm.fold(newName)] = e
	return true
}

func (cm *caseMap[V]) Len() int {
	return len(cm.entries)
}

func (cm *caseMap[V]) Clear() {
	cm.entries = map[string]*caseMapEntry[V]{}
}

// clone copies the collection, keeping the folded keys as they are. The
// copy folds lookups with the mapping in effect at the time of the call.
func (cm *caseMap[V]) clone(copyValue func(V) V) caseMap[V] {
	mapping := CaseMappingRFC1459
	if cm.casemap != nil {
		mapping = cm.casemap()
	}
	res := caseMap[V]{
		casemap: func() CaseMapping { return mapping },
		entries: make(map[string]*caseMapEntry[V], len(cm.entries)),
	}
	for k, e := range cm.entries {
		res.entries[k] = &caseMapEntry[V]{name: e.name, value: copyValue(e.value)}
	}
	return res
}

// ForEach calls f for each entry, with the key spelled as first inserted.
func (cm *caseMap[V]) ForEach(f func(name string, value V)) {
	for _, e := range cm.entries {
		f(e.name, e.value)
	}
}
