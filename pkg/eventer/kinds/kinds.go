// Package kinds enumerates the eventer protocol message kinds and maps them
// to and from their stable wire codes.
package kinds

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Kind is a protocol message type. Its value is the signed 16-bit wire code.
type Kind int16

const (
	Reserved        Kind = 0
	Ping            Kind = 1
	Pong            Kind = 2
	Auth            Kind = 3
	Sync            Kind = 4 // one-shot pull of the listed kinds
	Autosync        Kind = 5 // subscribe to periodic push of the listed kinds
	DisableSync     Kind = 6
	DisableSyncAll  Kind = 7
	FireEvent       Kind = 8
	Shutdown        Kind = 9
	BaseEventsTable Kind = 10
	BaseEventsList  Kind = 11
	TextMessage     Kind = 12
	Error           Kind = 32767
)

var names = map[Kind]string{
	Reserved:        "reserved",
	Ping:            "ping",
	Pong:            "pong",
	Auth:            "auth",
	Sync:            "sync",
	Autosync:        "autosync",
	DisableSync:     "disableSync",
	DisableSyncAll:  "disableSyncAll",
	FireEvent:       "fireEvent",
	Shutdown:        "shutdown",
	BaseEventsTable: "baseEventsTable",
	BaseEventsList:  "baseEventsList",
	TextMessage:     "textMessage",
	Error:           "error",
}

// Lookup tables are built once at init and never written afterwards, so
// concurrent reads need no locking.
var (
	byCode = make(map[int16]Kind, len(names))
	byName = make(map[string]Kind, len(names))
	all    []Kind
)

func init() {
	for k, name := range names {
		if _, dup := byCode[int16(k)]; dup {
			panic("kinds: duplicate code " + strconv.Itoa(int(k)))
		}
		byCode[int16(k)] = k
		byName[strings.ToLower(name)] = k
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
}

// Code returns the wire code of k.
func (k Kind) Code() int16 {
	return int16(k)
}

// String returns the protocol name of k, or "kind(<code>)" when k is not a
// defined kind.
func (k Kind) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := names[k]
	return ok
}

// ByCode resolves a wire code. The second result is false for codes outside
// the enumeration.
func ByCode(code int16) (Kind, bool) {
	k, ok := byCode[code]
	return k, ok
}

// ByName resolves a protocol name case-insensitively.
func ByName(name string) (Kind, bool) {
	k, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// All returns every defined kind ordered by code.
func All() []Kind {
	out := make([]Kind, len(all))
	copy(out, all)
	return out
}

// ParseList decodes a JSON array of integer kind codes such as "[10,11]".
// Codes that do not resolve are skipped. Malformed input yields an empty
// list rather than an error; callers treat it as "no kinds".
func ParseList(text string) []Kind {
	var codes []int64
	if err := json.Unmarshal([]byte(text), &codes); err != nil {
		return nil
	}

	out := make([]Kind, 0, len(codes))
	for _, c := range codes {
		if c < -32768 || c > 32767 {
			continue
		}
		if k, ok := ByCode(int16(c)); ok {
			out = append(out, k)
		}
	}
	return out
}

// FormatList is the inverse of ParseList.
func FormatList(list ...Kind) string {
	codes := make([]int16, len(list))
	for i, k := range list {
		codes[i] = k.Code()
	}
	data, _ := json.Marshal(codes)
	return string(data)
}
