// Package extract pulls channel references out of message text and
// normalizes operator supplied channel identifiers.
package extract

import (
	"regexp"
	"sort"
	"strings"
)

// MinIdentifierLength is the shortest accepted identifier length minus one:
// identifiers must be strictly longer than this.
const MinIdentifierLength = 3

var (
	mentionPattern = regexp.MustCompile(`(?i)@(\w+)`)
	urlPattern     = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:t|telegram)\.me/(\w+)`)
)

// reservedPaths are t.me path segments that are service routes, not channels.
var reservedPaths = map[string]struct{}{
	"joinchat":    {},
	"addstickers": {},
	"addemoji":    {},
	"addlist":     {},
	"share":       {},
	"proxy":       {},
	"socks":       {},
	"setlanguage": {},
}

// ChannelLinks returns the set of channel identifiers referenced in text by
// @mentions or t.me / telegram.me links. Identifiers are lowercased and
// anything with MinIdentifierLength characters or fewer is dropped.
func ChannelLinks(text string) map[string]struct{} {
	found := make(map[string]struct{})
	if text == "" {
		return found
	}

	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if id, ok := accept(m[1]); ok {
			found[id] = struct{}{}
		}
	}
	for _, m := range urlPattern.FindAllStringSubmatch(text, -1) {
		id, ok := accept(m[1])
		if !ok {
			continue
		}
		if _, reserved := reservedPaths[id]; reserved {
			continue
		}
		found[id] = struct{}{}
	}

	return found
}

// Links is ChannelLinks flattened into a sorted slice.
func Links(text string) []string {
	return Sorted(ChannelLinks(text))
}

// Sorted returns the members of set in lexical order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NormalizeIdentifier turns an operator supplied channel reference into an
// identifier. It accepts bare names, @names and t.me / telegram.me URLs with
// or without a scheme. The second return value is false when the result is
// not a valid identifier.
func NormalizeIdentifier(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	if strings.HasPrefix(lower, "www.") {
		s = s[4:]
		lower = lower[4:]
	}
	for _, prefix := range []string{"t.me/", "telegram.me/"} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	// t.me/s/<name> is the public web preview of <name>.
	if strings.HasPrefix(strings.ToLower(s), "s/") {
		s = s[2:]
	}
	s = strings.TrimPrefix(s, "@")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return accept(s)
}

// NormalizeSeeds normalizes and dedups seeds, preserving first-seen order.
// Invalid entries are returned separately.
func NormalizeSeeds(raw []string) (seeds []string, rejected []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, ok := NormalizeIdentifier(part)
			if !ok {
				rejected = append(rejected, strings.TrimSpace(part))
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}
	return seeds, rejected
}

func accept(token string) (string, bool) {
	id := strings.ToLower(token)
	if len(id) <= MinIdentifierLength {
		return "", false
	}
	return id, true
}
