package contacts

import (
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// NameOrder is the display convention for composing a person's name.
type NameOrder int

const (
	// GivenNameFirst composes "Given Middle Family".
	GivenNameFirst NameOrder = iota
	// FamilyNameFirst composes "Family Given Middle".
	FamilyNameFirst
)

// NameOrderFor returns the name convention for a language.
func NameOrderFor(tag language.Tag) NameOrder {
	base, _ := tag.Base()
	switch base.String() {
	case "zh", "ja", "ko", "vi", "hu", "mn":
		return FamilyNameFirst
	default:
		return GivenNameFirst
	}
}

// ParseLanguage parses a BCP 47 tag or a POSIX locale such as "zh_CN.UTF-8".
func ParseLanguage(raw string) (language.Tag, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, ".@"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ReplaceAll(raw, "_", "-")
	if raw == "" || raw == "C" || raw == "POSIX" {
		return language.Und, false
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

var localeEnvVars = []string{"LC_ALL", "LC_MESSAGES", "LANG"}

func resolveLanguage(primary string) language.Tag {
	if tag, ok := ParseLanguage(primary); ok {
		return tag
	}
	for _, key := range localeEnvVars {
		if tag, ok := ParseLanguage(os.Getenv(key)); ok {
			return tag
		}
	}
	return language.English
}

// ComposeName joins name parts in the given order. Parts written entirely in
// CJK scripts are joined without spaces.
func ComposeName(given, middle, family string, order NameOrder) string {
	var parts []string
	if order == FamilyNameFirst {
		parts = nonEmpty(family, given, middle)
	} else {
		parts = nonEmpty(given, middle, family)
	}
	sep := " "
	if allCJK(parts) {
		sep = ""
	}
	return strings.Join(parts, sep)
}

func displayName(e Entry, order NameOrder, unknown string) string {
	if name := ComposeName(e.GivenName, e.MiddleName, e.FamilyName, order); name != "" {
		return name
	}
	candidates := []string{e.FormattedName, e.Nickname, e.Organization}
	if len(e.Emails) > 0 {
		candidates = append(candidates, e.Emails[0].Value)
	}
	if len(e.Phones) > 0 {
		candidates = append(candidates, e.Phones[0].Value)
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return unknown
}

func sortKey(e Entry, order NameOrder) string {
	if key := ComposeName(e.GivenName, "", e.FamilyName, order); key != "" {
		return key
	}
	for _, c := range []string{e.FormattedName, e.Nickname, e.Organization} {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	if len(e.Emails) > 0 {
		return e.Emails[0].Value
	}
	return ""
}

// SortEntries orders entries by name using the collation rules of tag (for
// Chinese this is pinyin order). Entries without any name sort last; ties
// keep their ID order. The slice is sorted in place.
func SortEntries(entries []Entry, tag language.Tag) {
	order := NameOrderFor(tag)
	col := collate.New(tag, collate.IgnoreCase, collate.Loose)
	keys := make([]string, len(entries))
	for i := range entries {
		keys[i] = sortKey(entries[i], order)
	}
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if (ka == "") != (kb == "") {
			return kb == ""
		}
		if c := col.CompareString(ka, kb); c != 0 {
			return c < 0
		}
		return entries[idx[a]].ID < entries[idx[b]].ID
	})
	sorted := make([]Entry, len(entries))
	for i, j := range idx {
		sorted[i] = entries[j]
	}
	copy(entries, sorted)
}

// MatchEntry reports whether e matches text using case-insensitive substring
// matching over name, nickname, organization and email fields. Phone numbers
// match on digits when text looks like a phone number. Empty text matches
// everything. Stores without native search use it as their matching rule.
func MatchEntry(e Entry, text string) bool {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(text))
	if needle == "" {
		return true
	}

	fields := []string{
		e.GivenName, e.FamilyName, e.MiddleName, e.Nickname, e.FormattedName, e.Organization,
		ComposeName(e.GivenName, e.MiddleName, e.FamilyName, GivenNameFirst),
		ComposeName(e.GivenName, e.MiddleName, e.FamilyName, FamilyNameFirst),
	}
	for _, email := range e.Emails {
		fields = append(fields, email.Value)
	}
	for _, field := range fields {
		if field != "" && strings.Contains(fold.String(field), needle) {
			return true
		}
	}

	digits := PhoneDigits(needle)
	for _, phone := range e.Phones {
		if strings.Contains(fold.String(phone.Value), needle) {
			return true
		}
		if digits != "" && strings.Contains(digitsOnly(phone.Value), digits) {
			return true
		}
	}
	return false
}

// PhoneDigits returns the digits of text when text looks like a phone number
// (digits plus "+-(). " punctuation only), or "" otherwise.
func PhoneDigits(text string) string {
	if !looksLikePhone(text) {
		return ""
	}
	return digitsOnly(text)
}

func looksLikePhone(value string) bool {
	hasDigit := false
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '+' || r == '-' || r == '(' || r == ')' || r == '.' || r == ' ':
		default:
			return false
		}
	}
	return hasDigit
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func allCJK(parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
				return false
			}
		}
	}
	return true
}
