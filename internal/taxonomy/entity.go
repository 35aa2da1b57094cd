package taxonomy

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"cratemind/internal/store"
)

var folder = cases.Fold()

// foldKey reduces a name to lower-case ASCII-ish alphanumerics with
// diacritics removed and "&" spelled out, so "Above & Beyond" and
// "above and beyond" share a key.
func foldKey(name string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	stripped = strings.ReplaceAll(stripped, "&", " and ")
	folded := folder.String(stripped)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName returns the comparison key of an artist or label name.
func NormalizeName(name string) string {
	return foldKey(name)
}

// EntityKey builds "artist:<name>" or "label:<name>". It returns "" when the
// name has no letters or digits.
func EntityKey(kind store.EntityKind, name string) string {
	key := foldKey(name)
	if key == "" {
		return ""
	}
	return string(kind) + ":" + key
}

// ParseEntityKey splits an entity key into kind and normalized name.
func ParseEntityKey(key string) (store.EntityKind, string, bool) {
	kind, name, ok := strings.Cut(key, ":")
	if !ok || name == "" {
		return "", "", false
	}
	switch store.EntityKind(kind) {
	case store.EntityArtist, store.EntityLabel:
		return store.EntityKind(kind), name, true
	}
	return "", "", false
}

// EntityKeysFor returns the artist and label keys of an item, skipping blanks.
func EntityKeysFor(item store.Item) []string {
	keys := make([]string, 0, 2)
	if k := EntityKey(store.EntityArtist, item.Artist); k != "" {
		keys = append(keys, k)
	}
	if k := EntityKey(store.EntityLabel, item.Label); k != "" {
		keys = append(keys, k)
	}
	return keys
}
