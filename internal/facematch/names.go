package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticsRemover = runes.Remove(runes.In(unicode.Mn))

// FoldName lowercases a display name, strips diacritics and collapses separators
// ("Novák-Dvořák  Jan" -> "novak dvorak jan") so enrollment listings can be searched
// the way staff type names into a search box.
func FoldName(name string) string {
	t := transform.Chain(norm.NFD, diacriticsRemover, norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	folded = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// NameMatches reports whether every word of query occurs in displayName after folding.
// An empty query matches everything.
func NameMatches(displayName, query string) bool {
	words := strings.Fields(FoldName(query))
	if len(words) == 0 {
		return true
	}
	folded := FoldName(displayName)
	for _, w := range words {
		if !strings.Contains(folded, w) {
			return false
		}
	}
	return true
}

// FilterByName keeps the items whose display name, as returned by name, matches query.
func FilterByName[T any](items []T, query string, name func(T) string) []T {
	if strings.TrimSpace(query) == "" {
		return items
	}
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if NameMatches(name(item), query) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
