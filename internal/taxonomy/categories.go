package taxonomy

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unclassified is the bucket for well-formed categories outside the catalogue.
const Unclassified = "unclassified"

// MaxLabelLength bounds category and subcategory names in runes.
const MaxLabelLength = 64

// ErrMalformed marks category input that cannot be interpreted at all.
var ErrMalformed = errors.New("malformed category")

// Category is one top-level catalogue entry.
type Category struct {
	Name          string
	Subcategories []string
	Aliases       []string
}

var catalogue = []Category{
	{Name: "House", Subcategories: []string{"Deep House", "Tech House", "Progressive House", "Future House", "Big Room House", "Electro House"}},
	{Name: "Trance", Subcategories: []string{"Progressive Trance", "Uplifting Trance", "Psytrance", "Vocal Trance"}, Aliases: []string{"psy"}},
	{Name: "Techno", Subcategories: []string{"Minimal Techno", "Detroit Techno", "Acid Techno"}},
	{Name: "Dubstep", Subcategories: []string{"Brostep", "Future Bass", "Trap"}},
	{Name: "Drum and Bass", Subcategories: []string{"Liquid", "Jungle", "Neurofunk"}, Aliases: []string{"dnb", "d&b", "drum n bass", "drumnbass"}},
	{Name: "Ambient", Subcategories: []string{"Chillout", "Downtempo", "Lounge"}, Aliases: []string{"chill out"}},
	{Name: "Electro", Subcategories: []string{"Fidget House"}},
	{Name: "Breaks", Subcategories: []string{"Nu Skool Breaks", "Big Beat"}, Aliases: []string{"breakbeat", "breakbeats"}},
	{Name: "Electronic"},
}

type entry struct {
	category    string
	subcategory string
}

var index = buildIndex()

func buildIndex() map[string]entry {
	idx := make(map[string]entry)
	for _, c := range catalogue {
		idx[foldKey(c.Name)] = entry{category: c.Name}
		for _, alias := range c.Aliases {
			idx[foldKey(alias)] = entry{category: c.Name}
		}
	}
	// Subcategory names resolve to their parent unless they collide with a
	// top-level name.
	for _, c := range catalogue {
		for _, sub := range c.Subcategories {
			key := foldKey(sub)
			if _, taken := idx[key]; !taken {
				idx[key] = entry{category: c.Name, subcategory: sub}
			}
		}
	}
	return idx
}

// Catalogue returns a copy of the known categories.
func Catalogue() []Category {
	out := make([]Category, len(catalogue))
	for i, c := range catalogue {
		out[i] = Category{
			Name:          c.Name,
			Subcategories: append([]string(nil), c.Subcategories...),
			Aliases:       append([]string(nil), c.Aliases...),
		}
	}
	return out
}

// Classification is a normalized (category, subcategory) pair.
type Classification struct {
	Category    string
	Subcategory string
	// Known is false when Category is Unclassified.
	Known bool
	// Raw is the cleaned submitted category.
	Raw string
}

// Resolve normalizes a submitted category and optional subcategory. Unknown
// but well-formed categories resolve to Unclassified with Known=false.
func Resolve(rawCategory, rawSubcategory string) (Classification, error) {
	category, err := clean(rawCategory)
	if err != nil {
		return Classification{}, fmt.Errorf("category: %w", err)
	}
	if category == "" {
		return Classification{}, fmt.Errorf("category: %w: empty", ErrMalformed)
	}
	sub, err := clean(rawSubcategory)
	if err != nil {
		return Classification{}, fmt.Errorf("subcategory: %w", err)
	}

	e, ok := index[foldKey(category)]
	if !ok {
		return Classification{Category: Unclassified, Subcategory: titleCase(sub), Raw: category}, nil
	}
	out := Classification{Category: e.category, Subcategory: e.subcategory, Known: true, Raw: category}
	if sub != "" {
		out.Subcategory = canonicalSubcategory(e.category, sub)
	}
	return out, nil
}

// Domain is the reputation domain of a category: its top-level name.
func Domain(category string) string {
	if e, ok := index[foldKey(category)]; ok {
		return e.category
	}
	return Unclassified
}

// Same reports whether two category names resolve to the same top-level category.
func Same(a, b string) bool {
	return foldKey(a) != "" && Domain(a) == Domain(b) && (Domain(a) != Unclassified || foldKey(a) == foldKey(b))
}

func canonicalSubcategory(category, sub string) string {
	key := foldKey(sub)
	for _, c := range catalogue {
		if c.Name != category {
			continue
		}
		for _, known := range c.Subcategories {
			if foldKey(known) == key {
				return known
			}
		}
	}
	return titleCase(sub)
}

func clean(raw string) (string, error) {
	trimmed := strings.Join(strings.Fields(raw), " ")
	if trimmed == "" {
		return "", nil
	}
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	if utf8.RuneCountInString(trimmed) > MaxLabelLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrMalformed, MaxLabelLength)
	}
	hasAlnum := false
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control character", ErrMalformed)
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
		}
	}
	if !hasAlnum {
		return "", fmt.Errorf("%w: no letters or digits", ErrMalformed)
	}
	return trimmed, nil
}

func titleCase(value string) string {
	if value == "" {
		return ""
	}
	return cases.Title(language.English).String(value)
}
