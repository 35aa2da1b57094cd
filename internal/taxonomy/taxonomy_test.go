package taxonomy_test

import (
	"errors"
	"strings"
	"testing"

	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		category string
		sub      string
		want     taxonomy.Classification
	}{
		{"canonical", "House", "", taxonomy.Classification{Category: "House", Known: true, Raw: "House"}},
		{"case folded", "  tEcHnO ", "", taxonomy.Classification{Category: "Techno", Known: true, Raw: "tEcHnO"}},
		{"alias", "d&b", "", taxonomy.Classification{Category: "Drum and Bass", Known: true, Raw: "d&b"}},
		{"subcategory as category", "deep house", "", taxonomy.Classification{Category: "House", Subcategory: "Deep House", Known: true, Raw: "deep house"}},
		{"explicit subcategory", "Trance", "uplifting trance", taxonomy.Classification{Category: "Trance", Subcategory: "Uplifting Trance", Known: true, Raw: "Trance"}},
		{"free subcategory", "Breaks", "florida breaks", taxonomy.Classification{Category: "Breaks", Subcategory: "Florida Breaks", Known: true, Raw: "Breaks"}},
		{"unknown", "Polka Step", "", taxonomy.Classification{Category: taxonomy.Unclassified, Raw: "Polka Step"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := taxonomy.Resolve(tc.category, tc.sub)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Resolve(%q, %q) = %+v, want %+v", tc.category, tc.sub, got, tc.want)
			}
		})
	}
}

func TestResolveRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "!!!", "house\x00", strings.Repeat("a", taxonomy.MaxLabelLength+1)} {
		if _, err := taxonomy.Resolve(raw, ""); !errors.Is(err, taxonomy.ErrMalformed) {
			t.Fatalf("Resolve(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
	if _, err := taxonomy.Resolve("House", "bad\x07"); !errors.Is(err, taxonomy.ErrMalformed) {
		t.Fatalf("expected malformed subcategory error, got %v", err)
	}
}

func TestEntityKeyNormalization(t *testing.T) {
	tests := []struct {
		kind store.EntityKind
		name string
		want string
	}{
		{store.EntityArtist, "Above & Beyond", "artist:aboveandbeyond"},
		{store.EntityArtist, "above and beyond", "artist:aboveandbeyond"},
		{store.EntityArtist, "Tiësto", "artist:tiesto"},
		{store.EntityLabel, "Spinnin' Records", "label:spinninrecords"},
		{store.EntityLabel, "  ", ""},
	}
	for _, tc := range tests {
		if got := taxonomy.EntityKey(tc.kind, tc.name); got != tc.want {
			t.Fatalf("EntityKey(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
	kind, name, ok := taxonomy.ParseEntityKey("label:defectedrecords")
	if !ok || kind != store.EntityLabel || name != "defectedrecords" {
		t.Fatalf("ParseEntityKey = %q %q %v", kind, name, ok)
	}
	if _, _, ok := taxonomy.ParseEntityKey("genre:house"); ok {
		t.Fatal("unexpected parse of unknown kind")
	}
}

func TestSeedsFor(t *testing.T) {
	item := store.Item{Artist: "Eric Prydz", Label: "Defected"}
	seeds := taxonomy.SeedsFor(item)
	if len(seeds) != 2 {
		t.Fatalf("expected artist and label seeds, got %+v", seeds)
	}
	if seeds[0].Category != "House" || seeds[1].Name != "Defected Records" {
		t.Fatalf("unexpected seeds: %+v", seeds)
	}
	if got := taxonomy.SeedsFor(store.Item{Artist: "Nobody In Particular"}); len(got) != 0 {
		t.Fatalf("expected no seeds, got %+v", got)
	}
}

func TestDomainAndSame(t *testing.T) {
	if taxonomy.Domain("deep house") != "House" {
		t.Fatalf("Domain(deep house) = %q", taxonomy.Domain("deep house"))
	}
	if !taxonomy.Same("dnb", "Drum and Bass") {
		t.Fatal("aliases should compare equal")
	}
	if taxonomy.Same("House", "Techno") {
		t.Fatal("different categories compared equal")
	}
}
