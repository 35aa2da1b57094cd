package taxonomy

import "cratemind/internal/store"

// SeedEntry is one fixed piece of domain knowledge about a label or artist.
type SeedEntry struct {
	Kind        store.EntityKind
	Name        string
	Aliases     []string
	Category    string
	Subcategory string
}

// Key is the entity key the entry matches.
func (s SeedEntry) Key() string {
	return EntityKey(s.Kind, s.Name)
}

var seeds = []SeedEntry{
	{Kind: store.EntityLabel, Name: "Anjunabeats", Category: "Trance", Subcategory: "Progressive Trance"},
	{Kind: store.EntityLabel, Name: "Defected Records", Aliases: []string{"Defected"}, Category: "House", Subcategory: "Deep House"},
	{Kind: store.EntityLabel, Name: "Monstercat", Category: "Electronic"},
	{Kind: store.EntityLabel, Name: "Mau5trap", Category: "House", Subcategory: "Progressive House"},
	{Kind: store.EntityLabel, Name: "Spinnin' Records", Aliases: []string{"Spinnin"}, Category: "House", Subcategory: "Big Room House"},
	{Kind: store.EntityLabel, Name: "OWSLA", Category: "Dubstep"},
	{Kind: store.EntityLabel, Name: "Armada Music", Aliases: []string{"Armada"}, Category: "Trance"},
	{Kind: store.EntityLabel, Name: "Ultra Music", Aliases: []string{"Ultra"}, Category: "House", Subcategory: "Big Room House"},
	{Kind: store.EntityArtist, Name: "Deadmau5", Category: "House", Subcategory: "Progressive House"},
	{Kind: store.EntityArtist, Name: "Armin van Buuren", Category: "Trance", Subcategory: "Uplifting Trance"},
	{Kind: store.EntityArtist, Name: "Martin Garrix", Category: "House", Subcategory: "Big Room House"},
	{Kind: store.EntityArtist, Name: "Skrillex", Category: "Dubstep"},
	{Kind: store.EntityArtist, Name: "Above & Beyond", Category: "Trance", Subcategory: "Progressive Trance"},
	{Kind: store.EntityArtist, Name: "Calvin Harris", Category: "House", Subcategory: "Electro House"},
	{Kind: store.EntityArtist, Name: "Swedish House Mafia", Category: "House", Subcategory: "Progressive House"},
	{Kind: store.EntityArtist, Name: "Eric Prydz", Aliases: []string{"Pryda", "Cirez D"}, Category: "House", Subcategory: "Progressive House"},
}

var seedIndex = buildSeedIndex()

func buildSeedIndex() map[string]SeedEntry {
	idx := make(map[string]SeedEntry)
	for _, s := range seeds {
		idx[EntityKey(s.Kind, s.Name)] = s
		for _, alias := range s.Aliases {
			idx[EntityKey(s.Kind, alias)] = s
		}
	}
	return idx
}

// Seeds returns the built-in knowledge base.
func Seeds() []SeedEntry {
	out := make([]SeedEntry, len(seeds))
	copy(out, seeds)
	return out
}

// SeedsFor returns the seed entries matching an item's artist and label.
func SeedsFor(item store.Item) []SeedEntry {
	var out []SeedEntry
	for _, key := range EntityKeysFor(item) {
		if s, ok := seedIndex[key]; ok {
			out = append(out, s)
		}
	}
	return out
}
