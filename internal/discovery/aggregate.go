package discovery

import (
	"cmp"
	"errors"
	"maps"
	"slices"
	"time"

	"cratemind/internal/config"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

// Sample is one resolved item counted towards an entity.
type Sample struct {
	ItemID         string
	Category       string
	DominantSource store.SourceType
	// ClassifiedAt is when the item took its current category. Recomputes
	// that keep the category leave it unchanged.
	ClassifiedAt time.Time
}

// Thresholds classify confidence ratios into strengths.
type Thresholds struct {
	MinSamples int
	VeryStrong float64
	Strong     float64
	Moderate   float64
}

// ThresholdsFromConfig reads the discovery section.
func ThresholdsFromConfig(cfg config.Discovery) Thresholds {
	return Thresholds{
		MinSamples: cfg.MinSamples,
		VeryStrong: cfg.VeryStrong,
		Strong:     cfg.Strong,
		Moderate:   cfg.Moderate,
	}
}

// Strength maps a confidence ratio to a pattern strength.
func (t Thresholds) Strength(ratio float64) store.PatternStrength {
	switch {
	case ratio >= t.VeryStrong:
		return store.StrengthVeryStrong
	case ratio >= t.Strong:
		return store.StrengthStrong
	case ratio >= t.Moderate:
		return store.StrengthModerate
	default:
		return store.StrengthNone
	}
}

var errMalformedEntity = errors.New("malformed entity")

// Aggregate folds an entity's samples into a profile. prev is the entity's
// profile in the generation the run builds on, or nil. The result depends
// only on its arguments.
func Aggregate(key, displayName string, samples []Sample, prev *store.EntityProfile, snapshotAt time.Time, t Thresholds) (store.StageOutcome, *store.EntityProfile, error) {
	kind, _, ok := taxonomy.ParseEntityKey(key)
	if !ok {
		return store.StageSkipped, nil, errMalformedEntity
	}
	if len(samples) < t.MinSamples || len(samples) == 0 {
		return store.StageInsufficient, nil, nil
	}

	counts := make(map[string]int)
	for _, s := range samples {
		if s.Category == "" {
			return store.StageSkipped, nil, errMalformedEntity
		}
		counts[s.Category]++
	}
	top := ""
	for _, category := range slices.Sorted(maps.Keys(counts)) {
		if top == "" || counts[category] > counts[top] {
			top = category
		}
	}
	total := len(samples)
	ratio := float64(counts[top]) / float64(total)
	strength := t.Strength(ratio)
	if strength == store.StrengthNone {
		return store.StageDiscarded, nil, nil
	}

	profile := store.EntityProfile{
		EntityKey:    key,
		Kind:         kind,
		DisplayName:  displayName,
		Distribution: make(map[string]float64, len(counts)),
		TopCategory:  top,
		Confidence:   ratio,
		SampleSize:   total,
		Strength:     strength,
		StableSince:  snapshotAt,
	}
	for category, n := range counts {
		profile.Distribution[category] = float64(n) / float64(total)
	}
	for _, s := range samples {
		if s.ClassifiedAt.After(profile.LastUpdated) {
			profile.LastUpdated = s.ClassifiedAt
		}
		if s.Category == top && s.ClassifiedAt.After(profile.LastCorroborated) {
			profile.LastCorroborated = s.ClassifiedAt
		}
	}

	if prev != nil {
		profile.History = slices.Clone(prev.History)
		if prev.TopCategory == top {
			if !prev.StableSince.IsZero() {
				profile.StableSince = prev.StableSince
			}
			profile.Contradictions = prev.Contradictions + contradictions(samples, prev)
		}
	}
	return store.StageProfiled, &profile, nil
}

// contradictions counts community-dominated results classified after prev
// that disagree with its top category. Each such item is counted by the
// first run that sees it, since prev.LastUpdated then covers it.
func contradictions(samples []Sample, prev *store.EntityProfile) int {
	n := 0
	for _, s := range samples {
		if s.ClassifiedAt.After(prev.LastUpdated) &&
			s.DominantSource == store.SourceCommunityPattern &&
			s.Category != prev.TopCategory {
			n++
		}
	}
	return n
}

// crossValidate marks artist and label profiles whose top categories agree
// over at least one shared item.
func crossValidate(staged map[string]store.StagedEntity) {
	type entity struct {
		key   string
		items map[string]struct{}
	}
	var artists, labels []entity
	for _, key := range slices.Sorted(maps.Keys(staged)) {
		st := staged[key]
		if st.Outcome != store.StageProfiled || st.Profile == nil {
			continue
		}
		e := entity{key: key, items: make(map[string]struct{}, len(st.ItemIDs))}
		for _, id := range st.ItemIDs {
			e.items[id] = struct{}{}
		}
		switch st.Profile.Kind {
		case store.EntityArtist:
			artists = append(artists, e)
		case store.EntityLabel:
			labels = append(labels, e)
		}
	}
	for _, a := range artists {
		for _, l := range labels {
			ap, lp := staged[a.key].Profile, staged[l.key].Profile
			if ap.TopCategory != lp.TopCategory || !overlaps(a.items, l.items) {
				continue
			}
			ap.CrossValidated = true
			lp.CrossValidated = true
		}
	}
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for id := range a {
		if _, ok := b[id]; ok {
			return true
		}
	}
	return false
}

func sortSamples(samples []Sample) {
	slices.SortFunc(samples, func(a, b Sample) int { return cmp.Compare(a.ItemID, b.ItemID) })
}
