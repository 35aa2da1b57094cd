package api

import (
	"time"

	"cratemind/internal/store"
)

// FromResult converts a stored result into its transport form.
func FromResult(r store.Result) Classification {
	out := Classification{
		ItemID:          r.ItemID,
		PrimaryCategory: r.PrimaryCategory,
		Subcategory:     r.Subcategory,
		Confidence:      r.Confidence,
		Status:          string(r.Status),
		DominantSource:  string(r.DominantSource),
		DisputeCycles:   r.DisputeCycles,
		ProfileVersion:  r.ProfileVersion,
		Version:         r.Version,
		StableSince:     formatTime(r.StableSince),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
	if len(r.Breakdown) > 0 {
		out.Breakdown = make([]Contribution, 0, len(r.Breakdown))
		for _, c := range r.Breakdown {
			out.Breakdown = append(out.Breakdown, Contribution{
				SignalID:             c.SignalID,
				SourceType:           string(c.SourceType),
				SourceID:             c.SourceID,
				EntityKey:            c.EntityKey,
				Category:             c.Category,
				Subcategory:          c.Subcategory,
				BaseWeight:           c.BaseWeight,
				ReputationMultiplier: c.ReputationMultiplier,
				RecencyFactor:        c.RecencyFactor,
				ProfileFactor:        c.ProfileFactor,
				Boost:                c.Boost,
				EffectiveWeight:      c.EffectiveWeight,
			})
		}
	}
	return out
}

// FromResults converts a slice of results.
func FromResults(results []store.Result) []Classification {
	out := make([]Classification, 0, len(results))
	for _, r := range results {
		out = append(out, FromResult(r))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
