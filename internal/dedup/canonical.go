package dedup

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"cratemind/internal/store"
)

// SelectCanonical picks the canonical member: earliest discovery, then the
// larger file, then the smaller item id.
func SelectCanonical(members []store.Item) store.Item {
	if len(members) == 0 {
		return store.Item{}
	}
	return slices.MinFunc(members, compareCanonical)
}

func compareCanonical(a, b store.Item) int {
	at, bt := discoveredAt(a), discoveredAt(b)
	if c := at.Compare(bt); c != 0 {
		return c
	}
	if a.SizeBytes != b.SizeBytes {
		if a.SizeBytes > b.SizeBytes {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

func discoveredAt(it store.Item) time.Time {
	if it.DiscoveredAt.IsZero() {
		return it.CreatedAt
	}
	return it.DiscoveredAt
}

// groupBuilder returns the GroupFunc the repository calls under its lock.
func groupBuilder(now time.Time) store.GroupFunc {
	return func(hash string, existing *store.DuplicateGroup, members []store.Item) store.DuplicateGroup {
		group := store.DuplicateGroup{ContentHash: hash, UpdatedAt: now}
		if existing != nil && existing.ID != "" {
			group.ID = existing.ID
		} else {
			group.ID = uuid.NewString()
		}
		canonical := SelectCanonical(members)
		ordered := slices.Clone(members)
		slices.SortFunc(ordered, compareCanonical)
		for _, m := range ordered {
			group.MemberIDs = append(group.MemberIDs, m.ID)
			group.TotalBytes += m.SizeBytes
		}
		group.CanonicalItemID = canonical.ID
		group.WasteBytes = group.TotalBytes - canonical.SizeBytes
		return group
	}
}
