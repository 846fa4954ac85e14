package database

import (
	"cmp"
	"slices"
	"strings"
)

// ComparePersons is the display order for people lists: visible before hidden,
// named before unnamed, more faces first, then name and id ascending.
func ComparePersons(a, b Person) int {
	if a.IsHidden != b.IsHidden {
		if a.IsHidden {
			return 1
		}
		return -1
	}

	aNamed, bNamed := strings.TrimSpace(a.Name) != "", strings.TrimSpace(b.Name) != ""
	if aNamed != bNamed {
		if aNamed {
			return -1
		}
		return 1
	}

	if c := cmp.Compare(b.FaceCount, a.FaceCount); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// RankPersons filters by face count and visibility, sorts by ComparePersons
// and caps the result at PersonRankLimit. FaceCount must be populated.
func RankPersons(persons []Person, opts PersonSearchOptions) []Person {
	minFaces := opts.MinimumFaceCount
	if minFaces <= 0 {
		minFaces = DefaultMinimumFaceCount
	}

	out := make([]Person, 0, len(persons))
	for _, p := range persons {
		if p.IsHidden && !opts.WithHidden {
			continue
		}
		if p.FaceCount < minFaces {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, ComparePersons)

	if len(out) > PersonRankLimit {
		out = out[:PersonRankLimit]
	}
	return out
}
