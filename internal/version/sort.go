package version

import "sort"

// SortDescending sorts versions newest-first. The input slice is not
// modified; a new sorted slice is returned.
func SortDescending(versions []Version) []Version {
	result := make([]Version, len(versions))
	copy(result, versions)

	sort.SliceStable(result, func(i, j int) bool {
		return Compare(result[i], result[j]) > 0
	})

	return result
}

// Max returns the highest version in the slice and true, or the zero value
// and false for an empty slice.
func Max(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, best) > 0 {
			best = v
		}
	}
	return best, true
}
