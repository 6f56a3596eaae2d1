package version

import "strings"

// Compare returns 1 if a > b, -1 if a < b and 0 when equal.
//
// Ordering: epoch first, then release components pairwise with the shorter
// sequence zero-padded (so 1.2 == 1.2.0), then pre-release rank (a final
// release outranks any pre-release at the same numeric level), then the
// pre-release number. Build/local metadata never participates.
//
// An unparseable version always ranks below a parseable one; two
// unparseable versions fall back to lexical ordering of their original
// tags. This keeps the relation total, transitive and antisymmetric.
func Compare(a, b Version) int {
	if a.Unparsed || b.Unparsed {
		switch {
		case a.Unparsed && b.Unparsed:
			return strings.Compare(a.Original, b.Original)
		case a.Unparsed:
			return -1
		default:
			return 1
		}
	}

	if a.Epoch != b.Epoch {
		return cmpInt(a.Epoch, b.Epoch)
	}

	if c := compareRelease(a.Release, b.Release); c != 0 {
		return c
	}

	return comparePre(a.Pre, b.Pre)
}

// Compare orders v against o; see the package-level Compare.
func (v Version) Compare(o Version) int {
	return Compare(v, o)
}

// Equal reports whether two versions occupy the same position in the
// ordering. Note that 1.2 and 1.2.0 are Equal.
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}

// LessThan reports whether v orders strictly before o.
func (v Version) LessThan(o Version) bool {
	return Compare(v, o) < 0
}

func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			return cmpInt(x, y)
		}
	}
	return 0
}

func comparePre(a, b *Prerelease) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1 // final release outranks any pre-release
	}
	if b == nil {
		return -1
	}
	if ra, rb := prereleaseRank[a.Label], prereleaseRank[b.Label]; ra != rb {
		return cmpInt(ra, rb)
	}
	return cmpInt(a.Number, b.Number)
}

func cmpInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}
