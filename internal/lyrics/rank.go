package lyrics

import "sort"

// Acceptable reports whether a candidate may take part in ranking. Strict
// mode keeps only candidates whose source confirmed the track match.
func Acceptable(c *Document, strict bool) bool {
	if c == nil {
		return false
	}
	return !strict || c.Meta.Matched
}

// Rank returns the acceptable candidates ordered by quality, highest first.
// Equal qualities keep arrival order. The input slice is not modified.
func Rank(candidates []*Document, strict bool) []*Document {
	out := make([]*Document, 0, len(candidates))
	for _, c := range candidates {
		if Acceptable(c, strict) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Meta.Quality > out[j].Meta.Quality })
	return out
}

// Better reports whether candidate should replace current. Only a strictly
// higher quality wins, so the earliest of equally good candidates is kept.
func Better(candidate, current *Document) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	return candidate.Meta.Quality > current.Meta.Quality
}
