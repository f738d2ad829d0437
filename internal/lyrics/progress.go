package lyrics

import (
	"math"
	"sort"
	"unicode/utf8"
)

// NominalLineDuration is the assumed length of a line without word timing.
const NominalLineDuration = 4.0

// Progress returns how much of the line has been sung after elapsed seconds,
// in [0, 1].
func Progress(line Line, elapsed float64) float64 {
	return ProgressWithin(line, elapsed, NominalLineDuration)
}

// ProgressWithin is Progress with an explicit duration for lines that carry
// no timetags.
func ProgressWithin(line Line, elapsed, span float64) float64 {
	if math.IsNaN(elapsed) {
		return 0
	}
	if len(line.Timetags) == 0 {
		if span <= 0 {
			span = NominalLineDuration
		}
		return clamp01(elapsed / span)
	}

	length := utf8.RuneCountInString(line.Text)
	if length == 0 {
		return 0
	}

	tags := line.Timetags
	// first tag strictly after elapsed; the one before it is the last tag <= elapsed
	i := sort.Search(len(tags), func(i int) bool { return tags[i].Time > elapsed })
	tag := tags[0]
	if i > 0 {
		tag = tags[i-1]
	}
	return clamp01(float64(tag.Index) / float64(length))
}

// LineSpan returns the gap between line i and the next line, falling back to
// NominalLineDuration for the last line or a non-positive gap.
func LineSpan(lines []Line, i int) float64 {
	if i < 0 || i+1 >= len(lines) {
		return NominalLineDuration
	}
	gap := lines[i+1].Position - lines[i].Position
	if gap <= 0 {
		return NominalLineDuration
	}
	return gap
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
