package lyrics

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Parser turns raw lyrics text into a Document.
type Parser interface {
	Parse(text string) (*Document, error)
}

// LRCParser reads plain LRC and the LRCX extensions (translation and
// word timetag lines).
type LRCParser struct{}

var (
	timeTagRe = regexp.MustCompile(`^\[(\d+):(\d{1,2})(?:[.:](\d{1,3}))?\]`)
	idTagRe   = regexp.MustCompile(`^\[([a-zA-Z]+):(.*)\]\s*$`)
	trTagRe   = regexp.MustCompile(`^\[tr(?::([^\]]*))?\]`)
	ttTagRe   = regexp.MustCompile(`^\[tt\]`)
	wordTagRe = regexp.MustCompile(`<(\d+),(-?\d+)>`)
)

func (LRCParser) Parse(text string) (*Document, error) {
	return ParseLRC(text)
}

// ParseLRC parses LRC/LRCX text. Text without a single timed line is a
// parsing error.
func ParseLRC(text string) (*Document, error) {
	doc := &Document{}
	// last line index registered for a timestamp, in milliseconds
	byStamp := make(map[int64]int)

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		stamps, rest := splitTimeTags(raw)
		if len(stamps) == 0 {
			parseIDTag(doc, raw)
			continue
		}

		if m := trTagRe.FindStringSubmatch(rest); m != nil {
			if m[1] != "" {
				doc.Meta.TranslationLanguage = m[1]
			}
			translation := strings.TrimSpace(rest[len(m[0]):])
			for _, s := range stamps {
				if i, ok := byStamp[stampKey(s)]; ok {
					doc.Lines[i].Translation = translation
				}
			}
			continue
		}

		if loc := ttTagRe.FindStringIndex(rest); loc != nil {
			tags := parseTimetags(rest[loc[1]:])
			for _, s := range stamps {
				if i, ok := byStamp[stampKey(s)]; ok {
					doc.Lines[i].Timetags = tags
				}
			}
			continue
		}

		content := strings.TrimSpace(rest)
		for _, s := range stamps {
			doc.Lines = append(doc.Lines, Line{Position: s, Text: content})
			byStamp[stampKey(s)] = len(doc.Lines) - 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsing, err)
	}

	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("%w: no timed lines", ErrParsing)
	}

	doc.Sort()
	return doc, nil
}

// splitTimeTags strips every leading [mm:ss.xx] tag, which lets one text line
// repeat at several positions.
func splitTimeTags(line string) ([]float64, string) {
	var stamps []float64
	for {
		m := timeTagRe.FindStringSubmatch(line)
		if m == nil {
			return stamps, line
		}
		minutes, _ := strconv.Atoi(m[1])
		sec, _ := strconv.Atoi(m[2])
		ms := 0
		if m[3] != "" {
			ms, _ = strconv.Atoi(m[3])
			switch len(m[3]) {
			case 1:
				ms *= 100
			case 2:
				ms *= 10
			}
		}
		stamps = append(stamps, float64(minutes*60+sec)+float64(ms)/1000)
		line = line[len(m[0]):]
	}
}

func parseIDTag(doc *Document, raw string) {
	m := idTagRe.FindStringSubmatch(raw)
	if m == nil {
		return
	}
	value := strings.TrimSpace(m[2])
	switch strings.ToLower(m[1]) {
	case "ti":
		doc.Meta.Title = value
	case "ar":
		doc.Meta.Artist = value
	case "al":
		doc.Meta.Album = value
	case "la":
		doc.Meta.Language = value
	case "offset":
		if ms, err := strconv.Atoi(strings.TrimPrefix(value, "+")); err == nil {
			doc.Meta.Offset = float64(ms) / 1000
		}
	case "length":
		if stamps, rest := splitTimeTags("[" + value + "]"); len(stamps) == 1 && rest == "" {
			doc.Meta.Duration = stamps[0]
		}
	}
}

func parseTimetags(s string) []Timetag {
	var tags []Timetag
	for _, m := range wordTagRe.FindAllStringSubmatch(s, -1) {
		idx, _ := strconv.Atoi(m[1])
		ms, _ := strconv.Atoi(m[2])
		tags = append(tags, Timetag{Index: idx, Time: float64(ms) / 1000})
	}
	return tags
}

func stampKey(s float64) int64 {
	return int64(math.Round(s * 1000))
}

// FormatLRCX serializes a document in the LRCX dialect understood by ParseLRC.
func FormatLRCX(doc *Document) string {
	var b strings.Builder
	writeTag := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "[%s:%s]\n", name, value)
		}
	}
	writeTag("ti", doc.Meta.Title)
	writeTag("ar", doc.Meta.Artist)
	writeTag("al", doc.Meta.Album)
	writeTag("la", doc.Meta.Language)
	if doc.Meta.Offset != 0 {
		fmt.Fprintf(&b, "[offset:%d]\n", int64(math.Round(doc.Meta.Offset*1000)))
	}

	for _, l := range doc.Lines {
		stamp := formatStamp(l.Position)
		fmt.Fprintf(&b, "%s%s\n", stamp, l.Text)
		if l.Translation != "" {
			if doc.Meta.TranslationLanguage != "" {
				fmt.Fprintf(&b, "%s[tr:%s]%s\n", stamp, doc.Meta.TranslationLanguage, l.Translation)
			} else {
				fmt.Fprintf(&b, "%s[tr]%s\n", stamp, l.Translation)
			}
		}
		if len(l.Timetags) > 0 {
			b.WriteString(stamp)
			b.WriteString("[tt]")
			for _, t := range l.Timetags {
				fmt.Fprintf(&b, "<%d,%d>", t.Index, int64(math.Round(t.Time*1000)))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatStamp(pos float64) string {
	if pos < 0 {
		pos = 0
	}
	ms := int64(math.Round(pos * 1000))
	return fmt.Sprintf("[%02d:%02d.%03d]", ms/60000, (ms/1000)%60, ms%1000)
}
