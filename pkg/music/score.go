package music

import (
	"math"
	"strings"
	"unicode"

	"lyricsync/internal/lyrics"
)

// 时长误差在此范围内视为同一首歌（秒）
const maxDurationDiff = 3.0

// normalizeString 标准化字符串（转小写，去掉空白和标点）
func normalizeString(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fuzzyMatch 忽略大小写和空格的双向包含检查
func fuzzyMatch(s1, s2 string) bool {
	n1, n2 := normalizeString(s1), normalizeString(s2)
	if n1 == "" || n2 == "" {
		return n1 == n2
	}
	return strings.Contains(n1, n2) || strings.Contains(n2, n1)
}

// score 给候选打分并标记是否匹配。rank 是提供商的优先级下标，越小越优先。
func score(doc *lyrics.Document, r Result, q Query, rank, total int) {
	titleOK := fuzzyMatch(r.Title, q.Title)
	artistOK := q.Artist == "" || fuzzyMatch(r.Artist, q.Artist)

	durationKnown := r.Duration > 0 && q.Duration > 0
	diff := math.Abs(r.Duration - q.Duration)
	durationOK := !durationKnown || diff <= maxDurationDiff

	quality := 0.0
	if titleOK {
		quality += 3
	}
	if artistOK {
		quality += 2
	}
	switch {
	case durationKnown && durationOK:
		quality += 2
	case durationKnown && diff > 10:
		quality -= 2
	}
	if doc.HasTimetags() {
		quality++
	}
	if doc.HasTranslation() {
		quality += 0.5
	}
	quality += float64(total-rank) * 0.1

	doc.Meta.Quality = quality
	doc.Meta.Matched = titleOK && artistOK && durationOK
}

// mergeTranslation 把翻译歌词按时间戳挂到原文行上
func mergeTranslation(doc, translation *lyrics.Document) {
	byStamp := make(map[int64]string, translation.Len())
	for _, l := range translation.Lines {
		if l.Text != "" {
			byStamp[int64(math.Round(l.Position*100))] = l.Text
		}
	}
	for i := range doc.Lines {
		if tr, ok := byStamp[int64(math.Round(doc.Lines[i].Position*100))]; ok && doc.Lines[i].Text != "" {
			doc.Lines[i].Translation = tr
		}
	}
}
