package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"lyricsync/internal/lyrics"
	"lyricsync/pkg/tencent"
)

// Translator fills in line translations through a batch translation client.
type Translator struct {
	client tencent.TencentClient
	target string
}

// New returns a translator into target; an empty target picks English for
// Chinese lyrics and Chinese for everything else.
func New(client tencent.TencentClient, target string) *Translator {
	return &Translator{client: client, target: target}
}

// Translate returns one translation per line of doc, empty for blank lines,
// and the language translated into.
func (t *Translator) Translate(ctx context.Context, doc *lyrics.Document) ([]string, string, error) {
	var texts []string
	var index []int
	for i, l := range doc.Lines {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		texts = append(texts, l.Text)
		index = append(index, i)
	}
	if len(texts) == 0 {
		return nil, "", fmt.Errorf("nothing to translate: %w", lyrics.ErrInvalidInput)
	}

	translated, lang, err := t.client.TranslateBatch(ctx, texts, t.target)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", lyrics.ErrNetwork, err)
	}
	if len(translated) != len(texts) {
		return nil, "", fmt.Errorf("got %d translations for %d lines: %w", len(translated), len(texts), lyrics.ErrUnknown)
	}

	out := make([]string, len(doc.Lines))
	for j, i := range index {
		out[i] = translated[j]
	}
	log.Debug().Str("component", "translate").Int("lines", len(texts)).Str("lang", lang).Msg("Lyrics translated")
	return out, lang, nil
}

// Apply writes translations produced by Translate onto doc.
func Apply(doc *lyrics.Document, translations []string, lang string) {
	for i := range doc.Lines {
		if i < len(translations) && translations[i] != "" {
			doc.Lines[i].Translation = translations[i]
		}
	}
	doc.Meta.TranslationLanguage = lang
}
