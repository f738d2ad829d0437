package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lyricsync/internal/lyrics"
)

type fakeClient struct {
	got []string
	err error
}

func (f *fakeClient) TranslateBatch(_ context.Context, texts []string, target string) ([]string, string, error) {
	f.got = texts
	if f.err != nil {
		return nil, "", f.err
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ToUpper(t)
	}
	return out, "en", nil
}

func TestTranslateSkipsBlankLines(t *testing.T) {
	client := &fakeClient{}
	doc := &lyrics.Document{Lines: []lyrics.Line{{Text: "one"}, {Text: "  "}, {Text: "two"}}}

	out, lang, err := New(client, "").Translate(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, client.got)
	assert.Equal(t, []string{"ONE", "", "TWO"}, out)

	Apply(doc, out, lang)
	assert.Equal(t, "ONE", doc.Lines[0].Translation)
	assert.Empty(t, doc.Lines[1].Translation)
	assert.Equal(t, "en", doc.Meta.TranslationLanguage)
	assert.True(t, doc.HasTranslation())
}

func TestTranslateErrors(t *testing.T) {
	_, _, err := New(&fakeClient{}, "").Translate(context.Background(), &lyrics.Document{})
	assert.ErrorIs(t, err, lyrics.ErrInvalidInput)

	doc := &lyrics.Document{Lines: []lyrics.Line{{Text: "x"}}}
	_, _, err = New(&fakeClient{err: errors.New("quota")}, "").Translate(context.Background(), doc)
	assert.ErrorIs(t, err, lyrics.ErrNetwork)
}
