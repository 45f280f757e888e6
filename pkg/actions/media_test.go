package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/copilotz/pkg/domain"
)

func TestExtractMedia(t *testing.T) {
	img := "data:image/png;base64,AAAA"
	in := map[string]any{
		"name": "report",
		"files": []any{
			map[string]any{"preview": img, "title": "a"},
			"plain",
		},
		"cover": img,
	}

	clean, media := ExtractMedia(in)

	assert.Equal(t, map[string]any{
		"name": "report",
		"files": []any{
			map[string]any{"title": "a"},
			"plain",
		},
	}, clean)
	assert.Equal(t, map[string]any{"files.0.preview": img, "cover": img}, media)
}

func TestSplitMedia(t *testing.T) {
	res := attachMedia("text", map[string]any{"x": "data:audio/wav;base64,AA=="})
	rest, media := SplitMedia(res)
	assert.Equal(t, map[string]any{"data": "text"}, rest)
	assert.Len(t, media, 1)

	rest, media = SplitMedia(42)
	assert.Equal(t, 42, rest)
	assert.Nil(t, media)

	plain := map[string]any{"a": 1}
	assert.Equal(t, plain, attachMedia(plain, nil))
	assert.NotContains(t, plain, domain.MediaKey)
}

func TestIsBinaryContent(t *testing.T) {
	assert.True(t, isBinaryContent("image/png"))
	assert.True(t, isBinaryContent("application/pdf"))
	assert.False(t, isBinaryContent("application/json; charset=utf-8"))
	assert.False(t, isBinaryContent("application/problem+json"))
	assert.False(t, isBinaryContent("text/plain"))
	assert.False(t, isBinaryContent(""))
}
