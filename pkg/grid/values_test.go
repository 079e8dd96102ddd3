package grid

import (
	"testing"

	"github.com/matryer/is"
)

func TestUnescapeTextUnwrapsFencedText(t *testing.T) {
	is := is.New(t)

	is.Equal(UnescapeText("```plain text```"), "plain text")
	is.Equal(UnescapeText("``````"), "") // fenced empty string
}

func TestUnescapeTextUnescapesBackticks(t *testing.T) {
	is := is.New(t)

	is.Equal(UnescapeText("```run \\`go vet\\` first```"), "run `go vet` first")
}

func TestUnescapeTextLeavesUnfencedTextAlone(t *testing.T) {
	is := is.New(t)

	is.Equal(UnescapeText("plain text"), "plain text")
	is.Equal(UnescapeText("```"), "```") // too short to be fenced
}

func TestParseReference(t *testing.T) {
	is := is.New(t)

	ref, ok := ParseReference(map[string]any{
		"@type":   "RowReference",
		"tableId": "T2",
		"rowId":   "r2",
		"name":    "Northern gate",
	})

	is.True(ok)
	is.Equal(ref.TableID, "T2")
	is.Equal(ref.RowID, "r2")
	is.Equal(ref.Name, "Northern gate")
}

func TestParseReferenceRejectsIncompleteObjects(t *testing.T) {
	is := is.New(t)

	_, ok := ParseReference(map[string]any{"@type": "RowReference", "tableId": "T2"})
	is.True(!ok) // row id is missing

	_, ok = ParseReference(map[string]any{"@type": "Person", "email": "someone@diwise.io"})
	is.True(!ok) // not a row reference
}

func TestScalarFromRichValues(t *testing.T) {
	is := is.New(t)

	amount, ok := ScalarFromRich(map[string]any{"@type": "MonetaryAmount", "amount": 129.5, "currency": "SEK"})
	is.True(ok)
	is.Equal(amount, 129.5)

	url, ok := ScalarFromRich(map[string]any{"@type": "WebLink", "url": "https://diwise.io", "label": "diwise"})
	is.True(ok)
	is.Equal(url, "https://diwise.io")

	email, ok := ScalarFromRich(map[string]any{"@type": "Person", "name": "Some One", "email": "someone@diwise.io"})
	is.True(ok)
	is.Equal(email, "someone@diwise.io")
}

func TestScalarFromRichLeavesUnknownShapesAlone(t *testing.T) {
	is := is.New(t)

	_, ok := ScalarFromRich(map[string]any{"@type": "Canvas", "contents": "..."})
	is.True(!ok)
}
