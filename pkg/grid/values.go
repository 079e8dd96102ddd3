package grid

import (
	"strings"
)

// Structured cell values are JSON objects carrying a @type discriminator.
const (
	TypeRowReference   string = "RowReference"
	TypeMonetaryAmount string = "MonetaryAmount"
	TypeWebLink        string = "WebLink"
	TypeImageObject    string = "ImageObject"
	TypePerson         string = "Person"
)

const textFence string = "```"

// UnescapeText strips the triple backtick fence the service wraps around
// text that could collide with structured value markers, and unescapes
// any backticks inside the fence.
func UnescapeText(s string) string {
	if !strings.HasPrefix(s, textFence) || !strings.HasSuffix(s, textFence) || len(s) < 2*len(textFence) {
		return s
	}

	s = s[len(textFence) : len(s)-len(textFence)]
	return strings.ReplaceAll(s, "\\`", "`")
}

// Reference is a structured cell value pointing at a row in another table.
type Reference struct {
	TableID string
	RowID   string
	Name    string
}

func ParseReference(obj map[string]any) (*Reference, bool) {
	if typeName, ok := obj["@type"].(string); !ok || typeName != TypeRowReference {
		return nil, false
	}

	ref := &Reference{}
	ref.TableID, _ = obj["tableId"].(string)
	ref.RowID, _ = obj["rowId"].(string)
	ref.Name, _ = obj["name"].(string)

	if ref.TableID == "" || ref.RowID == "" {
		return nil, false
	}

	return ref, true
}

func (r Reference) Wire() map[string]any {
	obj := map[string]any{
		"@type":   TypeRowReference,
		"tableId": r.TableID,
		"rowId":   r.RowID,
	}

	if r.Name != "" {
		obj["name"] = r.Name
	}

	return obj
}

// ScalarFromRich maps a structured rich value to the single scalar that
// represents it: a monetary amount to its amount, a link or image to its
// url and a person to their email address. Objects with an unknown @type
// are not mapped, so that they can be passed through untouched.
func ScalarFromRich(obj map[string]any) (any, bool) {
	typeName, ok := obj["@type"].(string)
	if !ok {
		return nil, false
	}

	switch typeName {
	case TypeMonetaryAmount:
		amount, ok := obj["amount"].(float64)
		return amount, ok
	case TypeWebLink, TypeImageObject:
		url, ok := obj["url"].(string)
		return url, ok
	case TypePerson:
		email, ok := obj["email"].(string)
		return email, ok
	}

	return nil, false
}
