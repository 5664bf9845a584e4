package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// SampleSize is the number of books shown per search.
	SampleSize = 20
	// DefaultImage is rendered when a record carries no cover id.
	DefaultImage = "default.jpg"
)

// Book is a display-ready search result. ID is the record's position in the
// response page, so it is only unique within one search.
type Book struct {
	ID       int
	ImageURL string
	Title    string
	Author   string
}

// normalizeText trims catalogue text and normalises it to NFC. Markup and
// entities are kept as sent; templates escape them on output.
func normalizeText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
