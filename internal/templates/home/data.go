// Package home renders the Home screen and its htmx fragments.
package home

import (
	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/wishlist"
)

const placeholderCover = "/public/static/default-cover.svg"

// PageData is everything the Home screen shows.
type PageData struct {
	Email     string
	Query     string
	Genres    []catalog.Option
	Books     []catalog.Book
	Wishlist  []wishlist.Entry
	CSRFToken string
	// Tab identifies the rendered page so overlapping searches from it can
	// be ordered on the server.
	Tab string
}

// genreSelected marks the option matching the query, or the placeholder
// when there is none.
func (d PageData) genreSelected(i int, opt catalog.Option) bool {
	if d.Query == "" {
		return i == 0
	}
	return opt.Value == d.Query
}

func coverSrc(src string) string {
	if src == "" || src == catalog.DefaultImage {
		return placeholderCover
	}
	return src
}
