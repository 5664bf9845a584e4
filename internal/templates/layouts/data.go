// Package layouts holds the document shell shared by every page.
package layouts

import (
	"encoding/json"
	"strings"
)

// PageData describes the shell around a page body.
type PageData struct {
	Title     string
	CSRFToken string
	// Live enables the session push socket on pages that need it.
	Live bool
}

func (d PageData) documentTitle() string {
	if strings.TrimSpace(d.Title) == "" {
		return "Bookfinder"
	}
	return d.Title + " | Bookfinder"
}

// csrfHeaders is the hx-headers value that makes htmx send the token as
// X-CSRF-Token on every request.
func (d PageData) csrfHeaders() string {
	encoded, err := json.Marshal(map[string]string{"X-CSRF-Token": d.CSRFToken})
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
