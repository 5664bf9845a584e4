package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed genres.yaml
var genresYAML []byte

// Option is one entry of the genre selector.
type Option struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

// GenreList is the fixed genre selector: a placeholder followed by the genres.
type GenreList struct {
	Placeholder Option   `yaml:"placeholder"`
	Genres      []string `yaml:"genres"`
}

// Options returns the selector entries with the placeholder first.
func (g GenreList) Options() []Option {
	out := make([]Option, 0, len(g.Genres)+1)
	out = append(out, g.Placeholder)
	for _, genre := range g.Genres {
		out = append(out, Option{Value: genre, Label: genre})
	}
	return out
}

// IsPlaceholder reports whether query means "nothing selected"; such queries
// must not reach the search API.
func (g GenreList) IsPlaceholder(query string) bool {
	trimmed := strings.TrimSpace(query)
	return trimmed == "" || trimmed == g.Placeholder.Value
}

var loadGenres = sync.OnceValues(func() (GenreList, error) {
	var list GenreList
	if err := yaml.Unmarshal(genresYAML, &list); err != nil {
		return GenreList{}, fmt.Errorf("catalog: parse genres: %w", err)
	}
	if list.Placeholder.Value == "" || len(list.Genres) == 0 {
		return GenreList{}, fmt.Errorf("catalog: genres.yaml is incomplete")
	}
	return list, nil
})

// Genres returns the embedded genre list. It panics if the embedded file is
// malformed, which is a build defect.
func Genres() GenreList {
	list, err := loadGenres()
	if err != nil {
		panic(err)
	}
	return list
}
