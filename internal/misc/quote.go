package misc

import "strings"

const unknownAuthor = "Unknown"

// Quote is a motivational line served between workouts.
type Quote struct {
	Text   string `json:"text"`
	Author string `json:"author"`
	Genre  string `json:"genre"`
}

// NewQuote trims every field and lower-cases the genre. A missing author
// becomes "Unknown".
func NewQuote(text string, author string, genre string) *Quote {
	author = strings.TrimSpace(author)
	if author == "" {
		author = unknownAuthor
	}
	return &Quote{
		Text:   strings.TrimSpace(text),
		Author: author,
		Genre:  strings.ToLower(strings.TrimSpace(genre)),
	}
}
