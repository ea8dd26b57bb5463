package models

import (
	"strings"
	"time"
)

// Fragment is a contiguous slice of a source document, already embedded
// by the extraction stage. The pipeline consumes fragments with
// Include=true and Processed=false.
type Fragment struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Summary     string          `json:"summary"`
	SourceName  string          `json:"source_name"`
	Instruments JSONStringArray `json:"instruments"`
	Embedding   Vector          `json:"-"`
	Include     bool            `json:"include"`
	Processed   bool            `json:"processed"`
	PublishedAt time.Time       `json:"published_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Text returns the text used for story resolution and summarization
// input.
func (f *Fragment) Text() string {
	if f.Summary != "" {
		return f.Summary + "\n\n" + f.Body
	}
	return f.Body
}

// DedupKey returns the exact-duplicate key: lowercased title and body
// with whitespace runs collapsed. Two fragments with the same key are
// the same text regardless of formatting.
func (f *Fragment) DedupKey() string {
	return strings.Join(strings.Fields(strings.ToLower(f.Title+" "+f.Body)), " ")
}
