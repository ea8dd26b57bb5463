package models

import (
	"strings"
	"time"
	"unicode"
)

// Organization is the canonical record for a company or institution.
// Duplicates are prevented by the similarity threshold at resolution time
// and by the (normalized name, ticker) unique key at insert time.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Ticker      string    `json:"ticker"`
	Public      bool      `json:"public"`
	ParentOrg   string    `json:"parent_org"`
	Description string    `json:"description"`
	Sector      string    `json:"sector"`
	Embedding   Vector    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// NaturalKey returns the normalized (name, ticker) pair used for
// set-on-insert upserts.
func (o *Organization) NaturalKey() (string, string) {
	return NormalizeName(o.Name), NormalizeTicker(o.Ticker)
}

// Source is the canonical record for an information source (publisher,
// newsletter, analyst desk). Matched purely by embedding similarity.
type Source struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Embedding Vector    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Story aggregates near-identical fragments that describe the same fact.
// It grows by set union and is never deleted by the pipeline.
type Story struct {
	ID              string          `json:"id"`
	Embedding       Vector          `json:"-"`
	FragmentIDs     JSONStringArray `json:"fragment_ids"`
	OrganizationIDs JSONStringArray `json:"organization_ids"`
	SourceIDs       JSONStringArray `json:"source_ids"`
	CreatedAt       time.Time       `json:"created_at"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// NormalizeName returns a Title Case name, preserving short all-caps
// acronyms (4 characters or fewer) and collapsing whitespace.
func NormalizeName(name string) string {
	fields := strings.Fields(name)
	for i, f := range fields {
		if len(f) <= 4 && f == strings.ToUpper(f) && hasLetter(f) {
			continue
		}
		fields[i] = titleCase(f)
	}
	return strings.Join(fields, " ")
}

// NormalizeTicker returns the upper-case ticker, or "PRIVATE" when empty.
func NormalizeTicker(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "PRIVATE"
	}
	return t
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	r := []rune(lower)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
