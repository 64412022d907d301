package answer

import (
	"errors"
	"fmt"
)

// ErrEmptyAnswer is returned when the provider output yields neither pros nor
// cons, which means it did not honor the output grammar.
var ErrEmptyAnswer = errors.New("provider response contained no pros or cons")

// Answer is the structured result returned for a question.
type Answer struct {
	Pros      []string   `json:"pros"`
	Cons      []string   `json:"cons"`
	Citations []Citation `json:"citations"`
}

// Citation is a numbered source referenced by [n] markers in claims.
type Citation struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// Source is a search result as returned by the research provider.
type Source struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Normalize returns a with nil sections replaced by empty slices, so the
// answer encodes as [] and compares equal to its cached copy.
func (a Answer) Normalize() Answer {
	if a.Pros == nil {
		a.Pros = []string{}
	}
	if a.Cons == nil {
		a.Cons = []string{}
	}
	if a.Citations == nil {
		a.Citations = []Citation{}
	}
	return a
}

// Validate reports whether the answer can be served and cached.
func (a Answer) Validate() error {
	if len(a.Pros) == 0 && len(a.Cons) == 0 {
		return ErrEmptyAnswer
	}
	for i, c := range a.Citations {
		if c.ID != i+1 {
			return fmt.Errorf("citation %d has id %d, want %d", i, c.ID, i+1)
		}
	}
	if err := checkClaims("pro", a.Pros, len(a.Citations)); err != nil {
		return err
	}
	return checkClaims("con", a.Cons, len(a.Citations))
}

func checkClaims(kind string, claims []string, citations int) error {
	for i, c := range claims {
		if c == "" {
			return fmt.Errorf("%s %d is empty", kind, i)
		}
		for _, id := range Markers(c) {
			if id < 1 || id > citations {
				return fmt.Errorf("%s %d references missing citation [%d]", kind, i, id)
			}
		}
	}
	return nil
}
