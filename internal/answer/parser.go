package answer

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	prosOpen  = "<PROS>"
	prosClose = "</PROS>"
	consOpen  = "<CONS>"
	consClose = "</CONS>"
	bullet    = "•"
)

// Sections holds the claims extracted from raw provider output.
type Sections struct {
	Pros []string
	Cons []string
}

// Parse extracts bullet claims from the <PROS> and <CONS> sections of raw
// provider output. A missing section yields an empty list; when both are empty
// Parse returns ErrEmptyAnswer.
func Parse(raw string) (Sections, error) {
	s := Sections{
		Pros: bullets(section(raw, prosOpen, prosClose)),
		Cons: bullets(section(raw, consOpen, consClose)),
	}
	if len(s.Pros) == 0 && len(s.Cons) == 0 {
		return Sections{}, ErrEmptyAnswer
	}
	return s, nil
}

// section returns the text between the first occurrence of open and the
// following close marker. When close is missing the section ends at the next
// opening marker of any section, or at the end of the text.
func section(raw, open, close string) string {
	start := strings.Index(raw, open)
	if start < 0 {
		return ""
	}
	body := raw[start+len(open):]
	if end := strings.Index(body, close); end >= 0 {
		return body[:end]
	}
	end := len(body)
	for _, m := range []string{prosOpen, consOpen} {
		if i := strings.Index(body, m); i >= 0 && i < end {
			end = i
		}
	}
	return body[:end]
}

func bullets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, bullet) {
			continue
		}
		claim := strings.TrimSpace(strings.TrimPrefix(line, bullet))
		if claim == "" {
			continue
		}
		out = append(out, claim)
	}
	return out
}

// BuildCitations numbers sources in order, starting at 1. The citation text
// is the title, else the snippet, else the link.
func BuildCitations(sources []Source) []Citation {
	citations := make([]Citation, 0, len(sources))
	for i, src := range sources {
		text := strings.TrimSpace(src.Title)
		if text == "" {
			text = strings.TrimSpace(src.Snippet)
		}
		if text == "" {
			text = src.Link
		}
		citations = append(citations, Citation{ID: i + 1, Text: text, URL: src.Link})
	}
	return citations
}

var markerRe = regexp.MustCompile(`\s*\[(\d+)\]`)

// Assemble combines parsed sections with citations. Markers written by the
// provider are kept only when they reference an existing citation.
func Assemble(s Sections, citations []Citation) Answer {
	return Answer{
		Pros:      keepValidMarkers(s.Pros, len(citations)),
		Cons:      keepValidMarkers(s.Cons, len(citations)),
		Citations: citations,
	}.Normalize()
}

func keepValidMarkers(claims []string, n int) []string {
	out := make([]string, 0, len(claims))
	for _, c := range claims {
		c = markerRe.ReplaceAllStringFunc(c, func(m string) string {
			sub := markerRe.FindStringSubmatch(m)
			id, err := strconv.Atoi(sub[1])
			if err != nil || id < 1 || id > n {
				return ""
			}
			return m
		})
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Markers returns the citation ids referenced by a claim, in order of appearance.
func Markers(claim string) []int {
	var ids []int
	for _, m := range markerRe.FindAllStringSubmatch(claim, -1) {
		if id, err := strconv.Atoi(m[1]); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
