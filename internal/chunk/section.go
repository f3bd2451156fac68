package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MinSectionBytes is the size below which a section is non-canonical and
// refused by section-scoped tools.
const MinSectionBytes = 200

var (
	citationLike    = regexp.MustCompile(`;`)
	statisticalLike = regexp.MustCompile(`\b[A-Za-z]+\(\d`)
)

// Section is one heading-delimited span of a document, prior to storage.
type Section struct {
	SectionID string
	Title     string
	Ordinal   int
	ByteStart int
	ByteEnd   int
	Canonical bool
	Aliases   []string
}

// headingScore heuristically scores a line's likelihood of being a
// heading, using uppercase ratio, length, and whether it stands alone
// (isolated between blank lines).
func headingScore(line string, isolated bool) float64 {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0
	}
	words := strings.Fields(trimmed)
	if len(words) > 12 {
		return 0
	}
	if citationLike.MatchString(trimmed) {
		return 0
	}
	if statisticalLike.MatchString(trimmed) && len(words) <= 3 {
		return 0
	}
	if isSingleNonASCIIToken(trimmed) {
		return 0
	}

	letters, upper := 0, 0
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	var upperRatio float64
	if letters > 0 {
		upperRatio = float64(upper) / float64(letters)
	}

	score := upperRatio * 0.6
	if len(trimmed) <= 80 {
		score += 0.2
	}
	if isolated {
		score += 0.2
	}
	return score
}

func isSingleNonASCIIToken(s string) bool {
	if strings.Contains(s, " ") {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

const headingScoreThreshold = 0.5

// ExtractSections scans text line-by-line, classifying every line whose
// heading score (which favours isolated lines but does not require
// isolation) reaches headingScoreThreshold as a section heading. When no
// line qualifies, the whole text becomes one untitled section-001, which
// is canonical if it meets MinSectionBytes. Determinism: identical bytes
// always produce identical section boundaries and ids, since the
// heuristic and ordinal assignment are pure functions of line content and
// position.
func ExtractSections(text string) []Section {
	lines := strings.Split(text, "\n")
	type headingLine struct {
		lineIdx   int
		byteStart int
		title     string
	}
	var headings []headingLine
	byteOffset := 0
	for i, line := range lines {
		isolated := (i == 0 || strings.TrimSpace(lines[i-1]) == "") &&
			(i == len(lines)-1 || strings.TrimSpace(lines[i+1]) == "")
		if headingScore(line, isolated) >= headingScoreThreshold {
			headings = append(headings, headingLine{lineIdx: i, byteStart: byteOffset, title: strings.TrimSpace(line)})
		}
		byteOffset += len(line) + 1
	}

	if len(headings) == 0 {
		return []Section{{
			SectionID: "section-001",
			Title:     "",
			Ordinal:   1,
			ByteStart: 0,
			ByteEnd:   len(text),
			Canonical: len(text) >= MinSectionBytes,
		}}
	}

	var sections []Section
	for i, h := range headings {
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1].byteStart
		}
		ordinal := i + 1
		sections = append(sections, Section{
			SectionID: sectionID(ordinal),
			Title:     h.title,
			Ordinal:   ordinal,
			ByteStart: h.byteStart,
			ByteEnd:   end,
			Canonical: (end - h.byteStart) >= MinSectionBytes,
			Aliases:   aliasesFor(h.title),
		})
	}
	return sections
}

func sectionID(ordinal int) string {
	return fmt.Sprintf("section-%03d", ordinal)
}

// aliasesFor derives case/punctuation variants of a title that should
// resolve to the same canonical section id.
func aliasesFor(title string) []string {
	lower := strings.ToLower(title)
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, title)
	aliases := []string{lower, strings.TrimSpace(strings.ToLower(stripped))}
	seen := map[string]bool{title: true}
	var out []string
	for _, a := range aliases {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
