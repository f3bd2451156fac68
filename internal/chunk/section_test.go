package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `INTRODUCTION

This paper studies foo.

METHODS

We used bar and baz extensively across many paragraphs of text that should
exceed the minimum section size threshold by a comfortable margin so that
this section is marked canonical without ambiguity in the test.

RESULTS

Results go here, also padded out with enough body text to clear the
minimum canonical section size so the test behaves deterministically.
`

func TestExtractSectionsDeterministic(t *testing.T) {
	a := ExtractSections(sampleDoc)
	b := ExtractSections(sampleDoc)
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, len(a), 3)
}

func TestExtractSectionsOrdinalIDs(t *testing.T) {
	sections := ExtractSections(sampleDoc)
	require.Equal(t, "section-001", sections[0].SectionID)
	require.Equal(t, "INTRODUCTION", sections[0].Title)
}

func TestExtractSectionsRejectsCitationLike(t *testing.T) {
	doc := "See Smith; Jones 2020\n\nBody text here that is long enough to pass the minimum section size threshold for this single test case to behave.\n"
	sections := ExtractSections(doc)
	require.Len(t, sections, 1)
	require.NotEqual(t, "See Smith; Jones 2020", sections[0].Title)
}

func TestExtractSectionsTinyNonCanonical(t *testing.T) {
	doc := "HEADING\n\ntiny\n"
	sections := ExtractSections(doc)
	for _, s := range sections {
		if s.Title == "HEADING" {
			require.False(t, s.Canonical)
		}
	}
}

func TestSectionIndexResolveAlias(t *testing.T) {
	sections := ExtractSections(sampleDoc)
	idx := BuildSectionIndex(sections)

	s, ok := idx.Resolve("section-002")
	require.True(t, ok)
	require.Equal(t, "METHODS", s.Title)

	s2, ok := idx.Resolve("methods")
	require.True(t, ok)
	require.Equal(t, s.SectionID, s2.SectionID)
}

func TestSectionIndexCanonicalOrder(t *testing.T) {
	sections := ExtractSections(sampleDoc)
	idx := BuildSectionIndex(sections)
	canon := idx.Canonical()
	for i := 1; i < len(canon); i++ {
		require.Less(t, canon[i-1].Ordinal, canon[i].Ordinal)
	}
}

func TestExtractSectionsNoHeadings(t *testing.T) {
	doc := strings.Repeat("plain body text with no headings at all. ", 20)
	sections := ExtractSections(doc)
	require.Len(t, sections, 1)
	require.Equal(t, "section-001", sections[0].SectionID)
}
