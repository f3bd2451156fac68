package chunk

import "strings"

// SectionIndex resolves any alias (case/punctuation variant or TOC entry)
// to its canonical section id for one document.
type SectionIndex struct {
	sections map[string]Section // by canonical id
	aliases  map[string]string  // alias -> canonical id
}

// BuildSectionIndex indexes the sections extracted from one document.
func BuildSectionIndex(sections []Section) *SectionIndex {
	idx := &SectionIndex{
		sections: make(map[string]Section, len(sections)),
		aliases:  make(map[string]string),
	}
	for _, s := range sections {
		idx.sections[s.SectionID] = s
		idx.aliases[strings.ToLower(s.Title)] = s.SectionID
		for _, a := range s.Aliases {
			idx.aliases[a] = s.SectionID
		}
	}
	return idx
}

// Resolve maps a section id or title/alias to its canonical Section.
func (idx *SectionIndex) Resolve(ref string) (Section, bool) {
	if s, ok := idx.sections[ref]; ok {
		return s, true
	}
	if id, ok := idx.aliases[strings.ToLower(ref)]; ok {
		return idx.sections[id], true
	}
	return Section{}, false
}

// Canonical returns only the canonical (non-tiny) sections in ordinal
// order, the set list_sections is allowed to emit. This includes the
// untitled whole-document section ExtractSections produces when a text has
// no headings, once that text meets MinSectionBytes.
func (idx *SectionIndex) Canonical() []Section {
	var out []Section
	for _, s := range idx.sections {
		if s.Canonical {
			out = append(out, s)
		}
	}
	// ordinal order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Ordinal < out[j-1].Ordinal; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
