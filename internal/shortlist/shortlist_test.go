package shortlist

import "testing"

func TestExtractSeedURLs(t *testing.T) {
	prompt := "Summarize https://example.org/a and https://example.org/b please"
	seeds := ExtractSeedURLs(prompt)
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d: %v", len(seeds), seeds)
	}
}

func TestExtractSeedURLsBareDomain(t *testing.T) {
	seeds := ExtractSeedURLs("check openai.com for details")
	if len(seeds) != 1 {
		t.Fatalf("expected 1 bare-domain seed, got %d: %v", len(seeds), seeds)
	}
}

func TestStripURLsRemovesSeeds(t *testing.T) {
	stripped := StripURLs("Summarize https://example.org/a please")
	if contains := stripContains(stripped, "https://"); contains {
		t.Fatalf("expected URL stripped, got %q", stripped)
	}
}

func stripContains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestKeyphrasesSkipsStopwords(t *testing.T) {
	kps := Keyphrases("what is the summary of machine learning systems")
	for _, kp := range kps {
		if kp == "what" || kp == "the" || kp == "is" {
			t.Fatalf("expected stopword filtered, got %v", kps)
		}
	}
}

func TestDiversityTopKPrefersDistinctDomains(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://a.com/1", Score: 0.9, FirstSeenIdx: 0},
		{URL: "https://a.com/2", Score: 0.8, FirstSeenIdx: 1},
		{URL: "https://b.com/1", Score: 0.5, FirstSeenIdx: 2},
	}
	top := diversityTopK(candidates, 2)
	domains := map[string]bool{}
	for _, c := range top {
		domains[domainOf(c.URL)] = true
	}
	if len(domains) != 2 {
		t.Fatalf("expected 2 distinct domains in top-2, got %v", top)
	}
}

func TestEnsureSeedsPresent(t *testing.T) {
	all := []Candidate{
		{URL: "https://seed.com/x", Score: 0.01, FirstSeenIdx: 0, IsSeed: true},
		{URL: "https://best.com/y", Score: 0.99, FirstSeenIdx: 1},
	}
	selected := diversityTopK(all, 1)
	selected = ensureSeedsPresent(selected, all, []string{"https://seed.com/x"})
	found := false
	for _, c := range selected {
		if c.URL == "https://seed.com/x" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected seed URL present even below cutoff, got %v", selected)
	}
}
