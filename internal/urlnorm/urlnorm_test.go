package urlnorm

import "testing"

func TestNormalizeIdempotent(t *testing.T) {
	cases := []string{
		"HTTP://Example.COM:80/Path/?b=2&a=1&utm_source=x",
		"example.com",
		"https://example.com/path/",
		"https://example.com#frag",
	}
	for _, c := range cases {
		n1, err := Normalize(c)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", c, err)
		}
		n2, err := Normalize(n1)
		if err != nil {
			t.Fatalf("Normalize(%q) second pass: %v", n1, err)
		}
		if n1 != n2 {
			t.Errorf("not idempotent: N(%q)=%q, N(N(%q))=%q", c, n1, c, n2)
		}
	}
}

func TestNormalizeDedup(t *testing.T) {
	a, _ := Normalize("HTTP://Example.com:80/path?b=2&a=1&utm_source=news")
	b, _ := Normalize("http://example.com/path?a=1&b=2")
	if a != b {
		t.Errorf("expected equal canonical forms, got %q vs %q", a, b)
	}
}

func TestNormalizeStripsFragment(t *testing.T) {
	n, _ := Normalize("https://example.com/a#section-1")
	if n != "https://example.com/a" {
		t.Errorf("expected fragment stripped, got %q", n)
	}
}

func TestIsHandle(t *testing.T) {
	if !IsHandle("corpus://cache/abc123") {
		t.Error("expected corpus handle to be recognized")
	}
	if IsHandle("https://example.com") {
		t.Error("expected web URL to not be a handle")
	}
}
