package preload

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/datatypes"
)

func boolPtr(b bool) *bool { return &b }

func TestResolveShortlistEnabledLeanWins(t *testing.T) {
	on := boolPtr(true)
	enabled := ResolveShortlistEnabled(true, on, on, on, on, true, datatypes.SourceModeAuto)
	require.False(t, enabled)
}

func TestResolveShortlistEnabledLocalOnlyBeatsExplicitOn(t *testing.T) {
	on := boolPtr(true)
	enabled := ResolveShortlistEnabled(false, on, nil, nil, nil, true, datatypes.SourceModeLocalOnly)
	require.False(t, enabled, "local_only must disable web shortlist even with explicit on")
}

func TestResolveShortlistEnabledPrecedence(t *testing.T) {
	off := boolPtr(false)
	on := boolPtr(true)
	// session overrides model/global when explicit request is unset.
	enabled := ResolveShortlistEnabled(false, nil, on, off, off, false, datatypes.SourceModeAuto)
	require.True(t, enabled)
}

func TestResolveShortlistEnabledModeDefault(t *testing.T) {
	enabled := ResolveShortlistEnabled(false, nil, nil, nil, nil, true, datatypes.SourceModeAuto)
	require.True(t, enabled)
}

func TestSeedsCompleteRequiresAllFullContent(t *testing.T) {
	p := &Pipeline{}
	blocks := []Block{
		{URLOrHandle: "https://a.com", Label: LabelFullContent},
		{URLOrHandle: "https://b.com", Label: LabelFetchError},
	}
	complete := p.seedsComplete(blocks, []string{"https://a.com", "https://b.com"})
	require.False(t, complete)
}

func TestSeedsCompleteAllGood(t *testing.T) {
	p := &Pipeline{}
	blocks := []Block{
		{URLOrHandle: "https://a.com", Label: LabelFullContent},
		{URLOrHandle: "https://b.com", Label: LabelFullContent},
	}
	complete := p.seedsComplete(blocks, []string{"https://a.com", "https://b.com"})
	require.True(t, complete)
}

func TestUnderAllowedRoot(t *testing.T) {
	require.True(t, underAllowedRoot("/docs/paper.pdf", []string{"/docs"}))
	require.False(t, underAllowedRoot("/etc/passwd", []string{"/docs"}))
	require.False(t, underAllowedRoot("/docs/paper.pdf", nil))
}
