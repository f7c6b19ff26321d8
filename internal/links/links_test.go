package links

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/pkg/anthropic"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain https", "https://example.com/page", "https://example.com/page", true},
		{"bare domain", "example.com/about", "https://example.com/about", true},
		{"host lowercased", "https://Example.COM/Page", "https://example.com/Page", true},
		{"trailing slash stripped", "https://example.com/", "https://example.com", true},
		{"fragment stripped", "https://example.com/a#section", "https://example.com/a", true},
		{"utm stripped", "https://example.com/a?utm_source=x&utm_medium=y", "https://example.com/a", true},
		{"fbclid stripped", "https://example.com/a?fbclid=abc&id=2", "https://example.com/a?id=2", true},
		{"mailto rejected", "mailto:jane@example.com", "", false},
		{"javascript rejected", "javascript:alert(1)", "", false},
		{"relative rejected", "/about", "", false},
		{"empty rejected", "  ", "", false},
		{"no dot rejected", "localhost", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeURL(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractURLs(t *testing.T) {
	text := "See https://example.com/a, and also http://example.org/b. Not a link: ftp://x"
	got := ExtractURLs(text)
	assert.Equal(t, []string{"https://example.com/a", "http://example.org/b"}, got)
}

func TestCollectCandidates(t *testing.T) {
	groups := [][]model.ExtraLink{
		{{Label: "Site", URL: "https://example.com/"}},
		{{Label: "Dup", URL: "https://EXAMPLE.com"}, {Label: "Other", URL: "https://example.org"}},
	}

	got := CollectCandidates(10, groups...)
	require.Len(t, got, 2)
	// First label wins for a deduped URL.
	assert.Equal(t, model.ExtraLink{Label: "Site", URL: "https://example.com"}, got[0])
	assert.Equal(t, model.ExtraLink{Label: "Other", URL: "https://example.org"}, got[1])
}

func TestCollectCandidatesCapped(t *testing.T) {
	var group []model.ExtraLink
	for _, u := range []string{"https://a.com", "https://b.com", "https://c.com"} {
		group = append(group, model.ExtraLink{URL: u})
	}
	got := CollectCandidates(2, group)
	assert.Len(t, got, 2)
}

type fakeChat struct {
	response string
	requests []anthropic.MessageRequest
}

func (f *fakeChat) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	return &anthropic.MessageResponse{Text: f.response}, nil
}

func TestCurate(t *testing.T) {
	chat := &fakeChat{response: `{"links": [
		{"label": "LinkedIn", "url": "https://linkedin.com/in/jane"},
		{"label": "Unknown", "url": "https://sneaky.example.com"},
		{"label": "", "url": "https://example.com"},
		{"label": "Site", "url": "https://example.com"}
	]}`}

	c := &Curator{Chat: chat, Model: "test-model", MaxCandidates: 10, MaxSelected: 6}
	candidates := []model.ExtraLink{
		{Label: "LinkedIn", URL: "https://linkedin.com/in/jane"},
		{Label: "Site", URL: "https://example.com"},
	}

	got, err := c.Curate(context.Background(), &model.Contact{FullName: "Jane Doe"}, candidates)
	require.NoError(t, err)

	// The hallucinated URL and the empty label are dropped; the duplicate
	// URL keeps its first labeled selection.
	require.Len(t, got, 2)
	assert.Equal(t, model.ExtraLink{Label: "LinkedIn", URL: "https://linkedin.com/in/jane"}, got[0])
	assert.Equal(t, model.ExtraLink{Label: "Site", URL: "https://example.com"}, got[1])

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	require.NotNil(t, req.Tool)
	assert.Equal(t, "select_links", req.Tool.Name)
	assert.Contains(t, req.Prompt, "Jane Doe")
}

func TestCurateTruncatesSelection(t *testing.T) {
	chat := &fakeChat{response: `{"links": [
		{"label": "A", "url": "https://a.com"},
		{"label": "B", "url": "https://b.com"},
		{"label": "C", "url": "https://c.com"}
	]}`}

	c := &Curator{Chat: chat, Model: "test-model", MaxCandidates: 10, MaxSelected: 2}
	candidates := []model.ExtraLink{
		{URL: "https://a.com"}, {URL: "https://b.com"}, {URL: "https://c.com"},
	}

	got, err := c.Curate(context.Background(), &model.Contact{}, candidates)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCurateEmptyCandidates(t *testing.T) {
	chat := &fakeChat{}
	c := &Curator{Chat: chat, Model: "test-model", MaxCandidates: 10, MaxSelected: 6}

	got, err := c.Curate(context.Background(), &model.Contact{}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, chat.requests, "no model call without candidates")
}
