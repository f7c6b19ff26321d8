package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want StringList
	}{
		{"array", `["a","b"]`, StringList{"a", "b"}},
		{"comma string", `"a,b"`, StringList{"a", "b"}},
		{"single string", `"a"`, StringList{"a"}},
		{"empty string", `""`, nil},
		{"empty array", `[]`, StringList{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlatMap(t *testing.T) {
	var m FlatMap
	require.NoError(t, json.Unmarshal([]byte(`{
		"a": "text",
		"b": 3,
		"c": 2.5,
		"d": true,
		"e": null,
		"f": {"nested": 1},
		"g": ""
	}`), &m))

	assert.Equal(t, "text", m["a"])
	assert.Equal(t, "3", m["b"])
	assert.Equal(t, "2.50", m["c"])
	assert.Equal(t, "true", m["d"])
	assert.NotContains(t, m, "e")
	assert.NotContains(t, m, "f")
	assert.NotContains(t, m, "g")
}

func TestExtractionNormalize(t *testing.T) {
	e := Extraction{
		FullName: "  Jane Doe  ",
		Email:    " jane@example.com ",
		Tags:     StringList{" vip ", "", "vip"},
		Confidence: map[string]float64{
			"email":    1.5,
			"fullName": -0.1,
			"phone":    0.7,
		},
	}
	e.Normalize()

	assert.Equal(t, "Jane Doe", e.FullName)
	assert.Equal(t, "jane@example.com", e.Email)
	assert.Equal(t, StringList{"vip"}, e.Tags)
	assert.Equal(t, 1.0, e.Confidence["email"])
	assert.Equal(t, 0.0, e.Confidence["fullName"])
	assert.Equal(t, 0.7, e.Confidence["phone"])
}

func TestDecodeExtractionLenient(t *testing.T) {
	raw := "Here is the contact:\n```json\n{\"fullName\": \"Jane Doe\", \"tags\": \"vip,speaker\"}\n```"
	e, err := DecodeExtraction(raw)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", e.FullName)
	assert.Equal(t, StringList{"vip", "speaker"}, e.Tags)
}

func TestDecodeEnrichment(t *testing.T) {
	raw := `{
		"summary": "  A creator.  ",
		"extraFields": {"podcast": "The Show", "episodes": 120},
		"audience": [{"platform": "twitter", "count": "12,000"}],
		"extraLinks": [{"label": " Site ", "url": " https://example.com "}]
	}`
	p, err := DecodeEnrichment(raw)
	require.NoError(t, err)
	assert.Equal(t, "A creator.", p.Summary)
	assert.Equal(t, "The Show", p.ExtraFields["podcast"])
	assert.Equal(t, "120", p.ExtraFields["episodes"])
	require.Len(t, p.Audience, 1)
	assert.Equal(t, "twitter", p.Audience[0].Platform)
	require.Len(t, p.ExtraLinks, 1)
	assert.Equal(t, "Site", p.ExtraLinks[0].Label)
	assert.Equal(t, "https://example.com", p.ExtraLinks[0].URL)
}
