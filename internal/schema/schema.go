// Package schema defines the typed shapes expected from model output and
// the boundary coercions that turn a duck-typed payload into them. The rest
// of the pipeline only ever sees canonical types.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/contact-pipeline/internal/aijson"
	"github.com/sells-group/contact-pipeline/internal/model"
)

// FollowerInput is an audience entry as the model reports it. Count is left
// untyped here; coercion happens in the social normalization layer.
type FollowerInput struct {
	Platform string `json:"platform"`
	Count    any    `json:"count"`
	Metric   string `json:"metric"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	Handle   string `json:"handle"`
}

// LinkInput is a labeled link as the model reports it.
type LinkInput struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// StringList accepts either a JSON array of strings or a single string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(s, ",")
	return nil
}

// FlatMap accepts a JSON object and stringifies its scalar values; nested
// values are dropped.
type FlatMap map[string]string

func (m *FlatMap) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			if val != "" {
				out[k] = val
			}
		case float64:
			out[k] = strings.TrimSuffix(fmt.Sprintf("%.2f", val), ".00")
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		}
	}
	*m = out
	return nil
}

// Extraction is the contact candidate produced by an extraction pass.
type Extraction struct {
	FullName     string `json:"fullName"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	JobTitle     string `json:"jobTitle"`
	Company      string `json:"company"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	LinkedInURL  string `json:"linkedInUrl"`
	InstagramURL string `json:"instagramUrl"`
	XURL         string `json:"xUrl"`
	YouTubeURL   string `json:"youtubeUrl"`
	WebsiteURL   string `json:"websiteUrl"`
	Location     string `json:"location"`
	LeadStatus   string `json:"leadStatus"`
	Notes        string `json:"notes"`

	Tags            StringList      `json:"tags"`
	SocialFollowers []FollowerInput `json:"socialFollowers"`

	Confidence map[string]float64 `json:"confidence"`
	Evidence   map[string]string  `json:"evidence"`
}

// Normalize trims strings, cleans the tag set, and clamps confidences.
func (e *Extraction) Normalize() {
	for _, p := range []*string{
		&e.FullName, &e.FirstName, &e.LastName, &e.JobTitle, &e.Company,
		&e.Email, &e.Phone, &e.LinkedInURL, &e.InstagramURL, &e.XURL,
		&e.YouTubeURL, &e.WebsiteURL, &e.Location, &e.LeadStatus, &e.Notes,
	} {
		*p = strings.TrimSpace(*p)
	}
	e.Tags = model.UnionTags(nil, e.Tags)
	for k, c := range e.Confidence {
		if c < 0 {
			e.Confidence[k] = 0
		} else if c > 1 {
			e.Confidence[k] = 1
		}
	}
}

// EnrichmentPatch is the structured patch produced by an enrichment pass
// over free-form research text.
type EnrichmentPatch struct {
	Extraction

	Summary     string          `json:"summary"`
	ExtraFields FlatMap         `json:"extraFields"`
	Audience    []FollowerInput `json:"audience"`
	ExtraLinks  []LinkInput     `json:"extraLinks"`
}

// Normalize cleans the embedded extraction plus patch-only fields.
func (p *EnrichmentPatch) Normalize() {
	p.Extraction.Normalize()
	p.Summary = strings.TrimSpace(p.Summary)
	for i := range p.ExtraLinks {
		p.ExtraLinks[i].Label = strings.TrimSpace(p.ExtraLinks[i].Label)
		p.ExtraLinks[i].URL = strings.TrimSpace(p.ExtraLinks[i].URL)
	}
}

// DecodeExtraction leniently decodes raw model output into an Extraction.
func DecodeExtraction(raw string) (*Extraction, error) {
	var e Extraction
	if err := aijson.DecodeObject(raw, &e); err != nil {
		return nil, err
	}
	e.Normalize()
	return &e, nil
}

// DecodeEnrichment leniently decodes raw model output into an
// EnrichmentPatch.
func DecodeEnrichment(raw string) (*EnrichmentPatch, error) {
	var p EnrichmentPatch
	if err := aijson.DecodeObject(raw, &p); err != nil {
		return nil, err
	}
	p.Normalize()
	return &p, nil
}
