// Package links gathers link candidates from several sources, deduplicates
// them, and asks the model to select the most relevant subset with short
// human labels.
package links

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-pipeline/internal/aijson"
	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/pkg/anthropic"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]}]+`)

// trackingParams are stripped during URL normalization so links differing
// only by campaign noise dedupe to one candidate.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "igshid": true, "mc_cid": true,
	"mc_eid": true, "ref": true, "ref_src": true,
}

// NormalizeURL canonicalizes a candidate URL: http(s) only, bare domains get
// https:// prefixed, host lowercased, tracking params and fragments dropped.
// Returns false for anything else (mailto:, javascript:, relative paths).
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if !strings.Contains(raw, "://") {
		if strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, " \t") || !strings.Contains(raw, ".") {
			return "", false
		}
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] || strings.HasPrefix(strings.ToLower(param), "utm_") {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimSuffix(u.String(), "/"), true
}

// ExtractURLs regex-scans free text for http(s) URLs, trailing punctuation
// trimmed.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	var out []string
	for _, m := range matches {
		out = append(out, strings.TrimRight(m, ".,;:!?"))
	}
	return out
}

// CollectCandidates normalizes and deduplicates link groups in order,
// keeping the first label seen for each normalized URL, capped at pool.
func CollectCandidates(pool int, groups ...[]model.ExtraLink) []model.ExtraLink {
	seen := make(map[string]bool)
	var out []model.ExtraLink
	for _, group := range groups {
		for _, link := range group {
			normalized, ok := NormalizeURL(link.URL)
			if !ok || seen[normalized] {
				continue
			}
			seen[normalized] = true
			out = append(out, model.ExtraLink{Label: strings.TrimSpace(link.Label), URL: normalized})
			if len(out) >= pool {
				return out
			}
		}
	}
	return out
}

// Curator ranks candidate links for a contact via a strict structured model
// call.
type Curator struct {
	Chat          anthropic.Client
	Model         string
	MaxCandidates int
	MaxSelected   int
}

const curationSystem = "You curate links for a contact record. From the candidates, select only the most relevant, official, non-duplicate links. Give each a short human label (e.g. \"LinkedIn\", \"Company site\", \"Podcast interview\")."

// curationResult is the strict tool-output shape.
type curationResult struct {
	Links []struct {
		Label string `json:"label"`
		URL   string `json:"url"`
	} `json:"links"`
}

// Curate selects up to MaxSelected links from the candidate pool. A ranking
// result exceeding the maximum is truncated, not rejected. On an
// unparseable response it issues one repair round-trip; if curation still
// fails, callers fall back to an empty set rather than unranked candidates.
func (c *Curator) Curate(ctx context.Context, contact *model.Contact, candidates []model.ExtraLink) ([]model.ExtraLink, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > c.MaxCandidates {
		candidates = candidates[:c.MaxCandidates]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Contact: %s", contactIdentity(contact))
	fmt.Fprintf(&sb, "\n\nSelect up to %d links. Candidates:\n", c.MaxSelected)
	for _, cand := range candidates {
		if cand.Label != "" {
			fmt.Fprintf(&sb, "- %s (%s)\n", cand.URL, cand.Label)
		} else {
			fmt.Fprintf(&sb, "- %s\n", cand.URL)
		}
	}

	temp := 0.0
	resp, err := c.Chat.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.Model,
		MaxTokens:   1024,
		System:      curationSystem,
		Prompt:      sb.String(),
		Temperature: &temp,
		Tool: &anthropic.ToolSpec{
			Name:        "select_links",
			Description: "Record the curated link selection.",
			InputSchema: map[string]any{
				"links": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"label": map[string]any{"type": "string"},
							"url":   map[string]any{"type": "string"},
						},
						"required": []string{"label", "url"},
					},
				},
			},
			Required: []string{"links"},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "links: curation call")
	}
	resp.Usage.LogCost(c.Model, "curation")

	var result curationResult
	repairer := aijson.Repairer{Client: c.Chat, Model: c.Model, MaxTokens: 1024}
	if err := repairer.DecodeWithRepair(ctx, resp.Text, &result, "curation"); err != nil {
		return nil, err
	}

	// Accept only selections that trace back to the candidate pool.
	valid := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		valid[cand.URL] = true
	}

	seen := make(map[string]bool)
	var out []model.ExtraLink
	for _, link := range result.Links {
		normalized, ok := NormalizeURL(link.URL)
		if !ok || seen[normalized] {
			continue
		}
		if !valid[normalized] {
			zap.L().Debug("links: model selected unknown url", zap.String("url", link.URL))
			continue
		}
		label := strings.TrimSpace(link.Label)
		if label == "" {
			continue
		}
		seen[normalized] = true
		out = append(out, model.ExtraLink{Label: label, URL: normalized})
		if len(out) >= c.MaxSelected {
			break
		}
	}
	return out, nil
}

func contactIdentity(c *model.Contact) string {
	var parts []string
	for _, p := range []struct{ label, value string }{
		{"name", c.FullName},
		{"title", c.JobTitle},
		{"company", c.Company},
		{"location", c.Location},
	} {
		if p.value != "" {
			parts = append(parts, p.label+"="+p.value)
		}
	}
	if len(parts) == 0 {
		return "(unknown)"
	}
	return strings.Join(parts, ", ")
}
