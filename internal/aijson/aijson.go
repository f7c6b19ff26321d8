// Package aijson parses model output that is supposed to be JSON but is
// frequently wrapped in prose or code fences. All extraction, enrichment,
// and curation phases share the same parse-with-one-repair policy.
package aijson

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-pipeline/pkg/anthropic"
)

const repairSystem = "You fix malformed JSON. Return only the corrected JSON object, nothing else."

// Clean strips markdown code fences and surrounding prose, keeping the
// substring between the first { and the last }.
func Clean(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// DecodeObject cleans raw model output and decodes it into v.
func DecodeObject(raw string, v any) error {
	if err := json.Unmarshal([]byte(Clean(raw)), v); err != nil {
		return eris.Wrap(err, "aijson: decode object")
	}
	return nil
}

// Repairer decodes model output with exactly one repair round-trip on
// failure. A second failure is fatal for the calling phase.
type Repairer struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
}

// DecodeWithRepair decodes raw into v; on parse failure it asks the model
// to fix its own output into valid JSON once, then fails hard.
func (r Repairer) DecodeWithRepair(ctx context.Context, raw string, v any, label string) error {
	firstErr := DecodeObject(raw, v)
	if firstErr == nil {
		return nil
	}

	zap.L().Warn("aijson: parse failed, attempting repair",
		zap.String("label", label),
		zap.Error(firstErr),
	)

	temp := 0.0
	resp, err := r.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		System:      repairSystem,
		Prompt:      "Fix this into valid JSON:\n\n" + raw,
		Temperature: &temp,
	})
	if err != nil {
		return eris.Wrapf(err, "aijson: repair call for %s", label)
	}

	if err := DecodeObject(resp.Text, v); err != nil {
		return eris.Wrapf(err, "aijson: %s unparseable after repair", label)
	}
	return nil
}
