// Package research orchestrates the deep-research pass over a contact:
// a web-research phase producing a report, then an enrichment phase folding
// structured findings back into the record. Progress is surfaced as a
// stream of events; every side effect lands on the contact itself.
package research

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-pipeline/internal/aijson"
	"github.com/sells-group/contact-pipeline/internal/blob"
	"github.com/sells-group/contact-pipeline/internal/links"
	"github.com/sells-group/contact-pipeline/internal/merge"
	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/internal/schema"
	"github.com/sells-group/contact-pipeline/internal/social"
	"github.com/sells-group/contact-pipeline/internal/store"
	"github.com/sells-group/contact-pipeline/pkg/anthropic"
	"github.com/sells-group/contact-pipeline/pkg/perplexity"
)

// Orchestrator runs the two-phase research pipeline.
type Orchestrator struct {
	Store   store.Store
	Blobs   blob.Store
	Chat    anthropic.Client
	Web     perplexity.Client
	Curator *links.Curator
	HTTP    *http.Client

	EnrichModel string
	WebModel    string
	Streaming   bool
	MaxTokens   int64
	MaxImages   int
}

// Stream runs research for the contact and yields progress events. The
// channel closes after a terminal done or error event. The contact's
// research status always reaches "done" or "error"; it is never left
// "running".
func (o *Orchestrator) Stream(ctx context.Context, contactID string) <-chan model.ResearchEvent {
	out := make(chan model.ResearchEvent, 16)
	go func() {
		defer close(out)
		o.run(ctx, contactID, out)
	}()
	return out
}

// Run executes research without a consumer, draining events internally.
// Used by the batch endpoint and the capture pipeline.
func (o *Orchestrator) Run(ctx context.Context, contactID string) error {
	var failure string
	for ev := range o.Stream(ctx, contactID) {
		if ev.Type == model.EventTypeError {
			failure = ev.Message
		}
	}
	if failure != "" {
		return eris.Errorf("research: %s", failure)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, contactID string, out chan<- model.ResearchEvent) {
	emit := func(ev model.ResearchEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	// Terminal status writes must survive the caller going away (a client
	// disconnect cancels the request context mid-research); the status is
	// never left "running".
	terminalCtx := context.WithoutCancel(ctx)

	contact, err := o.Store.GetContact(ctx, contactID)
	if err != nil {
		emit(model.ErrorEvent(eris.ToString(err, false)))
		return
	}

	contact.ResearchStatus = model.ResearchStatusRunning
	contact.ResearchError = ""
	if err := o.Store.PutContact(ctx, contact); err != nil {
		emit(model.ErrorEvent(eris.ToString(err, false)))
		return
	}

	emit(model.StatusEvent(model.StageStarting))

	if err := o.execute(ctx, contact, emit); err != nil {
		zap.L().Error("research: pipeline failed",
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
		contact.ResearchStatus = model.ResearchStatusError
		contact.ResearchError = eris.ToString(err, false)
		if putErr := o.Store.PutContact(terminalCtx, contact); putErr != nil {
			zap.L().Error("research: persist error status", zap.Error(putErr))
		}
		emit(model.ErrorEvent(contact.ResearchError))
		return
	}

	contact.ResearchStatus = model.ResearchStatusDone
	contact.ResearchError = ""
	if err := o.Store.PutContact(terminalCtx, contact); err != nil {
		emit(model.ErrorEvent(eris.ToString(err, false)))
		return
	}

	emit(model.StatusEvent(model.StageDone))
	emit(model.DoneEvent())
}

func (o *Orchestrator) execute(ctx context.Context, contact *model.Contact, emit func(model.ResearchEvent)) error {
	brief := buildBrief(contact)

	emit(model.StatusEvent(model.StageSearching))

	result, err := o.gather(ctx, brief, emit)
	if err != nil {
		return err
	}
	if strings.TrimSpace(result.Content) == "" {
		return eris.New("research: empty report")
	}

	if len(result.SearchResults) > 0 {
		emit(model.SourcesEvent(toSources(result.SearchResults)))
	}

	// The report is persisted before enrichment so a later failure never
	// loses the research text itself.
	emit(model.StatusEvent(model.StageSaving))
	contact.ResearchReport = result.Content
	if len(result.Images) > 0 {
		contact.ResearchImages = blob.FetchImages(ctx, o.Blobs, o.HTTP, result.Images,
			"research/"+contact.ID, o.MaxImages)
	}
	if err := o.Store.PutContact(ctx, contact); err != nil {
		return eris.Wrap(err, "research: persist report")
	}

	emit(model.StatusEvent(model.StageEnriching))
	if err := o.enrich(ctx, contact, result); err != nil {
		return err
	}
	return nil
}

// gather runs the web-research phase, streaming when configured and falling
// back to one batch call when the stream dies before completing.
func (o *Orchestrator) gather(ctx context.Context, brief string, emit func(model.ResearchEvent)) (*perplexity.ResearchResult, error) {
	req := perplexity.ResearchRequest{Query: brief, Model: o.WebModel}

	if o.Streaming {
		result, err := o.gatherStreaming(ctx, req, emit)
		if err == nil {
			return result, nil
		}
		zap.L().Warn("research: stream failed, falling back to batch", zap.Error(err))
	}

	emit(model.StatusEvent(model.StageGenerating))
	result, err := o.Web.Research(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "research: batch call")
	}
	// The report must be reconstructable from content records, so the batch
	// text goes out as a single content event. After a fallback this also
	// supersedes any partial deltas from the dead stream.
	if strings.TrimSpace(result.Content) != "" {
		emit(model.ContentEvent(result.Content))
	}
	return result, nil
}

func (o *Orchestrator) gatherStreaming(ctx context.Context, req perplexity.ResearchRequest, emit func(model.ResearchEvent)) (*perplexity.ResearchResult, error) {
	stream, err := o.Web.ResearchStream(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &perplexity.ResearchResult{}
	var content strings.Builder
	generating := false
	complete := false

	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		switch chunk.Kind {
		case perplexity.ChunkReasoning:
			if chunk.Text != "" {
				emit(model.ReasoningEvent(chunk.Text))
			}
		case perplexity.ChunkReasoningDone:
			emit(model.StatusEvent(model.StageGenerating))
			generating = true
		case perplexity.ChunkCompletion:
			if !generating {
				emit(model.StatusEvent(model.StageGenerating))
				generating = true
			}
			if chunk.Text != "" {
				content.WriteString(chunk.Text)
				emit(model.ContentEvent(chunk.Text))
			}
		case perplexity.ChunkCompletionDone:
			if chunk.Content != "" {
				result.Content = chunk.Content
			}
			complete = true
		}
		if len(chunk.SearchResults) > 0 {
			result.SearchResults = chunk.SearchResults
		}
		if len(chunk.Images) > 0 {
			result.Images = chunk.Images
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !complete && content.Len() == 0 {
		return nil, eris.New("research: stream ended without content")
	}
	// Emitted deltas are the wire of record: when any were sent, the report
	// is exactly their concatenation. A final text arriving only on the done
	// chunk is emitted as one content event instead.
	if content.Len() > 0 {
		result.Content = content.String()
	} else if result.Content != "" {
		emit(model.ContentEvent(result.Content))
	}
	return result, nil
}

const enrichSystem = "You extract structured contact enrichment from a research report. Report only facts stated in the report. Leave fields you cannot support empty."

// enrich runs the enrichment phase: a structured model pass over the report,
// merged into the contact with the fill-blanks policy, followed by link
// curation.
func (o *Orchestrator) enrich(ctx context.Context, contact *model.Contact, result *perplexity.ResearchResult) error {
	prompt := fmt.Sprintf("Contact: %s\n\nResearch report:\n\n%s", buildBrief(contact), result.Content)

	temp := 0.0
	resp, err := o.Chat.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       o.EnrichModel,
		MaxTokens:   o.MaxTokens,
		System:      enrichSystem,
		Prompt:      prompt,
		Temperature: &temp,
		Tool:        enrichmentTool(),
	})
	if err != nil {
		return eris.Wrap(err, "research: enrichment call")
	}
	resp.Usage.LogCost(o.EnrichModel, "enrichment")

	var patch schema.EnrichmentPatch
	repairer := aijson.Repairer{Client: o.Chat, Model: o.EnrichModel, MaxTokens: o.MaxTokens}
	if err := repairer.DecodeWithRepair(ctx, resp.Text, &patch, "enrichment"); err != nil {
		return err
	}
	patch.Normalize()

	o.applyPatch(ctx, contact, &patch, result)
	return nil
}

// applyPatch folds the enrichment patch into the contact. Research never
// overwrites confirmed data: the fill-blanks policy applies per field, and a
// conflicting identity finding drops only that field, never the whole patch.
func (o *Orchestrator) applyPatch(ctx context.Context, contact *model.Contact, patch *schema.EnrichmentPatch, result *perplexity.ResearchResult) {
	res := merge.ApplySkipConflicts(contact, &patch.Extraction)
	if len(res.Conflicts) > 0 {
		// Conflicting research findings lose; log and keep the record.
		zap.L().Info("research: enrichment conflicts skipped",
			zap.String("contact_id", contact.ID),
			zap.Int("count", len(res.Conflicts)),
		)
	}

	// Explicit notes from the patch win; otherwise a non-empty summary is
	// appended as the research note.
	if strings.TrimSpace(patch.Notes) == "" && patch.Summary != "" {
		contact.Notes = model.AppendNotes(contact.Notes, patch.Summary)
	}

	if merged, ok := social.Merge(contact.SocialFollowers, social.FromInputs(patch.Audience)); ok {
		contact.SocialFollowers = merged
	}

	if len(patch.ExtraFields) > 0 {
		if contact.ExtraFields == nil {
			contact.ExtraFields = make(map[string]string, len(patch.ExtraFields))
		}
		for k, v := range patch.ExtraFields {
			if _, exists := contact.ExtraFields[k]; !exists {
				contact.ExtraFields[k] = v
			}
		}
	}

	o.curateLinks(ctx, contact, patch, result)
}

// curateLinks assembles the candidate pool and ranks it. Curation failure is
// non-fatal: the contact keeps its existing links and gains none.
func (o *Orchestrator) curateLinks(ctx context.Context, contact *model.Contact, patch *schema.EnrichmentPatch, result *perplexity.ResearchResult) {
	if o.Curator == nil {
		return
	}

	var fromPatch []model.ExtraLink
	for _, l := range patch.ExtraLinks {
		fromPatch = append(fromPatch, model.ExtraLink{Label: l.Label, URL: l.URL})
	}

	var fromSources []model.ExtraLink
	for _, s := range result.SearchResults {
		fromSources = append(fromSources, model.ExtraLink{Label: s.Title, URL: s.URL})
	}

	var fromReport []model.ExtraLink
	for _, u := range links.ExtractURLs(result.Content) {
		fromReport = append(fromReport, model.ExtraLink{URL: u})
	}

	candidates := links.CollectCandidates(o.Curator.MaxCandidates,
		contact.ExtraLinks, fromPatch, fromSources, fromReport)
	if len(candidates) == 0 {
		return
	}

	curated, err := o.Curator.Curate(ctx, contact, candidates)
	if err != nil {
		zap.L().Warn("research: link curation failed",
			zap.String("contact_id", contact.ID),
			zap.Error(err),
		)
		return
	}
	if len(curated) > 0 {
		contact.ExtraLinks = curated
	}
}

// buildBrief renders the contact's known identity fields into a research
// brief. Empty fields are omitted so the research service is never steered
// by blank strings.
func buildBrief(c *model.Contact) string {
	var sb strings.Builder
	sb.WriteString("Research the following person and compile a detailed report covering their background, current role, public presence, and audience.\n")
	for _, f := range []struct{ label, value string }{
		{"Name", c.FullName},
		{"Job title", c.JobTitle},
		{"Company", c.Company},
		{"Email", c.Email},
		{"Location", c.Location},
		{"LinkedIn", c.LinkedInURL},
		{"Instagram", c.InstagramURL},
		{"X", c.XURL},
		{"YouTube", c.YouTubeURL},
		{"Website", c.WebsiteURL},
	} {
		if strings.TrimSpace(f.value) != "" {
			fmt.Fprintf(&sb, "%s: %s\n", f.label, f.value)
		}
	}
	return sb.String()
}

func toSources(results []perplexity.SearchResult) []model.ResearchSource {
	out := make([]model.ResearchSource, 0, len(results))
	for _, r := range results {
		out = append(out, model.ResearchSource{Title: r.Title, URL: r.URL, Date: r.Date})
	}
	return out
}

// enrichmentTool is the strict structured-output contract for the
// enrichment pass.
func enrichmentTool() *anthropic.ToolSpec {
	stringProp := map[string]any{"type": "string"}
	return &anthropic.ToolSpec{
		Name:        "record_enrichment",
		Description: "Record structured enrichment extracted from the research report.",
		InputSchema: map[string]any{
			"fullName":     stringProp,
			"firstName":    stringProp,
			"lastName":     stringProp,
			"jobTitle":     stringProp,
			"company":      stringProp,
			"email":        stringProp,
			"phone":        stringProp,
			"linkedInUrl":  stringProp,
			"instagramUrl": stringProp,
			"xUrl":         stringProp,
			"youtubeUrl":   stringProp,
			"websiteUrl":   stringProp,
			"location":     stringProp,
			"summary":      stringProp,
			"notes":        stringProp,
			"tags": map[string]any{
				"type":  "array",
				"items": stringProp,
			},
			"extraFields": map[string]any{
				"type":                 "object",
				"additionalProperties": stringProp,
			},
			"audience": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"platform": stringProp,
						"count":    map[string]any{"type": "number"},
						"metric":   stringProp,
						"label":    stringProp,
						"url":      stringProp,
						"handle":   stringProp,
					},
					"required": []string{"platform", "count"},
				},
			},
			"extraLinks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"label": stringProp,
						"url":   stringProp,
					},
					"required": []string{"url"},
				},
			},
		},
		Required: []string{"summary"},
	}
}
