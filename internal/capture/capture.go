// Package capture owns the ingestion lifecycle: a raw text/photo submission
// becomes a queued job, the job runs an extraction pass into a draft
// contact, and optionally hands off to deep research before going terminal.
package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-pipeline/internal/aijson"
	"github.com/sells-group/contact-pipeline/internal/blob"
	"github.com/sells-group/contact-pipeline/internal/merge"
	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/internal/research"
	"github.com/sells-group/contact-pipeline/internal/schema"
	"github.com/sells-group/contact-pipeline/internal/store"
	"github.com/sells-group/contact-pipeline/pkg/anthropic"
)

// ErrInvalid marks a submission rejected by validation. Handlers map it to
// a 400.
var ErrInvalid = eris.New("capture: invalid submission")

// ImageUpload is one attached photo in a submission.
type ImageUpload struct {
	Data        []byte
	ContentType string
}

// Submission is the raw input for a new capture.
type Submission struct {
	OwnerID      string
	WorkspaceID  string
	Text         string
	Images       []ImageUpload
	DeepResearch bool
}

// Controller drives captures through their lifecycle.
type Controller struct {
	Store    store.Store
	Blobs    blob.Store
	Chat     anthropic.Client
	Research *research.Orchestrator

	ExtractModel  string
	MaxTokens     int64
	MaxImages     int
	MaxImageBytes int
}

// Submit validates the submission, stores its images, and enqueues a
// capture. The capture is returned in "queued" state; Process runs it.
func (c *Controller) Submit(ctx context.Context, sub Submission) (*model.Capture, error) {
	if strings.TrimSpace(sub.Text) == "" && len(sub.Images) == 0 {
		return nil, eris.Wrap(ErrInvalid, "text or at least one image required")
	}
	if len(sub.Images) > c.MaxImages {
		return nil, eris.Wrapf(ErrInvalid, "at most %d images allowed", c.MaxImages)
	}
	for i, img := range sub.Images {
		if len(img.Data) == 0 {
			return nil, eris.Wrapf(ErrInvalid, "image %d is empty", i)
		}
		if len(img.Data) > c.MaxImageBytes {
			return nil, eris.Wrapf(ErrInvalid, "image %d exceeds %d bytes", i, c.MaxImageBytes)
		}
		if !strings.HasPrefix(img.ContentType, "image/") {
			return nil, eris.Wrapf(ErrInvalid, "image %d has unsupported type %q", i, img.ContentType)
		}
	}

	capture := &model.Capture{
		ID:           uuid.New().String(),
		OwnerID:      sub.OwnerID,
		WorkspaceID:  sub.WorkspaceID,
		RawText:      sub.Text,
		Status:       model.CaptureStatusQueued,
		DeepResearch: sub.DeepResearch,
	}

	for i, img := range sub.Images {
		ref, err := c.Blobs.Save(ctx, fmt.Sprintf("captures/%s/%d", capture.ID, i), img.Data, img.ContentType)
		if err != nil {
			return nil, eris.Wrap(err, "capture: store image")
		}
		capture.ImageRefs = append(capture.ImageRefs, ref)
	}

	if err := c.Store.CreateCapture(ctx, capture); err != nil {
		return nil, err
	}

	zap.L().Info("capture queued",
		zap.String("capture_id", capture.ID),
		zap.String("owner_id", capture.OwnerID),
		zap.Int("images", len(capture.ImageRefs)),
		zap.Bool("deep_research", capture.DeepResearch),
	)
	return capture, nil
}

// Process runs a queued capture to a terminal state. The capture is never
// left in "processing" or "researching": every exit path lands on "ready"
// or "error".
func (c *Controller) Process(ctx context.Context, captureID string) error {
	capture, err := c.Store.GetCapture(ctx, captureID)
	if err != nil {
		return err
	}
	if err := c.advance(ctx, capture, model.CaptureStatusProcessing); err != nil {
		return err
	}

	contact, err := c.extract(ctx, capture)
	if err != nil {
		c.fail(ctx, capture, err)
		return err
	}
	capture.ContactID = contact.ID

	if capture.DeepResearch {
		if err := c.advance(ctx, capture, model.CaptureStatusResearching); err != nil {
			return err
		}
		// A research failure is recorded on the contact; the capture
		// itself still completes because the draft contact exists.
		if err := c.Research.Run(ctx, contact.ID); err != nil {
			zap.L().Warn("capture: research failed",
				zap.String("capture_id", capture.ID),
				zap.String("contact_id", contact.ID),
				zap.Error(err),
			)
		}
	}

	return c.advance(ctx, capture, model.CaptureStatusReady)
}

// Retry re-queues a failed capture. Only the "error" state is retryable.
func (c *Controller) Retry(ctx context.Context, captureID string) (*model.Capture, error) {
	capture, err := c.Store.GetCapture(ctx, captureID)
	if err != nil {
		return nil, err
	}
	if !capture.Status.CanTransition(model.CaptureStatusQueued) {
		return nil, eris.Wrapf(ErrInvalid, "capture in state %q cannot be retried", capture.Status)
	}
	capture.Status = model.CaptureStatusQueued
	capture.Error = ""
	if err := c.Store.PutCapture(ctx, capture); err != nil {
		return nil, err
	}
	return capture, nil
}

func (c *Controller) advance(ctx context.Context, capture *model.Capture, next model.CaptureStatus) error {
	if !capture.Status.CanTransition(next) {
		return eris.Errorf("capture: illegal transition %s -> %s", capture.Status, next)
	}
	capture.Status = next
	return c.Store.PutCapture(ctx, capture)
}

func (c *Controller) fail(ctx context.Context, capture *model.Capture, cause error) {
	capture.Status = model.CaptureStatusError
	capture.Error = eris.ToString(cause, false)
	if err := c.Store.PutCapture(ctx, capture); err != nil {
		zap.L().Error("capture: persist error state",
			zap.String("capture_id", capture.ID),
			zap.Error(err),
		)
	}
}

const extractSystem = "You extract contact details from pasted text and photos (business cards, email signatures, social profiles, conference notes). Report only what the input supports. Provide per-field confidence between 0 and 1 and a short evidence quote for each populated field."

// extract runs the extraction pass and creates the draft contact.
func (c *Controller) extract(ctx context.Context, capture *model.Capture) (*model.Contact, error) {
	var images []anthropic.ImageAttachment
	for _, ref := range capture.ImageRefs {
		data, contentType, err := c.Blobs.Load(ctx, ref)
		if err != nil {
			return nil, eris.Wrapf(err, "capture: load image %s", ref)
		}
		images = append(images, anthropic.ImageAttachment{MediaType: contentType, Data: data})
	}

	prompt := "Extract the contact from this input."
	if strings.TrimSpace(capture.RawText) != "" {
		prompt = "Extract the contact from this input:\n\n" + capture.RawText
	}

	temp := 0.0
	resp, err := c.Chat.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.ExtractModel,
		MaxTokens:   c.MaxTokens,
		System:      extractSystem,
		Prompt:      prompt,
		Images:      images,
		Temperature: &temp,
		Tool:        extractionTool(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "capture: extraction call")
	}
	resp.Usage.LogCost(c.ExtractModel, "extraction")

	// Keep the raw output for audit regardless of parse outcome.
	capture.RawExtraction = resp.Text

	var extraction schema.Extraction
	repairer := aijson.Repairer{Client: c.Chat, Model: c.ExtractModel, MaxTokens: c.MaxTokens}
	if err := repairer.DecodeWithRepair(ctx, resp.Text, &extraction, "extraction"); err != nil {
		return nil, err
	}
	extraction.Normalize()

	contact := &model.Contact{
		OwnerID:     capture.OwnerID,
		WorkspaceID: capture.WorkspaceID,
	}
	merge.Apply(contact, &extraction, false)

	if err := c.Store.CreateContact(ctx, contact); err != nil {
		return nil, err
	}

	zap.L().Info("capture extracted",
		zap.String("capture_id", capture.ID),
		zap.String("contact_id", contact.ID),
	)
	return contact, nil
}

// extractionTool is the strict structured-output contract for extraction.
func extractionTool() *anthropic.ToolSpec {
	stringProp := map[string]any{"type": "string"}
	return &anthropic.ToolSpec{
		Name:        "record_contact",
		Description: "Record the contact details extracted from the input.",
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
			"leadStatus":   stringProp,
			"notes":        stringProp,
			"tags": map[string]any{
				"type":  "array",
				"items": stringProp,
			},
			"socialFollowers": map[string]any{
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
			"confidence": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number"},
			},
			"evidence": map[string]any{
				"type":                 "object",
				"additionalProperties": stringProp,
			},
		},
		Required: []string{"fullName"},
	}
}
