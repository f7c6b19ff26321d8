package model

import "time"

// CaptureStatus represents the lifecycle state of an ingestion job.
type CaptureStatus string

const (
	CaptureStatusQueued      CaptureStatus = "queued"
	CaptureStatusProcessing  CaptureStatus = "processing"
	CaptureStatusResearching CaptureStatus = "researching"
	CaptureStatusReady       CaptureStatus = "ready"
	CaptureStatusError       CaptureStatus = "error"
)

// captureTransitions is the allowed state machine. "queued" is re-enterable
// from "error" so a failed capture can be retried.
var captureTransitions = map[CaptureStatus][]CaptureStatus{
	CaptureStatusQueued:      {CaptureStatusProcessing},
	CaptureStatusProcessing:  {CaptureStatusResearching, CaptureStatusReady, CaptureStatusError},
	CaptureStatusResearching: {CaptureStatusReady, CaptureStatusError},
	CaptureStatusError:       {CaptureStatusQueued},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition.
func (s CaptureStatus) CanTransition(next CaptureStatus) bool {
	for _, allowed := range captureTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the capture has finished, successfully or not.
func (s CaptureStatus) Terminal() bool {
	return s == CaptureStatusReady || s == CaptureStatusError
}

// Capture is one ingestion job turning raw pasted/attached input into a
// draft contact.
type Capture struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	WorkspaceID string `json:"workspace_id"`

	RawText   string   `json:"raw_text,omitempty"`
	ImageRefs []string `json:"image_refs,omitempty"`

	Status    CaptureStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	ContactID string        `json:"contact_id,omitempty"`

	// RawExtraction keeps the unparsed model output for audit.
	RawExtraction string `json:"raw_extraction,omitempty"`
	DeepResearch  bool   `json:"deep_research"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
