package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureTransitions(t *testing.T) {
	tests := []struct {
		name string
		from CaptureStatus
		to   CaptureStatus
		ok   bool
	}{
		{"queued to processing", CaptureStatusQueued, CaptureStatusProcessing, true},
		{"processing to researching", CaptureStatusProcessing, CaptureStatusResearching, true},
		{"processing to ready", CaptureStatusProcessing, CaptureStatusReady, true},
		{"processing to error", CaptureStatusProcessing, CaptureStatusError, true},
		{"researching to ready", CaptureStatusResearching, CaptureStatusReady, true},
		{"researching to error", CaptureStatusResearching, CaptureStatusError, true},
		{"error retries to queued", CaptureStatusError, CaptureStatusQueued, true},
		{"queued cannot skip to ready", CaptureStatusQueued, CaptureStatusReady, false},
		{"ready is terminal", CaptureStatusReady, CaptureStatusProcessing, false},
		{"ready cannot retry", CaptureStatusReady, CaptureStatusQueued, false},
		{"researching cannot go back", CaptureStatusResearching, CaptureStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestCaptureTerminal(t *testing.T) {
	assert.True(t, CaptureStatusReady.Terminal())
	assert.True(t, CaptureStatusError.Terminal())
	assert.False(t, CaptureStatusQueued.Terminal())
	assert.False(t, CaptureStatusProcessing.Terminal())
	assert.False(t, CaptureStatusResearching.Terminal())
}

func TestParseLeadStatus(t *testing.T) {
	tests := []struct {
		in   string
		want LeadStatus
		ok   bool
	}{
		{"new", LeadStatusNew, true},
		{" Qualified ", LeadStatusQualified, true},
		{"CUSTOMER", LeadStatusCustomer, true},
		{"lost", LeadStatusLost, true},
		{"warm", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLeadStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendNotes(t *testing.T) {
	assert.Equal(t, "existing", AppendNotes("existing", ""))
	assert.Equal(t, "existing", AppendNotes("existing", "   "))
	assert.Equal(t, "new", AppendNotes("", "new"))
	assert.Equal(t, "new", AppendNotes("  ", "new"))
	assert.Equal(t, "old"+NotesSeparator+"new", AppendNotes("old", "new"))
}

func TestAppendNotesNeverOverwrites(t *testing.T) {
	got := AppendNotes("original history", "fresh observation")
	assert.Contains(t, got, "original history")
	assert.Contains(t, got, "fresh observation")
}

func TestUnionTags(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		incoming []string
		want     []string
	}{
		{"dedupes", []string{"vip"}, []string{"vip", "speaker"}, []string{"vip", "speaker"}},
		{"preserves existing order", []string{"b", "a"}, []string{"c"}, []string{"b", "a", "c"}},
		{"trims and drops empties", []string{" vip "}, []string{"", "  "}, []string{"vip"}},
		{"case sensitive", []string{"VIP"}, []string{"vip"}, []string{"VIP", "vip"}},
		{"both empty", nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnionTags(tt.existing, tt.incoming))
		})
	}
}

func TestResearchEventConstructors(t *testing.T) {
	assert.Equal(t, ResearchEvent{Type: EventTypeStatus, Stage: StageSearching}, StatusEvent(StageSearching))
	assert.Equal(t, ResearchEvent{Type: EventTypeContent, Text: "chunk"}, ContentEvent("chunk"))
	assert.Equal(t, ResearchEvent{Type: EventTypeDone, OK: true}, DoneEvent())
	assert.Equal(t, ResearchEvent{Type: EventTypeError, Message: "boom"}, ErrorEvent("boom"))
}
