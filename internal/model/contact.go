package model

import (
	"strings"
	"time"
)

// LeadStatus classifies where a contact sits in the funnel.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusCustomer  LeadStatus = "customer"
	LeadStatusLost      LeadStatus = "lost"
)

// ParseLeadStatus validates a free-form status string against the enum.
func ParseLeadStatus(s string) (LeadStatus, bool) {
	switch status := LeadStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusCustomer, LeadStatusLost:
		return status, true
	default:
		return "", false
	}
}

// ResearchStatus tracks the deep-research pass on a contact.
type ResearchStatus string

const (
	ResearchStatusIdle    ResearchStatus = "idle"
	ResearchStatusRunning ResearchStatus = "running"
	ResearchStatusDone    ResearchStatus = "done"
	ResearchStatusError   ResearchStatus = "error"
)

// SocialFollower is one audience metric entry. At most one entry per
// canonical platform is stored on a contact.
type SocialFollower struct {
	Platform string `json:"platform"`
	Count    int    `json:"count"`
	Metric   string `json:"metric"` // "followers" or "subscribers"
	Label    string `json:"label,omitempty"`
	URL      string `json:"url,omitempty"`
	Handle   string `json:"handle,omitempty"`
}

// ExtraLink is a curated link shown on the contact record.
type ExtraLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Purchase records a known purchase by the contact.
type Purchase struct {
	Item     string     `json:"item"`
	Amount   float64    `json:"amount,omitempty"`
	Currency string     `json:"currency,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

// FieldMeta carries AI provenance for a single contact field.
type FieldMeta struct {
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
}

// Contact is the canonical, de-duplicated record for one person or company.
type Contact struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	WorkspaceID string `json:"workspace_id"`

	FullName     string `json:"full_name,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	JobTitle     string `json:"job_title,omitempty"`
	Company      string `json:"company,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty"`
	InstagramURL string `json:"instagram_url,omitempty"`
	XURL         string `json:"x_url,omitempty"`
	YouTubeURL   string `json:"youtube_url,omitempty"`
	WebsiteURL   string `json:"website_url,omitempty"`
	Location     string `json:"location,omitempty"`

	LeadStatus LeadStatus `json:"lead_status,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Tags       []string   `json:"tags,omitempty"`

	SocialFollowers []SocialFollower `json:"social_followers,omitempty"`
	Purchases       []Purchase       `json:"purchases,omitempty"`
	ExtraLinks      []ExtraLink      `json:"extra_links,omitempty"`

	ResearchReport string            `json:"research_report,omitempty"`
	ExtraFields    map[string]string `json:"extra_fields,omitempty"`
	ResearchImages []string          `json:"research_images,omitempty"`
	ResearchStatus ResearchStatus    `json:"research_status,omitempty"`
	ResearchError  string            `json:"research_error,omitempty"`

	FieldMeta map[string]FieldMeta `json:"field_meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conflict reports a mismatch between an existing and an incoming identity
// field. It is returned to the caller and never persisted.
type Conflict struct {
	Field    string `json:"field"`
	Existing string `json:"existing"`
	Incoming string `json:"incoming"`
}

// NotesSeparator is inserted between existing and appended notes so history
// stays visible.
const NotesSeparator = "\n\n---\n\n"

// AppendNotes appends new notes below the existing ones. Existing notes are
// never overwritten.
func AppendNotes(existing, incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return incoming
	}
	return existing + NotesSeparator + incoming
}

// UnionTags merges tag sets: trimmed, empties dropped, case-sensitive
// dedupe, existing order preserved.
func UnionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	var out []string
	for _, set := range [][]string{existing, incoming} {
		for _, t := range set {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
