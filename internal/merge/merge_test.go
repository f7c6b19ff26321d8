package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/internal/schema"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(415) 555-2671", "+14155552671"},
		{"+1 415 555 2671", "+14155552671"},
		{"415.555.2671", "+14155552671"},
		{"not a phone 123", "123"},
		{"+99 junk", "+99"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail(" Jane@Example.COM "))
	assert.Equal(t, "jane doe", NormalizeName("  Jane   DOE "))
	assert.Equal(t, "https://linkedin.com/in/jane", NormalizeLink("https://LinkedIn.com/in/Jane/"))
}

func TestApplyConflictsFailClosed(t *testing.T) {
	contact := &model.Contact{
		FullName: "Jane Doe",
		Email:    "jane@example.com",
		Company:  "Acme",
	}
	in := &schema.Extraction{
		FullName: "Jane Doe",
		Email:    "other@example.com",
		Company:  "Globex",
		Notes:    "met at dinner",
	}

	res := Apply(contact, in, false)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "email", res.Conflicts[0].Field)
	assert.Equal(t, "jane@example.com", res.Conflicts[0].Existing)
	assert.Equal(t, "other@example.com", res.Conflicts[0].Incoming)

	// Nothing was mutated, not even non-conflicting fields.
	assert.Empty(t, res.Applied)
	assert.Equal(t, "Acme", contact.Company)
	assert.Empty(t, contact.Notes)
}

func TestApplyCompanyChangeIsNotConflict(t *testing.T) {
	contact := &model.Contact{FullName: "Jane Doe", Company: "Acme", JobTitle: "VP"}
	in := &schema.Extraction{FullName: "Jane Doe", Company: "Globex", JobTitle: "CEO"}

	res := Apply(contact, in, false)

	// Differing company/title follow fill-or-force: no conflict, no change.
	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.Applied)
	assert.Equal(t, "Acme", contact.Company)
}

func TestApplyFillsBlanks(t *testing.T) {
	contact := &model.Contact{FullName: "Jane Doe"}
	in := &schema.Extraction{
		FullName: "Jane Doe",
		Email:    "jane@example.com",
		Phone:    "(415) 555-2671",
		Company:  "Acme",
	}

	res := Apply(contact, in, false)

	assert.ElementsMatch(t, []string{"email", "phone", "company"}, res.Applied)
	assert.Equal(t, "jane@example.com", contact.Email)
	assert.Equal(t, "(415) 555-2671", contact.Phone)
}

func TestApplyForceOverwrites(t *testing.T) {
	contact := &model.Contact{FullName: "Jane Doe", Email: "old@example.com"}
	in := &schema.Extraction{Email: "new@example.com"}

	res := Apply(contact, in, true)

	assert.Contains(t, res.Applied, "email")
	assert.Equal(t, "new@example.com", contact.Email)
}

func TestApplyIdempotent(t *testing.T) {
	contact := &model.Contact{}
	in := &schema.Extraction{
		FullName: "Jane Doe",
		Email:    "jane@example.com",
		Notes:    "met at dinner",
		Tags:     schema.StringList{"vip"},
	}

	first := Apply(contact, in, false)
	assert.NotEmpty(t, first.Applied)
	assert.Equal(t, "met at dinner", contact.Notes)

	second := Apply(contact, in, false)
	assert.Empty(t, second.Applied)
	assert.Empty(t, second.Conflicts)
	assert.Equal(t, "met at dinner", contact.Notes)
}

func TestApplyRepeatedNotesNotDuplicated(t *testing.T) {
	contact := &model.Contact{Notes: "first meeting"}
	in := &schema.Extraction{Notes: "second meeting"}

	res := Apply(contact, in, false)
	assert.Contains(t, res.Applied, "notes")

	res = Apply(contact, in, false)
	assert.Empty(t, res.Applied)
	assert.Equal(t, 1, strings.Count(contact.Notes, "second meeting"))
}

func TestApplyEquivalentValuesNoOp(t *testing.T) {
	contact := &model.Contact{Email: "jane@example.com", Phone: "+14155552671"}
	in := &schema.Extraction{Email: "JANE@EXAMPLE.COM", Phone: "(415) 555-2671"}

	res := Apply(contact, in, false)

	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.Applied)
	assert.Equal(t, "jane@example.com", contact.Email)
}

func TestApplyNotesAlwaysAppend(t *testing.T) {
	contact := &model.Contact{Notes: "first meeting"}
	in := &schema.Extraction{Notes: "second meeting"}

	res := Apply(contact, in, true)

	assert.Contains(t, res.Applied, "notes")
	assert.Contains(t, contact.Notes, "first meeting")
	assert.Contains(t, contact.Notes, "second meeting")
}

func TestApplyLeadStatusFillOnly(t *testing.T) {
	contact := &model.Contact{LeadStatus: model.LeadStatusQualified}
	in := &schema.Extraction{LeadStatus: "new"}

	res := Apply(contact, in, false)

	assert.NotContains(t, res.Applied, "leadStatus")
	assert.Equal(t, model.LeadStatusQualified, contact.LeadStatus)

	blank := &model.Contact{}
	res = Apply(blank, in, false)
	assert.Contains(t, res.Applied, "leadStatus")
	assert.Equal(t, model.LeadStatusNew, blank.LeadStatus)
}

func TestApplyLeadStatusRejectsUnknown(t *testing.T) {
	contact := &model.Contact{}
	in := &schema.Extraction{LeadStatus: "warm-ish"}

	res := Apply(contact, in, false)

	assert.NotContains(t, res.Applied, "leadStatus")
	assert.Empty(t, contact.LeadStatus)
}

func TestApplySkipConflicts(t *testing.T) {
	contact := &model.Contact{FullName: "Jane Doe", Email: "jane@example.com"}
	in := &schema.Extraction{
		FullName: "Jane Doe",
		Email:    "other@example.com",
		JobTitle: "Founder",
	}

	res := ApplySkipConflicts(contact, in)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "email", res.Conflicts[0].Field)

	// Only the conflicting field is dropped; the rest of the patch lands.
	assert.Contains(t, res.Applied, "jobTitle")
	assert.Equal(t, "Founder", contact.JobTitle)
	assert.Equal(t, "jane@example.com", contact.Email)
}

func TestApplyFollowersMerged(t *testing.T) {
	contact := &model.Contact{
		SocialFollowers: []model.SocialFollower{{Platform: "twitter", Count: 100, Metric: "followers"}},
	}
	in := &schema.Extraction{
		SocialFollowers: []schema.FollowerInput{{Platform: "x", Count: float64(500)}},
	}

	res := Apply(contact, in, false)

	assert.Contains(t, res.Applied, "socialFollowers")
	require.Len(t, contact.SocialFollowers, 1)
	assert.Equal(t, "x", contact.SocialFollowers[0].Platform)
	assert.Equal(t, 500, contact.SocialFollowers[0].Count)
}

func TestApplyStampsProvenance(t *testing.T) {
	contact := &model.Contact{}
	in := &schema.Extraction{
		Email: "jane@example.com",
		Confidence: map[string]float64{
			"email": 0.9,
		},
		Evidence: map[string]string{
			"email": "signature block",
		},
	}

	Apply(contact, in, false)

	require.Contains(t, contact.FieldMeta, "email")
	assert.Equal(t, 0.9, contact.FieldMeta["email"].Confidence)
	assert.Equal(t, "signature block", contact.FieldMeta["email"].Evidence)
}
