// Package merge applies a freshly extracted contact candidate to an
// existing contact, detecting identity conflicts and applying a
// fill-blanks-or-force policy.
package merge

import (
	"reflect"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/internal/schema"
	"github.com/sells-group/contact-pipeline/internal/social"
)

// Result reports the outcome of a merge. When Conflicts is non-empty the
// contact was left untouched and the caller must re-invoke with force or
// resolve manually.
type Result struct {
	Applied   []string         `json:"applied"`
	Conflicts []model.Conflict `json:"conflicts,omitempty"`
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone canonicalizes a phone number to E.164 when it parses;
// otherwise it keeps digits and a leading + only.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if num, err := phonenumbers.Parse(s, "US"); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName lowercases and collapses whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeLink lowercases a URL and strips a trailing slash.
func NormalizeLink(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "/")
}

func identity(s string) string {
	return strings.TrimSpace(s)
}

// conflictChecks are the identity fields whose mismatch blocks an
// unconfirmed merge. Company and job title deliberately follow the plain
// fill-or-force policy instead (a job change is not an identity conflict).
func conflictChecks(c *model.Contact, in *schema.Extraction) []model.Conflict {
	var conflicts []model.Conflict
	checks := []struct {
		field     string
		existing  string
		incoming  string
		normalize func(string) string
	}{
		{"email", c.Email, in.Email, NormalizeEmail},
		{"phone", c.Phone, in.Phone, NormalizePhone},
		{"name", c.FullName, in.FullName, NormalizeName},
		{"linkedInUrl", c.LinkedInURL, in.LinkedInURL, NormalizeLink},
	}
	for _, chk := range checks {
		if chk.existing == "" || chk.incoming == "" {
			continue
		}
		if chk.normalize(chk.existing) != chk.normalize(chk.incoming) {
			conflicts = append(conflicts, model.Conflict{
				Field:    chk.field,
				Existing: chk.existing,
				Incoming: chk.incoming,
			})
		}
	}
	return conflicts
}

// Apply merges the extraction into the contact. Fail-closed: if any
// identity conflict exists and force is false, the full conflict list is
// returned and nothing is mutated. Re-applying an identical payload
// produces zero applied fields and no conflicts.
func Apply(c *model.Contact, in *schema.Extraction, force bool) *Result {
	if conflicts := conflictChecks(c, in); len(conflicts) > 0 && !force {
		return &Result{Conflicts: conflicts}
	}

	res := &Result{}

	scalars := []struct {
		field     string
		dst       *string
		incoming  string
		normalize func(string) string
	}{
		{"fullName", &c.FullName, in.FullName, NormalizeName},
		{"firstName", &c.FirstName, in.FirstName, NormalizeName},
		{"lastName", &c.LastName, in.LastName, NormalizeName},
		{"jobTitle", &c.JobTitle, in.JobTitle, NormalizeName},
		{"company", &c.Company, in.Company, NormalizeName},
		{"email", &c.Email, in.Email, NormalizeEmail},
		{"phone", &c.Phone, in.Phone, NormalizePhone},
		{"linkedInUrl", &c.LinkedInURL, in.LinkedInURL, NormalizeLink},
		{"instagramUrl", &c.InstagramURL, in.InstagramURL, NormalizeLink},
		{"xUrl", &c.XURL, in.XURL, NormalizeLink},
		{"youtubeUrl", &c.YouTubeURL, in.YouTubeURL, NormalizeLink},
		{"websiteUrl", &c.WebsiteURL, in.WebsiteURL, NormalizeLink},
		{"location", &c.Location, in.Location, identity},
	}
	for _, f := range scalars {
		if applyScalar(f.dst, f.incoming, f.normalize, force) {
			res.Applied = append(res.Applied, f.field)
			stampMeta(c, f.field, in)
		}
	}

	if c.LeadStatus == "" {
		if status, ok := model.ParseLeadStatus(in.LeadStatus); ok {
			c.LeadStatus = status
			res.Applied = append(res.Applied, "leadStatus")
		}
	}

	// Notes are never overwritten; new notes append below a separator.
	// Notes the contact already carries are not re-appended, so re-applying
	// an identical payload leaves them untouched.
	if notes := strings.TrimSpace(in.Notes); notes != "" && !strings.Contains(c.Notes, notes) {
		c.Notes = model.AppendNotes(c.Notes, notes)
		res.Applied = append(res.Applied, "notes")
	}

	if merged := model.UnionTags(c.Tags, in.Tags); len(merged) != len(c.Tags) {
		c.Tags = merged
		res.Applied = append(res.Applied, "tags")
	}

	// Followers always go through the audience merge, force or not.
	if merged, ok := social.Merge(c.SocialFollowers, social.FromInputs(in.SocialFollowers)); ok {
		if !reflect.DeepEqual(merged, c.SocialFollowers) {
			c.SocialFollowers = merged
			res.Applied = append(res.Applied, "socialFollowers")
		}
	}

	return res
}

// ApplySkipConflicts merges with the fill-blanks policy, dropping conflicting
// identity fields instead of failing the whole merge. For unattended passes
// where no caller can resolve or force; the skipped conflicts are still
// reported on the result.
func ApplySkipConflicts(c *model.Contact, in *schema.Extraction) *Result {
	conflicts := conflictChecks(c, in)
	if len(conflicts) > 0 {
		in = withoutConflicting(in, conflicts)
	}
	res := Apply(c, in, false)
	res.Conflicts = conflicts
	return res
}

// withoutConflicting copies the extraction with the conflicting identity
// fields blanked.
func withoutConflicting(in *schema.Extraction, conflicts []model.Conflict) *schema.Extraction {
	out := *in
	for _, conflict := range conflicts {
		switch conflict.Field {
		case "email":
			out.Email = ""
		case "phone":
			out.Phone = ""
		case "name":
			out.FullName = ""
		case "linkedInUrl":
			out.LinkedInURL = ""
		}
	}
	return &out
}

// applyScalar implements the per-field policy: fill when empty, no-op when
// equal after normalization, overwrite only with force.
func applyScalar(dst *string, incoming string, normalize func(string) string, force bool) bool {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return false
	}
	if *dst == "" {
		*dst = incoming
		return true
	}
	if normalize(*dst) == normalize(incoming) {
		return false
	}
	if !force {
		return false
	}
	*dst = incoming
	return true
}

// stampMeta records AI provenance for a field the merge changed.
func stampMeta(c *model.Contact, field string, in *schema.Extraction) {
	conf, hasConf := in.Confidence[field]
	evidence := in.Evidence[field]
	if !hasConf && evidence == "" {
		return
	}
	if c.FieldMeta == nil {
		c.FieldMeta = make(map[string]model.FieldMeta)
	}
	c.FieldMeta[field] = model.FieldMeta{Confidence: conf, Evidence: evidence}
}
