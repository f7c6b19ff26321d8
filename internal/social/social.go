// Package social merges follower/subscriber counts from multiple sources
// into one ranked list with a single entry per canonical platform. All
// tolerance for messy model output (alias platforms, metric sniffing, count
// coercion) lives here.
package social

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/contact-pipeline/internal/model"
	"github.com/sells-group/contact-pipeline/internal/schema"
)

var folder = cases.Fold()

// platformAliases maps alternate platform names onto canonical ones. The
// "twitter" alias folds into "x" so the two never coexist on a contact.
var platformAliases = map[string]string{
	"twitter":   "x",
	"x.com":     "x",
	"youtube":   "youtube",
	"yt":        "youtube",
	"insta":     "instagram",
	"ig":        "instagram",
	"fb":        "facebook",
	"linked-in": "linkedin",
}

// CanonicalPlatform normalizes a platform identifier: case-folded, trimmed,
// aliases resolved.
func CanonicalPlatform(platform string) string {
	p := folder.String(strings.TrimSpace(platform))
	if canonical, ok := platformAliases[p]; ok {
		return canonical
	}
	return p
}

// Metric names after sniffing.
const (
	MetricFollowers   = "followers"
	MetricSubscribers = "subscribers"
)

// canonicalMetric sniffs a metric string: anything mentioning "sub" counts
// subscribers, everything else followers.
func canonicalMetric(metric string) string {
	if strings.Contains(strings.ToLower(metric), "sub") {
		return MetricSubscribers
	}
	return MetricFollowers
}

// coerceCount turns a duck-typed count into a non-negative rounded integer.
// Returns false when the value cannot be coerced.
func coerceCount(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, false
		}
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Round(n)), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return 0, false
		}
		return int(math.Round(f)), true
	default:
		return 0, false
	}
}

// FromInputs converts model-reported audience entries into canonical
// followers, dropping entries whose count fails coercion.
func FromInputs(inputs []schema.FollowerInput) []model.SocialFollower {
	var out []model.SocialFollower
	for _, in := range inputs {
		count, ok := coerceCount(in.Count)
		if !ok {
			continue
		}
		out = append(out, model.SocialFollower{
			Platform: CanonicalPlatform(in.Platform),
			Count:    count,
			Metric:   canonicalMetric(in.Metric),
			Label:    strings.TrimSpace(in.Label),
			URL:      strings.TrimSpace(in.URL),
			Handle:   strings.TrimSpace(in.Handle),
		})
	}
	return out
}

// normalize canonicalizes a stored follower list, dropping entries without
// a platform.
func normalize(followers []model.SocialFollower) []model.SocialFollower {
	var out []model.SocialFollower
	for _, f := range followers {
		f.Platform = CanonicalPlatform(f.Platform)
		if f.Platform == "" {
			continue
		}
		f.Metric = canonicalMetric(f.Metric)
		if f.Count < 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Merge combines existing and incoming follower lists into one entry per
// canonical platform, sorted by count descending. The second return is
// false only when both inputs are empty after normalization; callers must
// not overwrite a contact's followers when no signal arrived.
func Merge(existing, incoming []model.SocialFollower) ([]model.SocialFollower, bool) {
	entries := append(normalize(existing), normalize(incoming)...)
	if len(entries) == 0 {
		return nil, false
	}

	byPlatform := make(map[string]model.SocialFollower, len(entries))
	for _, e := range entries {
		cur, ok := byPlatform[e.Platform]
		if !ok {
			byPlatform[e.Platform] = e
			continue
		}
		byPlatform[e.Platform] = better(cur, e)
	}

	out := make([]model.SocialFollower, 0, len(byPlatform))
	for _, f := range byPlatform {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Platform < out[j].Platform
	})
	return out, true
}

// better picks the winner of a platform collision: higher count, then the
// entry carrying a URL or handle, then the richer label.
func better(a, b model.SocialFollower) model.SocialFollower {
	if a.Count != b.Count {
		if b.Count > a.Count {
			return b
		}
		return a
	}
	aLinked := a.URL != "" || a.Handle != ""
	bLinked := b.URL != "" || b.Handle != ""
	if aLinked != bLinked {
		if bLinked {
			return b
		}
		return a
	}
	if len(b.Label) > len(a.Label) {
		return b
	}
	return a
}
