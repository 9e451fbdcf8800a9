// Package predicate decides whether an inbound chat message is a
// candidate video and which configured keywords it matches (spec.md
// §4.2). It operates on the already-lifted Media sum type from
// pkg/tgapi rather than inspecting raw protocol fields directly (spec.md
// §9's "recover the implicit sum type" note).
package predicate

import "strings"

// Media is the lifted sum type for message media: either not a video,
// or a video carrying the fields the predicate and metadata checks need.
type Media struct {
	IsVideo     bool
	HasDocument bool
	DurationSec *int
	SizeMB      float64
	Width       *int
	Height      *int
	MimeType    string
}

// IsCandidateVideo reports whether media qualifies as a video-bearing
// message at all (spec.md §4.2: document + video flag, or document +
// video attribute with a duration).
func (m Media) IsCandidateVideo() bool {
	return m.HasDocument && (m.IsVideo || m.DurationSec != nil)
}

// Match returns the subset of matches (original spellings, input order)
// that apply to a message, or nil if excluded or no match applies.
// minDuration enforces spec.md §4.2's duration floor.
func Match(media Media, captionLower, fileNameLower string, matches, exclusions []string, minDuration int) []string {
	if !media.IsCandidateVideo() {
		return nil
	}
	if media.DurationSec == nil || *media.DurationSec < minDuration {
		return nil
	}

	text := captionLower + " " + fileNameLower

	for _, exclusion := range exclusions {
		e := strings.ToLower(strings.TrimSpace(exclusion))
		if e == "" {
			continue
		}
		if strings.Contains(text, e) {
			return nil
		}
	}

	var matched []string
	for _, m := range matches {
		k := strings.ToLower(strings.TrimSpace(m))
		if k == "" {
			continue
		}
		if strings.Contains(text, k) {
			matched = append(matched, m)
		}
	}
	return matched
}

// ShouldExclude is the mirror half used by the Cleanup Sweeper (spec.md
// §4.9): it does not require video-ness or duration, only a substring
// exclusion match against caption + filename.
func ShouldExclude(captionLower, fileNameLower string, exclusions []string) bool {
	text := captionLower + " " + fileNameLower
	for _, exclusion := range exclusions {
		e := strings.ToLower(strings.TrimSpace(exclusion))
		if e == "" {
			continue
		}
		if strings.Contains(text, e) {
			return true
		}
	}
	return false
}
