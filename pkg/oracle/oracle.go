// Package oracle implements the duplicate-detection policy of spec.md
// §4.4: given a candidate video and a target topic, decide whether the
// store already holds "the same video" under a configurable multi-
// criterion policy, and enumerate every such row for cleanup.
package oracle

import (
	"context"
	"strings"

	"github.com/sipeed/tgvideosorter/pkg/store"
)

// Policy mirrors spec.md §6's duplicateDetection config block.
type Policy struct {
	CheckDuration              bool
	DurationToleranceSeconds   int
	CheckFileSize              bool
	FileSizeTolerancePercent   float64
	CheckResolution            bool
	ResolutionTolerancePercent float64
	CheckMimeType              bool
}

// anyCheckEnabled reports whether at least one metadata check is on.
func (p Policy) anyCheckEnabled() bool {
	return p.CheckDuration || p.CheckFileSize || p.CheckResolution || p.CheckMimeType
}

// Candidate is the subset of candidate-video fields the Oracle needs.
type Candidate struct {
	NormalizedName string
	DurationSec    *int
	SizeMB         *float64
	Width          *int
	Height         *int
	MimeType       string
}

// Oracle evaluates duplicate-detection policy against a Store.
type Oracle struct {
	store  *store.Store
	policy Policy
}

// New constructs an Oracle bound to a store and a fixed policy.
func New(s *store.Store, policy Policy) *Oracle {
	return &Oracle{store: s, policy: policy}
}

// FindSimilar returns the first row (in the store's insertion order)
// that the policy accepts as a duplicate of candidate within topicName,
// or nil if none qualifies (spec.md §4.4 Output 1).
func (o *Oracle) FindSimilar(ctx context.Context, candidate Candidate, topicName string) (*store.VideoRecord, error) {
	all, err := o.findAll(ctx, candidate, topicName, true)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// FindAllSimilar returns every row the policy accepts as a duplicate of
// candidate within topicName (spec.md §4.4 Output 2, used by cleanup-
// before-publish).
func (o *Oracle) FindAllSimilar(ctx context.Context, candidate Candidate, topicName string) ([]store.VideoRecord, error) {
	return o.findAll(ctx, candidate, topicName, false)
}

// findAll implements the three-path policy in order. When firstOnly is
// true it still evaluates paths in priority order but stops as soon as a
// result is available, matching FindSimilar's "first accepted row"
// determinism contract.
func (o *Oracle) findAll(ctx context.Context, candidate Candidate, topicName string, firstOnly bool) ([]store.VideoRecord, error) {
	if candidate.NormalizedName == "" {
		// Empty-vs-empty comparisons never match (spec.md §4.1).
		return nil, nil
	}

	// Path 1: exact-name.
	exact, err := o.store.RowsByNormalizedName(ctx, candidate.NormalizedName, topicName)
	if err != nil {
		return nil, err
	}
	var exactMatches []store.VideoRecord
	for _, row := range exact {
		if row.NormalizedName == "" {
			continue
		}
		if o.accepts(candidate, row) {
			exactMatches = append(exactMatches, row)
			if firstOnly {
				return exactMatches, nil
			}
		}
	}
	if len(exactMatches) > 0 {
		return exactMatches, nil
	}

	if !o.policy.anyCheckEnabled() {
		return nil, nil
	}

	// Path 2: near-name, only when at least one metadata check is on.
	topicRows, err := o.store.RowsByTopic(ctx, topicName)
	if err != nil {
		return nil, err
	}

	var nearMatches []store.VideoRecord
	for _, row := range topicRows {
		if row.NormalizedName == "" {
			continue
		}
		sim := Similarity(candidate.NormalizedName, row.NormalizedName)
		if sim < 0.85 {
			continue
		}
		if o.accepts(candidate, row) {
			nearMatches = append(nearMatches, row)
			if firstOnly {
				return nearMatches, nil
			}
		}
	}
	if len(nearMatches) > 0 {
		return nearMatches, nil
	}

	// Path 3: metadata-only fallback, only if paths 1 and 2 found
	// nothing and at least one check is enabled.
	var metaMatches []store.VideoRecord
	for _, row := range topicRows {
		if o.accepts(candidate, row) {
			metaMatches = append(metaMatches, row)
			if firstOnly {
				return metaMatches, nil
			}
		}
	}
	return metaMatches, nil
}

// accepts applies "every enabled check must independently pass" (spec.md
// §4.4 path 1/2/3 shared rule). With no checks enabled, any row reaching
// this function from path 1 is accepted unconditionally; path 2/3 never
// call accepts when no check is enabled (guarded by anyCheckEnabled).
func (o *Oracle) accepts(c Candidate, row store.VideoRecord) bool {
	p := o.policy
	if !p.anyCheckEnabled() {
		return true
	}

	if p.CheckDuration {
		if c.DurationSec == nil || row.DurationSec == nil {
			return false
		}
		if absInt(*c.DurationSec-*row.DurationSec) > p.DurationToleranceSeconds {
			return false
		}
	}

	if p.CheckFileSize {
		if c.SizeMB == nil || row.SizeMB == nil {
			return false
		}
		if !withinPercentTolerance(*c.SizeMB, *row.SizeMB, p.FileSizeTolerancePercent) {
			return false
		}
	}

	if p.CheckResolution {
		if c.Width == nil || c.Height == nil || row.Width == nil || row.Height == nil {
			return false
		}
		candArea := float64(*c.Width) * float64(*c.Height)
		rowArea := float64(*row.Width) * float64(*row.Height)
		if !withinPercentTolerance(candArea, rowArea, p.ResolutionTolerancePercent) {
			return false
		}
	}

	if p.CheckMimeType {
		if c.MimeType == "" || row.MimeType == nil || *row.MimeType == "" {
			return false
		}
		if !strings.EqualFold(c.MimeType, *row.MimeType) {
			return false
		}
	}

	return true
}

func withinPercentTolerance(a, b, pct float64) bool {
	max := a
	if b > max {
		max = b
	}
	if max == 0 {
		return a == b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return (diff/max)*100 <= pct
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Similarity computes the idiosyncratic near-name metric from spec.md
// §4.4 / §9. It is intentionally not a standard edit-distance measure
// and must be reproduced exactly, not substituted with Levenshtein or
// trigram similarity.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	lenA, lenB := len(a), len(b)
	if lenA == 0 || lenB == 0 {
		return 0.0
	}

	minLen, maxLen := lenA, lenB
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	if float64(minLen)/float64(maxLen) < 0.7 {
		return 0.0
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return float64(minLen) / float64(maxLen)
	}

	prefixLen := commonPrefixLength(a, b)
	jac := jaccard(a, b)
	return 0.7*(float64(prefixLen)/float64(maxLen)) + 0.3*jac
}

func commonPrefixLength(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func jaccard(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)

	union := make(map[byte]struct{}, len(setA)+len(setB))
	for c := range setA {
		union[c] = struct{}{}
	}
	for c := range setB {
		union[c] = struct{}{}
	}
	if len(union) == 0 {
		return 0.0
	}

	intersectionCount := 0
	for c := range setA {
		if _, ok := setB[c]; ok {
			intersectionCount++
		}
	}

	return float64(intersectionCount) / float64(len(union))
}

func charSet(s string) map[byte]struct{} {
	set := make(map[byte]struct{}, len(s))
	for i := 0; i < len(s); i++ {
		set[s[i]] = struct{}{}
	}
	return set
}
