package facematch

import (
	"errors"
	"math"
)

// EuclideanDistance returns sqrt(sum((a[i]-b[i])^2)) accumulated in float64.
// Vectors of different (or zero) length are infinitely far apart.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FindBestMatch scans candidates linearly and returns the closest one.
// Candidates with a malformed descriptor or an identity listed in exclude are skipped.
// Ties keep the first candidate encountered. The match is accepted when the minimum
// distance is strictly below threshold, or is exactly zero (identical descriptors are
// accepted even with a zero threshold).
func FindBestMatch(probe Descriptor, candidates []ReferenceEntry, threshold float64, exclude map[string]struct{}) (MatchResult, MatchStats) {
	var stats MatchStats
	result := noMatch()

	if !probe.Valid() {
		return result, stats
	}

	var best *ReferenceEntry
	for i := range candidates {
		c := &candidates[i]
		if !c.Descriptor.Valid() {
			stats.Malformed++
			continue
		}
		if _, skip := exclude[c.IdentityID]; skip {
			stats.Excluded++
			continue
		}

		stats.Compared++
		d := EuclideanDistance(probe, c.Descriptor)
		if d < result.Distance {
			result.Distance = d
			best = c
		}
	}

	if best != nil && (result.Distance < threshold || result.Distance == 0) {
		result.IdentityID = best.IdentityID
		result.DisplayName = best.DisplayName
		result.GroupKey = best.GroupKey
		result.Matched = true
	}
	return result, stats
}

// ErrInvalidThreshold is returned for negative or NaN thresholds.
var ErrInvalidThreshold = errors.New("threshold must be a non-negative number")

// Matcher binds a deployment threshold to FindBestMatch.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher with a fixed threshold.
func NewMatcher(threshold float64) (*Matcher, error) {
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, ErrInvalidThreshold
	}
	return &Matcher{threshold: threshold}, nil
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match finds the nearest candidate to probe, skipping excluded identities.
func (m *Matcher) Match(probe Descriptor, candidates []ReferenceEntry, exclude map[string]struct{}) (MatchResult, MatchStats) {
	return FindBestMatch(probe, candidates, m.threshold, exclude)
}

// FilterByGroup returns the entries belonging to groupKey. This pre-filter is the only
// group check; matched entries are not re-checked afterwards.
func FilterByGroup(entries []ReferenceEntry, groupKey string) []ReferenceEntry {
	filtered := make([]ReferenceEntry, 0, len(entries))
	for i := range entries {
		if entries[i].GroupKey == groupKey {
			filtered = append(filtered, entries[i])
		}
	}
	return filtered
}

// ValidateEntries splits entries into usable ones and ones with a malformed descriptor.
func ValidateEntries(entries []ReferenceEntry) (valid, malformed []ReferenceEntry) {
	for i := range entries {
		if entries[i].Descriptor.Valid() {
			valid = append(valid, entries[i])
		} else {
			malformed = append(malformed, entries[i])
		}
	}
	return valid, malformed
}
