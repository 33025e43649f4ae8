package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// ReferenceStore serves scan sessions from any EnrollmentReader.
type ReferenceStore struct {
	reader EnrollmentReader
}

// NewReferenceStore wraps reader as a scan.ReferenceStore.
func NewReferenceStore(reader EnrollmentReader) *ReferenceStore {
	return &ReferenceStore{reader: reader}
}

// ListEnrolled returns one candidate per enrollment of the filter's section.
func (s *ReferenceStore) ListEnrolled(ctx context.Context, filter scan.GroupFilter) ([]facematch.ReferenceEntry, error) {
	enrollments, err := s.reader.ListBySection(ctx, filter.Section)
	if err != nil {
		return nil, fmt.Errorf("list enrollments of section %s: %w", filter.Section, err)
	}
	entries := make([]facematch.ReferenceEntry, len(enrollments))
	for i := range enrollments {
		entries[i] = enrollments[i].Reference()
	}
	return entries, nil
}

// SummarizeSections groups enrollments by section, counting distinct identities and
// samples with a malformed descriptor.
func SummarizeSections(enrollments []Enrollment) []SectionSummary {
	bySection := make(map[string]*SectionSummary)
	identities := make(map[string]map[string]struct{})
	var order []string

	for i := range enrollments {
		e := &enrollments[i]
		sum, ok := bySection[e.Section]
		if !ok {
			sum = &SectionSummary{Section: e.Section}
			bySection[e.Section] = sum
			identities[e.Section] = make(map[string]struct{})
			order = append(order, e.Section)
		}
		sum.Samples++
		identities[e.Section][e.IdentityID] = struct{}{}
		if !facematch.Descriptor(e.Descriptor).Valid() {
			sum.Malformed++
		}
	}

	slices.Sort(order)
	out := make([]SectionSummary, 0, len(order))
	for _, section := range order {
		sum := bySection[section]
		sum.Identities = len(identities[section])
		out = append(out, *sum)
	}
	return out
}
