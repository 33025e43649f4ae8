// Package facematch provides the nearest-neighbour face matching used by scan sessions,
// the one-shot match endpoint and the CLI.
package facematch

import "math"

// DescriptorDim is the length of every face descriptor produced by the embedding service.
const DescriptorDim = 128

// Descriptor is a face embedding. It is immutable once captured.
type Descriptor []float32

// Valid reports whether the descriptor has the expected dimension.
func (d Descriptor) Valid() bool {
	return len(d) == DescriptorDim
}

// ReferenceEntry is one enrolled face sample. An identity may own several entries
// (one per enrolled angle).
type ReferenceEntry struct {
	IdentityID  string     `json:"identity_id"`
	DisplayName string     `json:"display_name"`
	GroupKey    string     `json:"group_key"` // section the student belongs to
	Descriptor  Descriptor `json:"descriptor,omitempty"`
}

// MatchResult is the outcome of matching one probe against a candidate list.
// Matched is false when no candidate was closer than the threshold; Distance still
// carries the nearest distance seen (+Inf when nothing was compared).
type MatchResult struct {
	IdentityID  string  `json:"identity_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	GroupKey    string  `json:"group_key,omitempty"`
	Distance    float64 `json:"distance"`
	Matched     bool    `json:"matched"`
}

// noMatch returns an unmatched result with an infinite distance.
func noMatch() MatchResult {
	return MatchResult{Distance: math.Inf(1)}
}

// MatchStats counts what happened to the candidates during one scan.
type MatchStats struct {
	Compared  int `json:"compared"`
	Malformed int `json:"malformed"`
	Excluded  int `json:"excluded"`
}
