package database

import (
	"cmp"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

// Neighbor is an enrollment returned by a nearest-neighbour search.
type Neighbor struct {
	Enrollment Enrollment `json:"enrollment"`
	Distance   float64    `json:"distance"`
}

// EnrollmentIndex wraps an HNSW graph over enrollment descriptors using Euclidean
// distance. It is used to warn when a new enrollment looks like somebody else.
type EnrollmentIndex struct {
	graph *hnsw.Graph[int64]
	byID  map[int64]*Enrollment
	mu    sync.RWMutex
}

// NewEnrollmentIndex creates a new empty index.
func NewEnrollmentIndex() *EnrollmentIndex {
	return &EnrollmentIndex{
		byID: make(map[int64]*Enrollment),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index content. Enrollments with a malformed descriptor are skipped.
func (x *EnrollmentIndex) Build(enrollments []Enrollment) int {
	g := newGraph()
	byID := make(map[int64]*Enrollment, len(enrollments))

	for i := range enrollments {
		e := enrollments[i]
		if !facematch.Descriptor(e.Descriptor).Valid() {
			continue
		}
		g.Add(hnsw.MakeNode(e.ID, e.Descriptor))
		byID[e.ID] = &e
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = g
	x.byID = byID
	return len(byID)
}

// Add indexes a single enrollment.
func (x *EnrollmentIndex) Add(e Enrollment) error {
	if !facematch.Descriptor(e.Descriptor).Valid() {
		return errors.New("descriptor has the wrong dimension")
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.graph == nil {
		x.graph = newGraph()
	}
	x.graph.Add(hnsw.MakeNode(e.ID, e.Descriptor))
	x.byID[e.ID] = &e
	return nil
}

// Delete removes enrollments and rebuilds the graph from the remaining ones, so
// searches never spend their k results on removed nodes.
func (x *EnrollmentIndex) Delete(ids ...int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := x.byID[id]; ok {
			delete(x.byID, id)
			removed++
		}
	}
	if removed == 0 {
		return
	}

	keys := slices.Sorted(maps.Keys(x.byID))
	g := newGraph()
	for _, id := range keys {
		g.Add(hnsw.MakeNode(id, x.byID[id].Descriptor))
	}
	x.graph = g
}

// Count returns the number of indexed enrollments.
func (x *EnrollmentIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

// Nearest returns up to k enrollments closest to query, nearest first, with exact
// Euclidean distances.
func (x *EnrollmentIndex) Nearest(query facematch.Descriptor, k int) []Neighbor {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.byID) == 0 || k <= 0 || !query.Valid() {
		return nil
	}

	nodes := x.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		e, ok := x.byID[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			Enrollment: *e,
			Distance:   facematch.EuclideanDistance(query, n.Value),
		})
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return out
}

// FindCollision returns the closest enrollment of a different identity within
// threshold of query, if any.
func (x *EnrollmentIndex) FindCollision(query facematch.Descriptor, identityID string, threshold float64, k int) (Neighbor, bool) {
	for _, n := range x.Nearest(query, k*HNSWSearchMultiplier) {
		if n.Enrollment.IdentityID == identityID {
			continue
		}
		if n.Distance < threshold {
			return n, true
		}
		break
	}
	return Neighbor{}, false
}
