// Package calibrate measures how well a threshold separates enrolled students by
// comparing distances between samples of the same student (genuine pairs) with
// distances between different students (impostor pairs).
package calibrate

import (
	"errors"
	"math"
	"slices"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoPairs is returned when fewer than two valid samples are available.
var ErrNoPairs = errors.New("not enough valid samples to compare")

// Distribution summarizes a set of distances.
type Distribution struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P05    float64 `json:"p05"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
}

// Bin is one histogram bucket covering [Lower, Upper).
type Bin struct {
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
	Genuine   int     `json:"genuine"`
	Impostors int     `json:"impostors"`
}

// Rates are the error rates of one threshold. A match is accepted when the distance
// is below the threshold.
type Rates struct {
	Threshold       float64 `json:"threshold"`
	FalseAcceptRate float64 `json:"false_accept_rate"`
	FalseRejectRate float64 `json:"false_reject_rate"`
	FalseAccepts    int     `json:"false_accepts"`
	FalseRejects    int     `json:"false_rejects"`
}

// Report is the calibration result for a set of enrollments.
type Report struct {
	Samples    int          `json:"samples"`
	Identities int          `json:"identities"`
	Malformed  int          `json:"malformed"`
	Genuine    Distribution `json:"genuine"`
	Impostor   Distribution `json:"impostor"`
	Histogram  []Bin        `json:"histogram"`
	Current    Rates        `json:"current"`
	// Suggested is the threshold with the fewest total errors; zero when there
	// are no genuine pairs to learn from.
	Suggested *Rates `json:"suggested,omitempty"`
}

// Run builds a report for entries evaluated at threshold, with bins histogram buckets.
func Run(entries []facematch.ReferenceEntry, threshold float64, bins int) (*Report, error) {
	valid, malformed := facematch.ValidateEntries(entries)
	if len(valid) < 2 {
		return nil, ErrNoPairs
	}
	if bins < 1 {
		bins = 1
	}

	identities := make(map[string]struct{})
	var genuine, impostor []float64
	for i := range valid {
		identities[valid[i].IdentityID] = struct{}{}
		for j := i + 1; j < len(valid); j++ {
			d := facematch.EuclideanDistance(valid[i].Descriptor, valid[j].Descriptor)
			if valid[i].IdentityID == valid[j].IdentityID {
				genuine = append(genuine, d)
			} else {
				impostor = append(impostor, d)
			}
		}
	}
	slices.Sort(genuine)
	slices.Sort(impostor)

	report := &Report{
		Samples:    len(valid),
		Identities: len(identities),
		Malformed:  len(malformed),
		Genuine:    describe(genuine),
		Impostor:   describe(impostor),
		Histogram:  histogram(genuine, impostor, bins),
		Current:    rates(genuine, impostor, threshold),
	}
	if len(genuine) > 0 && len(impostor) > 0 {
		best := suggest(genuine, impostor)
		report.Suggested = &best
	}
	return report, nil
}

// describe summarizes sorted distances.
func describe(sorted []float64) Distribution {
	if len(sorted) == 0 {
		return Distribution{}
	}
	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Distribution{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P05:    stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P50:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

// histogram buckets both sorted sets over [0, max] with equal-width bins.
func histogram(genuine, impostor []float64, bins int) []Bin {
	upper := 0.0
	if len(genuine) > 0 {
		upper = genuine[len(genuine)-1]
	}
	if len(impostor) > 0 {
		upper = max(upper, impostor[len(impostor)-1])
	}
	// stat.Histogram requires every value strictly below the last divider
	upper = math.Nextafter(upper, math.Inf(1)) + 1e-9

	dividers := floats.Span(make([]float64, bins+1), 0, upper)
	g := stat.Histogram(nil, dividers, genuine, nil)
	im := stat.Histogram(nil, dividers, impostor, nil)

	out := make([]Bin, bins)
	for i := range out {
		out[i] = Bin{
			Lower:     dividers[i],
			Upper:     dividers[i+1],
			Genuine:   int(g[i]),
			Impostors: int(im[i]),
		}
	}
	return out
}

// rates counts errors at threshold. Genuine pairs at or above it are false rejects,
// impostor pairs below it are false accepts.
func rates(genuine, impostor []float64, threshold float64) Rates {
	r := Rates{
		Threshold:    threshold,
		FalseRejects: len(genuine) - countBelow(genuine, threshold),
		FalseAccepts: countBelow(impostor, threshold),
	}
	if len(genuine) > 0 {
		r.FalseRejectRate = float64(r.FalseRejects) / float64(len(genuine))
	}
	if len(impostor) > 0 {
		r.FalseAcceptRate = float64(r.FalseAccepts) / float64(len(impostor))
	}
	return r
}

// countBelow returns how many sorted values are strictly less than v.
func countBelow(sorted []float64, v float64) int {
	i, _ := slices.BinarySearch(sorted, v)
	return i
}

// suggest picks the threshold minimizing false accepts plus false rejects. Each
// candidate accepts one more genuine distance and sits halfway to the next larger
// impostor distance. Ties keep the lower threshold.
func suggest(genuine, impostor []float64) Rates {
	best := rates(genuine, impostor, 0)
	bestErrors := best.FalseAccepts + best.FalseRejects
	for _, g := range genuine {
		t := math.Nextafter(g, math.Inf(1))
		if i := countBelow(impostor, t); i < len(impostor) {
			t = (g + impostor[i]) / 2
		}
		r := rates(genuine, impostor, t)
		if errs := r.FalseAccepts + r.FalseRejects; errs < bestErrors {
			best, bestErrors = r, errs
		}
	}
	return best
}
