package calibrate

import (
	"errors"
	"testing"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

func sample(id string, v float32) facematch.ReferenceEntry {
	d := make(facematch.Descriptor, facematch.DescriptorDim)
	d[0] = v
	return facematch.ReferenceEntry{IdentityID: id, GroupKey: "7A", Descriptor: d}
}

func approx(a, b float64) bool {
	const eps = 1e-5
	return a-b < eps && b-a < eps
}

func testEntries() []facematch.ReferenceEntry {
	return []facematch.ReferenceEntry{
		sample("S1", 0),
		sample("S1", 0.2),
		sample("S2", 5),
		sample("S2", 5.3),
		{IdentityID: "S3", GroupKey: "7A", Descriptor: make(facematch.Descriptor, 3)},
	}
}

func TestRun(t *testing.T) {
	report, err := Run(testEntries(), 0.6, 4)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Samples != 4 || report.Identities != 2 || report.Malformed != 1 {
		t.Errorf("Run() samples/identities/malformed = %d/%d/%d, want 4/2/1",
			report.Samples, report.Identities, report.Malformed)
	}
	if report.Genuine.Count != 2 || report.Impostor.Count != 4 {
		t.Errorf("pair counts = %d genuine, %d impostor; want 2 and 4", report.Genuine.Count, report.Impostor.Count)
	}
	if !approx(report.Genuine.Min, 0.2) || !approx(report.Genuine.Max, 0.3) {
		t.Errorf("genuine range = [%f, %f]; want [0.2, 0.3]", report.Genuine.Min, report.Genuine.Max)
	}
	if !approx(report.Genuine.Mean, 0.25) {
		t.Errorf("genuine mean = %f; want 0.25", report.Genuine.Mean)
	}
	if !approx(report.Impostor.Min, 4.8) || !approx(report.Impostor.Max, 5.3) {
		t.Errorf("impostor range = [%f, %f]; want [4.8, 5.3]", report.Impostor.Min, report.Impostor.Max)
	}

	if report.Current.FalseAccepts != 0 || report.Current.FalseRejects != 0 {
		t.Errorf("threshold 0.6 should separate the sets, got %+v", report.Current)
	}

	if report.Suggested == nil {
		t.Fatal("expected a suggested threshold")
	}
	if !approx(report.Suggested.Threshold, 2.5) {
		t.Errorf("suggested threshold = %f; want 2.5", report.Suggested.Threshold)
	}
}

func TestRun_Histogram(t *testing.T) {
	report, err := Run(testEntries(), 0.6, 4)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Histogram) != 4 {
		t.Fatalf("histogram has %d bins; want 4", len(report.Histogram))
	}

	genuine, impostors := 0, 0
	for i, b := range report.Histogram {
		genuine += b.Genuine
		impostors += b.Impostors
		if b.Upper <= b.Lower {
			t.Errorf("bin %d has upper %f <= lower %f", i, b.Upper, b.Lower)
		}
	}
	if genuine != 2 || impostors != 4 {
		t.Errorf("histogram totals = %d genuine, %d impostors; want 2 and 4", genuine, impostors)
	}
	if report.Histogram[0].Genuine != 2 {
		t.Errorf("genuine pairs should all land in the first bin, got %d", report.Histogram[0].Genuine)
	}
	if report.Histogram[3].Impostors != 4 {
		t.Errorf("impostor pairs should all land in the last bin, got %d", report.Histogram[3].Impostors)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entries []facematch.ReferenceEntry
	}{
		{"empty", nil},
		{"single sample", []facematch.ReferenceEntry{sample("S1", 0)}},
		{"only one valid", []facematch.ReferenceEntry{sample("S1", 0), {IdentityID: "S2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(tt.entries, 0.6, 10); !errors.Is(err, ErrNoPairs) {
				t.Errorf("Run() error = %v; want ErrNoPairs", err)
			}
		})
	}
}

func TestRun_SingleSamplePerIdentity(t *testing.T) {
	report, err := Run([]facematch.ReferenceEntry{sample("S1", 0), sample("S2", 1), sample("S3", 2)}, 0.6, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Suggested != nil {
		t.Errorf("no genuine pairs means no suggestion, got %+v", report.Suggested)
	}
	if report.Impostor.Count != 3 {
		t.Errorf("impostor count = %d; want 3", report.Impostor.Count)
	}
	if len(report.Histogram) != 1 {
		t.Errorf("bins below 1 should fall back to a single bin, got %d", len(report.Histogram))
	}
}

func TestRates(t *testing.T) {
	genuine := []float64{0.2, 0.3, 0.7}
	impostor := []float64{0.5, 0.9, 1.2}

	tests := []struct {
		threshold   float64
		wantAccepts int
		wantRejects int
		wantFARate  float64
		wantFRRate  float64
	}{
		{0, 0, 3, 0, 1},
		{0.3, 0, 2, 0, 2.0 / 3},
		{0.6, 1, 1, 1.0 / 3, 1.0 / 3},
		{2, 3, 0, 1, 0},
	}

	for _, tt := range tests {
		r := rates(genuine, impostor, tt.threshold)
		if r.FalseAccepts != tt.wantAccepts || r.FalseRejects != tt.wantRejects {
			t.Errorf("rates(%v) = %d accepts, %d rejects; want %d, %d",
				tt.threshold, r.FalseAccepts, r.FalseRejects, tt.wantAccepts, tt.wantRejects)
		}
		if !approx(r.FalseAcceptRate, tt.wantFARate) || !approx(r.FalseRejectRate, tt.wantFRRate) {
			t.Errorf("rates(%v) = FAR %f, FRR %f; want %f, %f",
				tt.threshold, r.FalseAcceptRate, r.FalseRejectRate, tt.wantFARate, tt.wantFRRate)
		}
	}
}
