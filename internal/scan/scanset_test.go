package scan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanSet(t *testing.T) {
	s := NewScanSet()

	assert.False(t, s.IsScanned("S1"))

	s.Mark("S1")
	s.Mark("S1")
	assert.True(t, s.IsScanned("S1"))
	assert.Equal(t, 1, s.Len())

	assert.False(t, s.TryMark("S1"))
	assert.True(t, s.TryMark("S2"))
	assert.Equal(t, []string{"S1", "S2"}, s.IDs())

	s.Unmark("S1")
	assert.False(t, s.IsScanned("S1"))
	assert.True(t, s.TryMark("S1"))

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.IDs())
}

func TestScanSet_TryMarkConcurrent(t *testing.T) {
	s := NewScanSet()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryMark("S1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestBestDetection(t *testing.T) {
	valid := func(v float32) Detection {
		d := make([]float32, 128)
		d[0] = v
		return Detection{Descriptor: d}
	}

	tests := []struct {
		name      string
		input     []Detection
		wantOK    bool
		wantFirst float32
	}{
		{name: "none", input: nil, wantOK: false},
		{name: "only malformed", input: []Detection{{Descriptor: make([]float32, 5), Score: 0.9}}, wantOK: false},
		{
			name: "highest score wins",
			input: []Detection{
				withScore(valid(1), 0.5),
				withScore(valid(2), 0.9),
				withScore(valid(3), 0.7),
			},
			wantOK:    true,
			wantFirst: 2,
		},
		{
			name: "tie keeps first",
			input: []Detection{
				withScore(valid(1), 0.8),
				withScore(valid(2), 0.8),
			},
			wantOK:    true,
			wantFirst: 1,
		},
		{
			name: "malformed with higher score skipped",
			input: []Detection{
				{Descriptor: make([]float32, 3), Score: 0.99},
				withScore(valid(4), 0.1),
			},
			wantOK:    true,
			wantFirst: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := BestDetection(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantFirst, d[0])
			}
		})
	}
}

func withScore(d Detection, score float64) Detection {
	d.Score = score
	return d
}

func TestMalformedDetections(t *testing.T) {
	detections := []Detection{
		{Descriptor: make([]float32, 128)},
		{Descriptor: make([]float32, 64)},
		{Descriptor: nil},
	}
	assert.Equal(t, 2, MalformedDetections(detections))
	assert.Equal(t, 0, MalformedDetections(nil))
}
