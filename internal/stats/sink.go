package stats

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Sink is the append-only metric reporting interface injected into the
// trainer components. Components only ever report; none reads prior values
// back through this interface.
type Sink interface {
	Report(name string, value float64)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Report(string, float64) {}

// MemorySink collects reported series in memory for summaries and tests.
type MemorySink struct {
	mu     sync.Mutex
	series map[string][]float64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{series: make(map[string][]float64)}
}

func (s *MemorySink) Report(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series[name] = append(s.series[name], value)
}

// Series returns a copy of the values reported under name, in report order.
func (s *MemorySink) Series(name string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]float64(nil), s.series[name]...)
}

// Names returns the reported series names, sorted.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mean returns the mean of the series and whether any values were reported.
func (s *MemorySink) Mean(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.series[name]
	if len(values) == 0 {
		return 0, false
	}
	return stat.Mean(values, nil), true
}

// Drain returns all series and resets the sink. Used by the run loop when
// writing periodic summaries.
func (s *MemorySink) Drain() map[string][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.series
	s.series = make(map[string][]float64)
	return out
}
