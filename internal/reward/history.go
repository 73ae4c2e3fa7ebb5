package reward

import "gonum.org/v1/gonum/stat"

// History is the bounded most-recent-first buffer of completed-episode
// cumulative environment rewards, used for reporting and early-stop checks.
type History struct {
	capacity int
	values   []float64
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

// Push records a completed episode's cumulative reward as the most recent
// entry, evicting the oldest when full.
func (h *History) Push(v float64) {
	h.values = append([]float64{v}, h.values...)
	if len(h.values) > h.capacity {
		h.values = h.values[:h.capacity]
	}
}

func (h *History) Len() int {
	return len(h.values)
}

func (h *History) Cap() int {
	return h.capacity
}

// Values returns a copy, most recent first.
func (h *History) Values() []float64 {
	return append([]float64(nil), h.values...)
}

// Mean returns the mean recent reward and whether any episode completed yet.
func (h *History) Mean() (float64, bool) {
	if len(h.values) == 0 {
		return 0, false
	}
	return stat.Mean(h.values, nil), true
}
