package reward

import (
	"fmt"

	"paideia/internal/model"
	"paideia/internal/stats"
)

// Evaluation is one signal's per-agent output for a snapshot pair, aligned
// with the next snapshot's agent ordering.
type Evaluation struct {
	Scaled   []float64
	Unscaled []float64
}

// Aggregator tracks the cumulative per-agent unscaled reward of every
// registered signal for the current incomplete episode, and feeds completed
// environment episodes into the recent-reward history.
type Aggregator struct {
	signals map[string]Signal
	order   []string
	ledgers map[string]map[model.AgentID]float64
	history *History
	sink    stats.Sink
}

// NewAggregator registers the signals in the given order. An environment
// ledger exists whether or not an environment signal is registered.
func NewAggregator(signals []Signal, historyCap int, sink stats.Sink) (*Aggregator, error) {
	if sink == nil {
		sink = stats.Discard{}
	}
	a := &Aggregator{
		signals: make(map[string]Signal, len(signals)),
		ledgers: make(map[string]map[model.AgentID]float64, len(signals)+1),
		history: NewHistory(historyCap),
		sink:    sink,
	}
	a.ledgers[EnvironmentSignal] = make(map[model.AgentID]float64)
	a.order = append(a.order, EnvironmentSignal)
	for _, s := range signals {
		name := s.Name()
		if _, dup := a.signals[name]; dup {
			return nil, fmt.Errorf("duplicate reward signal: %s", name)
		}
		a.signals[name] = s
		if _, ok := a.ledgers[name]; !ok {
			a.ledgers[name] = make(map[model.AgentID]float64)
			a.order = append(a.order, name)
		}
	}
	return a, nil
}

// Signals returns the registered signals in registration order, environment
// first.
func (a *Aggregator) Signals() []Signal {
	out := make([]Signal, 0, len(a.signals))
	for _, name := range a.order {
		if s, ok := a.signals[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Signal returns the registered signal by name.
func (a *Aggregator) Signal(name string) (Signal, bool) {
	s, ok := a.signals[name]
	return s, ok
}

// History exposes the recent-reward history.
func (a *Aggregator) History() *History {
	return a.history
}

// EvaluateSignals runs every registered signal on the snapshot pair. A
// failing evaluation wraps into an EvaluationError and propagates; it implies
// misconfigured signal or observation shapes and aborts the run.
func (a *Aggregator) EvaluateSignals(curr, next model.Snapshot) (map[string]Evaluation, error) {
	out := make(map[string]Evaluation, len(a.signals))
	for _, name := range a.order {
		s, ok := a.signals[name]
		if !ok {
			continue
		}
		scaled, unscaled, err := s.Evaluate(curr, next)
		if err != nil {
			return nil, &EvaluationError{Signal: name, Err: err}
		}
		if len(scaled) != next.NumAgents() || len(unscaled) != next.NumAgents() {
			return nil, &EvaluationError{
				Signal: name,
				Err:    fmt.Errorf("returned %d/%d values for %d agents", len(scaled), len(unscaled), next.NumAgents()),
			}
		}
		out[name] = Evaluation{Scaled: scaled, Unscaled: unscaled}
	}
	return out, nil
}

// Accumulate adds an unscaled contribution for the agent under the named
// signal's ledger, creating entries lazily.
func (a *Aggregator) Accumulate(id model.AgentID, signal string, unscaled float64) {
	ledger, ok := a.ledgers[signal]
	if !ok {
		ledger = make(map[model.AgentID]float64)
		a.ledgers[signal] = ledger
		a.order = append(a.order, signal)
	}
	ledger[id] += unscaled
}

// Ledger returns a copy of the named signal's per-agent running totals.
func (a *Aggregator) Ledger(signal string) map[model.AgentID]float64 {
	out := make(map[model.AgentID]float64, len(a.ledgers[signal]))
	for id, v := range a.ledgers[signal] {
		out[id] = v
	}
	return out
}

// FlushEpisode closes the agent's episode: the environment ledger value is
// pushed most-recent-first into the history and reported, every other
// signal's value is reported, and all of the agent's entries reset to zero —
// never carried over.
func (a *Aggregator) FlushEpisode(id model.AgentID) {
	for _, name := range a.order {
		ledger := a.ledgers[name]
		value := ledger[id]
		if name == EnvironmentSignal {
			a.history.Push(value)
			a.sink.Report("Environment/Cumulative Reward", value)
		} else {
			a.sink.Report(fmt.Sprintf("Policy/%s Reward", name), value)
		}
		ledger[id] = 0
	}
}

// ResetAll zeroes every ledger entry for every tracked agent. Used on global
// episode reset, independent of per-agent completion.
func (a *Aggregator) ResetAll() {
	for _, ledger := range a.ledgers {
		for id := range ledger {
			ledger[id] = 0
		}
	}
}
