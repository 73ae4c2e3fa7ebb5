package scape

import (
	"fmt"
	"math/rand"

	"paideia/internal/model"
)

const (
	forageMoveCost   = 1.0
	forageFoodEnergy = 40.0
	forageMaxEnergy  = 100.0
	forageFoodReward = 1.0
	forageSpawnDelay = 3
)

type forager struct {
	id     model.AgentID
	pos    int
	energy float64
	done   bool
}

// FlatlandForage is a one-dimensional ring world where agents walk between
// food cells to keep their energy up. An agent that starves is done and
// leaves the world; a replacement with a fresh identity spawns a few ticks
// later, so the population varies between snapshots.
type FlatlandForage struct {
	width      int
	population int
	foodCount  int
	rng        *rand.Rand

	food     map[int]bool
	foragers []forager
	nextID   int
	pending  []int // countdowns until queued replacements spawn
}

func NewFlatlandForage(width, population, foodCount int, seed int64) (*FlatlandForage, error) {
	if width < 4 {
		return nil, fmt.Errorf("flatland-forage: width must be >= 4, got %d", width)
	}
	if population <= 0 || population > width {
		return nil, fmt.Errorf("flatland-forage: population %d does not fit width %d", population, width)
	}
	if foodCount <= 0 || foodCount >= width {
		return nil, fmt.Errorf("flatland-forage: food count %d does not fit width %d", foodCount, width)
	}
	return &FlatlandForage{
		width:      width,
		population: population,
		foodCount:  foodCount,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

func (f *FlatlandForage) Name() string {
	return "flatland-forage"
}

func (f *FlatlandForage) Spec() Spec {
	return Spec{
		Name:          f.Name(),
		ObsSize:       4,
		NumActions:    2,
		MaxPopulation: f.population,
	}
}

func (f *FlatlandForage) Reset() model.Snapshot {
	f.food = make(map[int]bool, f.foodCount)
	for len(f.food) < f.foodCount {
		f.food[f.rng.Intn(f.width)] = true
	}
	f.foragers = f.foragers[:0]
	f.pending = f.pending[:0]
	for i := 0; i < f.population; i++ {
		f.spawn()
	}
	n := len(f.foragers)
	return f.snapshot(make([]float64, n), make([]bool, n), make([]bool, n))
}

func (f *FlatlandForage) spawn() {
	f.foragers = append(f.foragers, forager{
		id:     model.AgentID(fmt.Sprintf("forager-%d", f.nextID)),
		pos:    f.rng.Intn(f.width),
		energy: forageMaxEnergy,
	})
	f.nextID++
}

func (f *FlatlandForage) dropFood() {
	for {
		cell := f.rng.Intn(f.width)
		if !f.food[cell] {
			f.food[cell] = true
			return
		}
	}
}

// Step moves every live forager, feeds the ones that reach food, and starves
// the ones that run out of energy. A starved forager appears in the returned
// snapshot with done set, leaves the world at the start of the next step,
// and is replaced a few ticks later under a new identity.
func (f *FlatlandForage) Step(outputs model.ActionOutputs) (model.Snapshot, error) {
	if len(outputs.Actions) != len(f.foragers) {
		return model.Snapshot{}, fmt.Errorf("flatland-forage: %d actions for %d foragers", len(outputs.Actions), len(f.foragers))
	}

	// Foragers that starved last step had their terminal snapshot; they
	// leave now and queue a replacement.
	kept := make([]forager, 0, len(f.foragers))
	actions := make([][]float64, 0, len(f.foragers))
	for i, fg := range f.foragers {
		if fg.done {
			f.pending = append(f.pending, forageSpawnDelay)
			continue
		}
		kept = append(kept, fg)
		actions = append(actions, outputs.Actions[i])
	}
	f.foragers = kept

	rewards := make([]float64, 0, len(f.foragers)+1)
	for i := range f.foragers {
		if len(actions[i]) == 0 {
			return model.Snapshot{}, fmt.Errorf("flatland-forage: empty action for forager %d", i)
		}
		fg := &f.foragers[i]
		step := -1
		if actions[i][0] >= 1 {
			step = 1
		}
		fg.pos = ((fg.pos+step)%f.width + f.width) % f.width
		fg.energy -= forageMoveCost

		var reward float64
		if f.food[fg.pos] {
			delete(f.food, fg.pos)
			f.dropFood()
			reward = forageFoodReward
			fg.energy += forageFoodEnergy
			if fg.energy > forageMaxEnergy {
				fg.energy = forageMaxEnergy
			}
		}
		fg.done = fg.energy <= 0
		rewards = append(rewards, reward)
	}

	// Queued replacements whose delay expired join this snapshot.
	remaining := f.pending[:0]
	for _, ticks := range f.pending {
		if ticks <= 1 {
			f.spawn()
			rewards = append(rewards, 0)
		} else {
			remaining = append(remaining, ticks-1)
		}
	}
	f.pending = remaining

	dones := make([]bool, len(f.foragers))
	for i, fg := range f.foragers {
		dones[i] = fg.done
	}
	return f.snapshot(rewards, dones, make([]bool, len(f.foragers))), nil
}

func (f *FlatlandForage) snapshot(rewards []float64, dones, maxReached []bool) model.Snapshot {
	ids := make([]model.AgentID, len(f.foragers))
	vec := make([][]float64, len(f.foragers))
	for i, fg := range f.foragers {
		ids[i] = fg.id
		vec[i] = []float64{
			float64(fg.pos) / float64(f.width),
			fg.energy / forageMaxEnergy,
			f.foodSignal(fg.pos, -1),
			f.foodSignal(fg.pos, 1),
		}
	}
	return model.Snapshot{
		AgentIDs:   ids,
		VectorObs:  vec,
		Rewards:    rewards,
		Dones:      dones,
		MaxReached: maxReached,
	}
}

// foodSignal returns closeness to the nearest food in the given direction,
// 1 at the adjacent cell falling off to 0 at half the ring.
func (f *FlatlandForage) foodSignal(pos, dir int) float64 {
	half := f.width / 2
	for d := 1; d <= half; d++ {
		cell := ((pos+dir*d)%f.width + f.width) % f.width
		if f.food[cell] {
			return 1 - float64(d-1)/float64(half)
		}
	}
	return 0
}
