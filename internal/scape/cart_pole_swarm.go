package scape

import (
	"fmt"
	"math"
	"math/rand"

	"paideia/internal/model"
)

// Cart-pole constants, standard values.
const (
	cartPoleGravity      = 9.8
	cartPoleCartMass     = 1.0
	cartPolePoleMass     = 0.1
	cartPolePoleHalfLen  = 0.5
	cartPoleForceMag     = 10.0
	cartPoleTau          = 0.02
	cartPoleXLimit       = 2.4
	cartPoleThetaLimit   = 12 * math.Pi / 180
	cartPoleEpisodeSteps = 500
)

type cartPoleState struct {
	x, xDot, theta, thetaDot float64
	age                      int
}

// CartPoleSwarm runs N independent cart-pole carts under one clock. The
// population is stable: a cart that fails is marked done in that snapshot and
// reappears respawned in the next one under the same agent number.
type CartPoleSwarm struct {
	numCarts int
	rng      *rand.Rand
	carts    []cartPoleState
	ids      []model.AgentID
	dones    []bool
}

func NewCartPoleSwarm(numCarts int, seed int64) (*CartPoleSwarm, error) {
	if numCarts <= 0 {
		return nil, fmt.Errorf("cart-pole-swarm: need at least one cart, got %d", numCarts)
	}
	s := &CartPoleSwarm{
		numCarts: numCarts,
		rng:      rand.New(rand.NewSource(seed)),
		carts:    make([]cartPoleState, numCarts),
		ids:      make([]model.AgentID, numCarts),
		dones:    make([]bool, numCarts),
	}
	for i := range s.ids {
		s.ids[i] = model.AgentID(fmt.Sprintf("cart-%d", i))
	}
	return s, nil
}

func (s *CartPoleSwarm) Name() string {
	return "cart-pole-swarm"
}

func (s *CartPoleSwarm) Spec() Spec {
	return Spec{
		Name:          s.Name(),
		ObsSize:       4,
		NumActions:    2,
		MaxPopulation: s.numCarts,
	}
}

func (s *CartPoleSwarm) respawn(i int) {
	s.carts[i] = cartPoleState{
		x:        s.rng.Float64()*0.1 - 0.05,
		xDot:     s.rng.Float64()*0.1 - 0.05,
		theta:    s.rng.Float64()*0.1 - 0.05,
		thetaDot: s.rng.Float64()*0.1 - 0.05,
	}
	s.dones[i] = false
}

func (s *CartPoleSwarm) Reset() model.Snapshot {
	for i := range s.carts {
		s.respawn(i)
	}
	return s.snapshot(make([]float64, s.numCarts), make([]bool, s.numCarts))
}

// Step pushes each live cart with the chosen force and integrates one tick.
// Carts flagged done by the previous snapshot respawn before moving.
func (s *CartPoleSwarm) Step(outputs model.ActionOutputs) (model.Snapshot, error) {
	if len(outputs.Actions) != s.numCarts {
		return model.Snapshot{}, fmt.Errorf("cart-pole-swarm: %d actions for %d carts", len(outputs.Actions), s.numCarts)
	}

	rewards := make([]float64, s.numCarts)
	maxReached := make([]bool, s.numCarts)
	for i := range s.carts {
		if s.dones[i] {
			s.respawn(i)
		}
		if len(outputs.Actions[i]) == 0 {
			return model.Snapshot{}, fmt.Errorf("cart-pole-swarm: empty action for cart %d", i)
		}
		force := -cartPoleForceMag
		if outputs.Actions[i][0] >= 1 {
			force = cartPoleForceMag
		}

		c := &s.carts[i]
		cosTheta := math.Cos(c.theta)
		sinTheta := math.Sin(c.theta)
		totalMass := cartPoleCartMass + cartPolePoleMass
		poleMassLen := cartPolePoleMass * cartPolePoleHalfLen
		temp := (force + poleMassLen*c.thetaDot*c.thetaDot*sinTheta) / totalMass
		thetaAcc := (cartPoleGravity*sinTheta - cosTheta*temp) /
			(cartPolePoleHalfLen * (4.0/3.0 - cartPolePoleMass*cosTheta*cosTheta/totalMass))
		xAcc := temp - poleMassLen*thetaAcc*cosTheta/totalMass

		c.x += cartPoleTau * c.xDot
		c.xDot += cartPoleTau * xAcc
		c.theta += cartPoleTau * c.thetaDot
		c.thetaDot += cartPoleTau * thetaAcc
		c.age++

		failed := math.Abs(c.x) > cartPoleXLimit || math.Abs(c.theta) > cartPoleThetaLimit
		maxReached[i] = c.age >= cartPoleEpisodeSteps
		s.dones[i] = failed || maxReached[i]
		rewards[i] = 1
	}
	return s.snapshot(rewards, maxReached), nil
}

func (s *CartPoleSwarm) snapshot(rewards []float64, maxReached []bool) model.Snapshot {
	vec := make([][]float64, s.numCarts)
	dones := make([]bool, s.numCarts)
	for i, c := range s.carts {
		vec[i] = []float64{c.x, c.xDot, c.theta, c.thetaDot}
		dones[i] = s.dones[i]
	}
	return model.Snapshot{
		AgentIDs:   append([]model.AgentID(nil), s.ids...),
		VectorObs:  vec,
		Rewards:    rewards,
		Dones:      dones,
		MaxReached: maxReached,
	}
}
