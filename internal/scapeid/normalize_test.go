package scapeid

import "testing"

func TestNormalizeCanonicalizesAliases(t *testing.T) {
	cases := map[string]string{
		"cart-pole-swarm":  "cart-pole-swarm",
		"Cart_Pole_Swarm":  "cart-pole-swarm",
		"cartpole":         "cart-pole-swarm",
		" cart pole ":      "cart-pole-swarm",
		"flatland-forage":  "flatland-forage",
		"flatland":         "flatland-forage",
		"forage":           "flatland-forage",
		"FlatlandForage":   "flatland-forage",
		"unknown-scape":    "unknown-scape",
		"Custom_Gridworld": "custom-gridworld",
		"":                 "",
		"---":              "",
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("normalize %q: got %q want %q", input, got, want)
		}
	}
}
