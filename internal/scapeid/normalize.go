package scapeid

import "strings"

// Normalize canonicalizes scape names and their common aliases.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := canonicalScapeName(normalized); ok {
		return canonical
	}
	return normalized
}

func canonicalScapeName(alias string) (string, bool) {
	switch alias {
	case "cart-pole-swarm", "cart-pole", "cartpole-swarm":
		return "cart-pole-swarm", true
	case "flatland-forage", "flatland", "forage":
		return "flatland-forage", true
	}

	compact := strings.ReplaceAll(alias, "-", "")
	switch compact {
	case "cartpoleswarm", "cartpole":
		return "cart-pole-swarm", true
	case "flatlandforage", "flatland":
		return "flatland-forage", true
	default:
		return "", false
	}
}
