package trainer

import "fmt"

// ConfigError reports a missing or invalid hyperparameter, surfaced at
// construction before any training state exists.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("trainer config %s: %s", e.Key, e.Reason)
}
