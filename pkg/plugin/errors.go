package plugin

import "fmt"

// ConfigError reports a malformed descriptor. It is only ever returned at load time.
type ConfigError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid plugin descriptor %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid plugin descriptor %s: %s: %s", e.Path, e.Field, e.Reason)
}
