package features

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigError.
var ErrConfiguration = errors.New("invalid aggregation configuration")

// ConfigError reports an aggregation parameter rejected before any work
// starts.
type ConfigError struct {
	Field string
	Value any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }
