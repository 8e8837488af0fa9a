// ABOUTME: Decoded capability arguments with typed decoding via mapstructure.
// ABOUTME: Handlers decode into parameter structs tagged with `mapstructure`.

package capability

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Args holds the decoded JSON object passed to a handler.
type Args struct {
	values map[string]any
}

// NewArgs wraps a value map. Used by tests and by callers that already decoded JSON.
func NewArgs(values map[string]any) Args {
	if values == nil {
		values = map[string]any{}
	}
	return Args{values: values}
}

// Map returns the raw argument map.
func (a Args) Map() map[string]any { return a.values }

// Has reports whether the argument was supplied.
func (a Args) Has(key string) bool {
	_, ok := a.values[key]
	return ok
}

// String returns a string argument or "" when absent or not a string.
func (a Args) String(key string) string {
	s, _ := a.values[key].(string)
	return s
}

// Decode fills out from the arguments. Numeric strings and numbers are
// converted loosely, so "5" and 5 both decode into an int field.
func (a Args) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(a.values); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
