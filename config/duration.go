package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
)

// Duration is a time.Duration that unmarshals from "10s"-style strings
// in both YAML and JSON; bare numbers are taken as seconds.
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

// UnmarshalYAML implements the goccy/go-yaml bytes unmarshaler.
func (d *Duration) UnmarshalYAML(data []byte) error {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalYAML implements the goccy/go-yaml bytes marshaler.
func (d Duration) MarshalYAML() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

func (d *Duration) set(v any) error {
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
		return nil
	case int:
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	case int64:
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	case uint64:
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v (%T)", v, v)
	}
}
