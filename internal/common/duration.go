package common

import "time"

// Duration wraps time.Duration so it can be expressed as a plain string
// ("30s", "1h30m") in YAML, JSON, and TOML configuration files instead of
// a raw integer count of nanoseconds.
type Duration struct {
	time.Duration
}

// NewDuration wraps d as a Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Schema describes a Duration field for documentation/config-schema tooling.
type Schema struct {
	Type        string
	Title       string
	Description string
	Examples    []string
}

// JSONSchema documents Duration's wire representation for schema generators.
func (Duration) JSONSchema() *Schema {
	return &Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units recognized by time.ParseDuration, e.g. \"300ms\", \"1m\", \"2h45m\"",
		Examples:    []string{"1m", "300ms", "2h45m"},
	}
}
