// Package config loads and validates gateway configuration.
//
// Configuration is read from a YAML or JSON file, then overridden by
// FEDGATEWAY_* environment variables. Validation applies defaults so a
// minimal file only needs the subgraph list; every other knob has a
// sensible production value.
package config
