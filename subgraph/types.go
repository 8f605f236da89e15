package subgraph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is the standard GraphQL request body sent to a subgraph.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is the standard GraphQL response body returned by a subgraph.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []*Error        `json:"errors,omitempty"`
}

// Error is a GraphQL error as returned by a subgraph. Path elements are
// field names (string) or list indices (number).
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s (path: %s)", e.Message, strings.Join(parts, "."))
}

// serviceSDLQuery is the federation contract call returning a subgraph's SDL.
const serviceSDLQuery = `{ _service { sdl } }`

// probeQuery is the minimal liveness query used by health probes.
const probeQuery = `{ __typename }`
