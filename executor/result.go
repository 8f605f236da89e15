package executor

import (
	"sync"
)

// GraphQLError is one entry of the response errors array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Result is the merged outcome of a plan execution, in the standard
// {data, errors} response shape.
type Result struct {
	Data   map[string]any `json:"data"`
	Errors []*GraphQLError `json:"errors,omitempty"`
}

// errorSink collects field errors from concurrently running fetches.
type errorSink struct {
	mu   sync.Mutex
	errs []*GraphQLError
}

func (s *errorSink) add(err *GraphQLError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) addFieldError(path []any, subgraphName, message string) {
	s.add(&GraphQLError{
		Message:    message,
		Path:       path,
		Extensions: map[string]any{"subgraph": subgraphName},
	})
}

func (s *errorSink) all() []*GraphQLError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// anyPath converts a field-name path to a response path.
func anyPath(fields []string) []any {
	path := make([]any, len(fields))
	for i, f := range fields {
		path[i] = f
	}
	return path
}
