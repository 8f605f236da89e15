package schema

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// SchemaError reports a problem with a single subgraph's contribution at
// registration time. The offending subgraph is rejected; any previously
// composed schema keeps serving.
type SchemaError struct {
	Subgraph string
	Err      error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("subgraph %q: %v", e.Subgraph, e.Err)
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error { return e.Err }

// Conflict identifies one type/field coordinate that cannot be composed,
// along with every subgraph involved.
type Conflict struct {
	Type      string
	Field     string
	Subgraphs []string
	// Reason is a sentinel from the errors package, typically
	// ErrFieldConflict or ErrKeyUnresolvable.
	Reason error
}

// String renders the conflict for logs and error messages.
func (c Conflict) String() string {
	coord := c.Type
	if c.Field != "" {
		coord = FieldCoordinate(c.Type, c.Field)
	}
	return fmt.Sprintf("%s: %v (subgraphs: %s)", coord, c.Reason, strings.Join(c.Subgraphs, ", "))
}

// CompositionError aggregates every conflict found during a composition
// attempt. Composition is all-or-nothing: a single conflict blocks the
// snapshot swap and the last-known-good schema stays live.
type CompositionError struct {
	Conflicts []Conflict
	agg       *multierror.Error
}

func newCompositionError(conflicts []Conflict) *CompositionError {
	var agg *multierror.Error
	for _, c := range conflicts {
		agg = multierror.Append(agg, fmt.Errorf("%w: %s", c.Reason, c.String()))
	}
	return &CompositionError{Conflicts: conflicts, agg: agg}
}

// Error implements the error interface, listing every conflict.
func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed with %d conflict(s): %s", len(e.Conflicts), e.agg.Error())
}

// Unwrap exposes the aggregated conflicts so errors.Is can match the
// individual sentinels (ErrFieldConflict, ErrKeyUnresolvable).
func (e *CompositionError) Unwrap() error { return e.agg }
