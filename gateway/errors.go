package gateway

import (
	"context"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/c360/fedgateway/errors"
)

// toGQLError converts an internal error into a client-facing GraphQL
// error with a machine-readable code extension. Fatal errors never leak
// their detail to clients.
func toGQLError(err error) *gqlerror.Error {
	if err == nil {
		return nil
	}
	if gqlErr, ok := err.(*gqlerror.Error); ok {
		return gqlErr
	}

	switch {
	case errors.Is(err, errors.ErrInvalidQuery),
		errors.Is(err, errors.ErrUnknownField),
		errors.Is(err, errors.ErrUnknownType):
		return &gqlerror.Error{
			Message:    err.Error(),
			Extensions: map[string]interface{}{"code": "GRAPHQL_VALIDATION_FAILED"},
		}

	case errors.Is(err, errors.ErrSchemaNotReady):
		return &gqlerror.Error{
			Message:    "gateway schema not ready",
			Extensions: map[string]interface{}{"code": "SCHEMA_NOT_READY"},
		}

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, errors.ErrDeadlineExceeded):
		return &gqlerror.Error{
			Message:    "request deadline exceeded",
			Extensions: map[string]interface{}{"code": "DEADLINE_EXCEEDED"},
		}

	case errors.Is(err, context.Canceled):
		return &gqlerror.Error{
			Message:    "request cancelled",
			Extensions: map[string]interface{}{"code": "CANCELLED"},
		}
	}

	if errors.IsTransient(err) {
		return &gqlerror.Error{
			Message: err.Error(),
			Extensions: map[string]interface{}{
				"code":      "SERVICE_UNAVAILABLE",
				"retryable": true,
			},
		}
	}
	if errors.IsInvalid(err) {
		return &gqlerror.Error{
			Message:    err.Error(),
			Extensions: map[string]interface{}{"code": "BAD_REQUEST"},
		}
	}

	return &gqlerror.Error{
		Message:    "internal server error",
		Extensions: map[string]interface{}{"code": "INTERNAL_ERROR"},
	}
}
