package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type values for the error.type span attribute.
const (
	// ErrTypeValidation marks errors caused by invalid input or state.
	ErrTypeValidation = "validation"
	// ErrTypeDependencyUnavailable marks errors from unreachable or failing
	// upstream services (model providers, search APIs, origin servers).
	ErrTypeDependencyUnavailable = "dependency_unavailable"
	// ErrTypeBudget marks errors raised by budget enforcement.
	ErrTypeBudget = "budget"
	// ErrTypeInternal marks unexpected internal failures.
	ErrTypeInternal = "internal"
)

// Error source values for the error.source span attribute.
const (
	// ErrSourceClient attributes the error to caller input.
	ErrSourceClient = "client"
	// ErrSourceServer attributes the error to this process.
	ErrSourceServer = "server"
	// ErrSourceDependency attributes the error to an upstream dependency.
	ErrSourceDependency = "dependency"
)

// RecordSpanError marks the span as failed and attaches the error taxonomy
// attributes. An empty errSource is omitted.
func RecordSpanError(span trace.Span, err error, errType, errSource string) {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.type", errType))

	if errSource != "" {
		span.SetAttributes(attribute.String("error.source", errSource))
	}
}
