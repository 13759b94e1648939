package otelhelper

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/log"
)

// SetError marks span as failed. Tokens are masked out of the recorded
// message. A nil err is ignored so callers can defer it.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	msg := log.Mask(err.Error())

	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, msg)
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}
