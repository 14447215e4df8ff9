package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys used across the server and storage layers.
const (
	AttrClientID    = "oauth.client_id"
	AttrSubject     = "oauth.subject"
	AttrGrantType   = "oauth.grant_type"
	AttrScope       = "oauth.scope"
	AttrPKCEMethod  = "oauth.pkce.method"
	AttrLineageID   = "oauth.token.lineage_id"
	AttrGeneration  = "oauth.token.generation"
	AttrStorageOp   = "storage.operation"
	AttrStorageType = "storage.type"
)

// RecordError records an error on the span and marks it as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span as successful.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddGrantAttributes annotates a span with token grant context.
func AddGrantAttributes(span trace.Span, clientID, grantType string) {
	span.SetAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrGrantType, grantType),
	)
}

// AddLineageAttributes annotates a span with refresh token lineage context.
func AddLineageAttributes(span trace.Span, lineageID string, generation int) {
	span.SetAttributes(
		attribute.String(AttrLineageID, lineageID),
		attribute.Int(AttrGeneration, generation),
	)
}

// AddStorageAttributes annotates a span with storage operation context.
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	span.SetAttributes(
		attribute.String(AttrStorageOp, operation),
		attribute.String(AttrStorageType, storageType),
	)
}
