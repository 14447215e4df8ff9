package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server core.
type Metrics struct {
	// Flow metrics
	CodesIssued        metric.Int64Counter
	CodesExchanged     metric.Int64Counter
	TokensIssued       metric.Int64Counter
	TokensRefreshed    metric.Int64Counter
	TokensRevoked      metric.Int64Counter
	TokensIntrospected metric.Int64Counter

	// Security metrics
	AuthenticationFailed metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	TokenReuseDetected   metric.Int64Counter

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageClientsCount      metric.Int64ObservableGauge
	StorageCodesCount        metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")

	var err error
	m.CodesIssued, err = serverMeter.Int64Counter(
		"oauth.code.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.issued counter: %w", err)
	}

	m.CodesExchanged, err = serverMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of refresh grants completed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokensRevoked, err = serverMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.TokensIntrospected, err = serverMeter.Int64Counter(
		"oauth.token.introspected",
		metric.WithDescription("Number of introspection lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.introspected counter: %w", err)
	}

	m.AuthenticationFailed, err = serverMeter.Int64Counter(
		"oauth.security.authentication_failed",
		metric.WithDescription("Number of failed client authentication attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authentication_failed counter: %w", err)
	}

	m.PKCEValidationFailed, err = serverMeter.Int64Counter(
		"oauth.security.pkce_validation_failed",
		metric.WithDescription("Number of failed PKCE verifications"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce_validation_failed counter: %w", err)
	}

	m.CodeReuseDetected, err = serverMeter.Int64Counter(
		"oauth.security.code_reuse_detected",
		metric.WithDescription("Number of authorization code replay attempts"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code_reuse_detected counter: %w", err)
	}

	m.TokenReuseDetected, err = serverMeter.Int64Counter(
		"oauth.security.token_reuse_detected",
		metric.WithDescription("Number of rotated refresh token replay attempts"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_reuse_detected counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.clients.count",
		metric.WithDescription("Number of registered clients in storage"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.codes.count",
		metric.WithDescription("Number of pending authorization codes in storage"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.tokens.count",
		metric.WithDescription("Number of tokens in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	return m, nil
}

// RecordCodeIssued records an issued authorization code.
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID, pkceMethod string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client.id", clientID),
		attribute.String("pkce.method", pkceMethod),
	))
}

// RecordCodeExchange records a successful authorization code exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	m.CodesExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client.id", clientID),
		attribute.String("pkce.method", pkceMethod),
	))
}

// RecordTokenIssued records an issued token.
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client.id", clientID),
		attribute.String("grant.type", grantType),
	))
}

// RecordTokenRefresh records a completed refresh grant.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client.id", clientID),
	))
}

// RecordTokenRevocation records a token revocation.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokensRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client.id", clientID),
	))
}

// RecordIntrospection records an introspection lookup.
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool) {
	m.TokensIntrospected.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("token.active", active),
	))
}

// RecordAuthenticationFailed records a failed client authentication attempt.
func (m *Metrics) RecordAuthenticationFailed(ctx context.Context, clientID string) {
	m.AuthenticationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client.id", clientID),
	))
}

// RecordPKCEValidationFailed records a failed PKCE verification.
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pkce.method", method),
	))
}

// RecordCodeReuseDetected records an authorization code replay attempt.
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a rotated refresh token replay attempt.
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with its outcome.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}
