// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry instruments an authserver.Authorizer with OpenTelemetry
// metrics and traces.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
)

const instrumentationName = "github.com/stacklok/toolhive-authbroker/pkg/authserver"

// Metric names. The Prometheus exporter appends _total and _seconds.
const (
	MetricOperations        = "thv_authbroker_operations"
	MetricOperationErrors   = "thv_authbroker_operation_errors"
	MetricOperationDuration = "thv_authbroker_operation_duration"
)

// Operation names used as the operation attribute and span name suffix.
const (
	OpRegisterClient           = "register_client"
	OpAuthorize                = "authorize"
	OpCompleteUpstreamExchange = "complete_upstream_exchange"
	OpToken                    = "token"
	OpValidateAccessToken      = "validate_access_token"
	OpRevokeToken              = "revoke_token"
	OpStats                    = "stats"
)

var (
	attrOperation = attribute.Key("authbroker.operation")
	attrGrantType = attribute.Key("oauth.grant_type")
	attrClientID  = attribute.Key("oauth.client_id")
	attrResult    = attribute.Key("authbroker.result")
	attrErrorType = attribute.Key("error.type")
)

// OperationDurationBuckets are the histogram bounds in seconds. Token
// operations include a bcrypt comparison, upstream exchanges a network round
// trip.
var OperationDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Monitor decorates authorizer so each operation records a span, an
// operation count, a duration and, on failure, an error count by kind.
func Monitor(
	authorizer authserver.Authorizer,
	meterProvider metric.MeterProvider,
	tracerProvider trace.TracerProvider,
) (authserver.Authorizer, error) {
	meter := meterProvider.Meter(instrumentationName)

	operations, err := meter.Int64Counter(
		MetricOperations,
		metric.WithDescription("Total number of authorization operations"))
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}
	operationErrors, err := meter.Int64Counter(
		MetricOperationErrors,
		metric.WithDescription("Total number of failed authorization operations by error kind"))
	if err != nil {
		return nil, fmt.Errorf("failed to create operation errors counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		MetricOperationDuration,
		metric.WithDescription("Duration of authorization operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(OperationDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	return monitoredAuthorizer{
		authorizer: authorizer,
		tracer:     tracerProvider.Tracer(instrumentationName),
		operations: operations,
		errors:     operationErrors,
		duration:   duration,
	}, nil
}

type monitoredAuthorizer struct {
	authorizer authserver.Authorizer
	tracer     trace.Tracer

	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
}

var _ authserver.Authorizer = monitoredAuthorizer{}

// record starts a span for op and returns a function that must be deferred
// to record the outcome. err may be nil for operations that cannot fail.
func (m monitoredAuthorizer) record(
	ctx context.Context,
	op string,
	extraAttrs []attribute.KeyValue,
	err *error,
) (context.Context, func(...attribute.KeyValue)) {
	attrs := append([]attribute.KeyValue{attrOperation.String(op)}, extraAttrs...)

	ctx, span := m.tracer.Start(ctx, "authbroker "+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	start := time.Now()

	return ctx, func(resultAttrs ...attribute.KeyValue) {
		metricAttrs := metric.WithAttributes(append([]attribute.KeyValue{attrOperation.String(op)}, resultAttrs...)...)
		m.operations.Add(ctx, 1, metricAttrs)
		m.duration.Record(ctx, time.Since(start).Seconds(), metricAttrs)

		span.SetAttributes(resultAttrs...)
		if err != nil && *err != nil {
			kind := ErrorKind(*err)
			m.errors.Add(ctx, 1, metric.WithAttributes(attrOperation.String(op), attrErrorType.String(kind)))
			span.RecordError(*err)
			span.SetAttributes(attrErrorType.String(kind))
			span.SetStatus(codes.Error, kind)
		}
		span.End()
	}
}

func (m monitoredAuthorizer) AuthorizationServerMetadata() authserver.AuthorizationServerMetadata {
	return m.authorizer.AuthorizationServerMetadata()
}

func (m monitoredAuthorizer) ProtectedResourceMetadata() authserver.ProtectedResourceMetadata {
	return m.authorizer.ProtectedResourceMetadata()
}

func (m monitoredAuthorizer) RegisterClient(
	ctx context.Context, req authserver.RegisterClientRequest,
) (_ *authserver.RegisterClientResponse, retErr error) {
	ctx, done := m.record(ctx, OpRegisterClient, nil, &retErr)
	defer done()
	return m.authorizer.RegisterClient(ctx, req)
}

func (m monitoredAuthorizer) Authorize(
	ctx context.Context, req authserver.AuthorizeRequest,
) (_ *authserver.AuthorizeResponse, retErr error) {
	ctx, done := m.record(ctx, OpAuthorize, []attribute.KeyValue{attrClientID.String(req.ClientID)}, &retErr)
	defer done()
	return m.authorizer.Authorize(ctx, req)
}

func (m monitoredAuthorizer) CompleteUpstreamExchange(
	ctx context.Context, req authserver.CallbackRequest,
) (_ *authserver.CallbackResponse, retErr error) {
	ctx, done := m.record(ctx, OpCompleteUpstreamExchange, nil, &retErr)
	defer done()
	return m.authorizer.CompleteUpstreamExchange(ctx, req)
}

func (m monitoredAuthorizer) Token(
	ctx context.Context, req authserver.TokenRequest,
) (_ *authserver.TokenResponse, retErr error) {
	ctx, done := m.record(ctx, OpToken, []attribute.KeyValue{attrClientID.String(req.ClientID)}, &retErr)
	defer done(attrGrantType.String(grantTypeLabel(req.GrantType)))
	return m.authorizer.Token(ctx, req)
}

func (m monitoredAuthorizer) ValidateAccessToken(ctx context.Context, token string) authserver.ValidationResult {
	ctx, done := m.record(ctx, OpValidateAccessToken, nil, nil)
	result := m.authorizer.ValidateAccessToken(ctx, token)
	done(attrResult.String(validLabel(result.Valid)))
	return result
}

func (m monitoredAuthorizer) RevokeToken(ctx context.Context, token string) bool {
	ctx, done := m.record(ctx, OpRevokeToken, nil, nil)
	revoked := m.authorizer.RevokeToken(ctx, token)
	result := "not_found"
	if revoked {
		result = "revoked"
	}
	done(attrResult.String(result))
	return revoked
}

func (m monitoredAuthorizer) Stats(ctx context.Context) (_ storage.Stats, retErr error) {
	ctx, done := m.record(ctx, OpStats, nil, &retErr)
	defer done()
	return m.authorizer.Stats(ctx)
}

// grantTypeLabel bounds the cardinality of the grant type attribute.
func grantTypeLabel(grantType string) string {
	switch grantType {
	case authserver.GrantTypeAuthorizationCode, authserver.GrantTypeRefreshToken:
		return grantType
	case "":
		return "none"
	default:
		return "other"
	}
}

func validLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{authserver.ErrInvalidRedirectURI, "invalid_redirect_uri"},
	{authserver.ErrInvalidRequest, "invalid_request"},
	{authserver.ErrUnsupportedResponseType, "unsupported_response_type"},
	{authserver.ErrClientNotFound, "client_not_found"},
	{authserver.ErrInvalidClientSecret, "invalid_client_secret"},
	{authserver.ErrTokenNotFound, "token_not_found"},
	{authserver.ErrClientMismatch, "client_mismatch"},
	{authserver.ErrInvalidCodeVerifier, "invalid_code_verifier"},
	{authserver.ErrUnsupportedGrantType, "unsupported_grant_type"},
	{authserver.ErrSessionNotFound, "session_not_found"},
	{authserver.ErrUpstreamFailure, "upstream_failure"},
	{authserver.ErrSigningFailure, "signing_failure"},
	{authserver.ErrStorageFailure, "storage_failure"},
}

// ErrorKind names the core error kind err wraps, or "internal".
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}
