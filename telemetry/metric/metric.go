//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package metric exposes the meter and instruments recorded by the kernel.
package metric

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "trpc.group/trpc-go/trpc-kernel-go/internal/telemetry"
)

var (
	mu sync.RWMutex
	// meter is the global meter; noop until Start or SetMeterProvider.
	meter metric.Meter = noopm.Meter{}
	// functionDuration records kernel function invocation durations in seconds.
	functionDuration metric.Float64Histogram = noopm.Float64Histogram{}
)

// Meter returns the current meter.
func Meter() metric.Meter {
	mu.RLock()
	defer mu.RUnlock()
	return meter
}

// SetMeterProvider points the package instruments at mp.
func SetMeterProvider(mp metric.MeterProvider) error {
	m := mp.Meter(itelemetry.InstrumentName)
	h, err := m.Float64Histogram(itelemetry.MetricFunctionDuration,
		metric.WithDescription("Measures the duration of a function's execution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create histogram %s: %w", itelemetry.MetricFunctionDuration, err)
	}
	mu.Lock()
	meter, functionDuration = m, h
	mu.Unlock()
	return nil
}

// RecordFunctionDuration records one function invocation.
func RecordFunctionDuration(ctx context.Context, pluginName, functionName string, d time.Duration, err error) {
	attrs := itelemetry.FunctionAttributes(pluginName, functionName)
	if err != nil {
		attrs = append(attrs, attribute.String(itelemetry.KeyErrorType, fmt.Sprintf("%T", err)))
	}
	mu.RLock()
	h := functionDuration
	mu.RUnlock()
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Start installs an OTLP metric exporter over gRPC (default) or HTTP.
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, then OTEL_EXPORTER_OTLP_ENDPOINT, are used when
// WithEndpoint is not given.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	o := &options{
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
		protocol:         itelemetry.ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.endpoint == "" {
		o.endpoint = metricsEndpoint(o.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(o.serviceNamespace),
			semconv.ServiceName(o.serviceName),
			semconv.ServiceVersion(o.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch o.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(o.endpoint),
			otlpmetrichttp.WithInsecure(),
			otlpmetrichttp.WithHeaders(o.headers),
		)
	default:
		conn, connErr := itelemetry.NewGRPCConn(o.endpoint)
		if connErr != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", connErr)
		}
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithGRPCConn(conn),
			otlpmetricgrpc.WithHeaders(o.headers),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	if err := SetMeterProvider(mp); err != nil {
		return nil, err
	}
	return func() error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// Option configures Start.
type Option func(*options)

type options struct {
	endpoint         string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
	protocol         string
	headers          map[string]string
}

// WithEndpoint sets the collector host:port.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(o *options) { o.protocol = protocol }
}

// WithHeaders sets headers sent with every export request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) { o.headers = headers }
}

// WithServiceName overrides the service name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}
