//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds span names, attribute keys and exporter plumbing shared by the
// telemetry/trace and telemetry/metric packages.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "telemetry"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-kernel"
	InstrumentName   = "trpc.go.kernel"

	SpanNamePrefixInvokeFunction = "invoke_function"
	SpanNamePrefixChat           = "chat"
	SpanNameSuperstep            = "process.superstep"
	SpanNamePrefixOrchestration  = "orchestration"
	SpanNamePrefixVectorSearch   = "vector_search"
	SpanNamePrefixInvokeAgent    = "invoke_agent"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attribute keys.
var (
	KeyPluginName     = "trpc.go.kernel.plugin_name"
	KeyFunctionName   = "trpc.go.kernel.function_name"
	KeyModelID        = "trpc.go.kernel.model_id"
	KeyServiceID      = "trpc.go.kernel.service_id"
	KeyProcessID      = "trpc.go.kernel.process_id"
	KeySuperstep      = "trpc.go.kernel.superstep"
	KeyOrchestration  = "trpc.go.kernel.orchestration"
	KeyCollectionName = "trpc.go.kernel.collection_name"
	KeyAgentName      = "trpc.go.kernel.agent_name"
	KeyThreadID       = "trpc.go.kernel.thread_id"
	KeyErrorType      = "error.type"
)

// MetricFunctionDuration is the histogram recording function invocation durations.
const MetricFunctionDuration = "trpc.go.kernel.function.invocation.duration"

// NewInvokeFunctionSpanName returns "invoke_function <name>".
func NewInvokeFunctionSpanName(fullyQualifiedName string) string {
	return spanName(SpanNamePrefixInvokeFunction, fullyQualifiedName)
}

// NewChatSpanName returns "chat <model>".
func NewChatSpanName(modelID string) string {
	return spanName(SpanNamePrefixChat, modelID)
}

// NewOrchestrationSpanName returns "orchestration <name>".
func NewOrchestrationSpanName(name string) string {
	return spanName(SpanNamePrefixOrchestration, name)
}

// NewVectorSearchSpanName returns "vector_search <collection>".
func NewVectorSearchSpanName(collection string) string {
	return spanName(SpanNamePrefixVectorSearch, collection)
}

// NewInvokeAgentSpanName returns "invoke_agent <name>".
func NewInvokeAgentSpanName(name string) string {
	return spanName(SpanNamePrefixInvokeAgent, name)
}

func spanName(prefix, name string) string {
	if name == "" {
		return prefix
	}
	return prefix + " " + name
}

// FunctionAttributes returns the plugin and function attributes.
func FunctionAttributes(pluginName, functionName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyPluginName, pluginName),
		attribute.String(KeyFunctionName, functionName),
	}
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(KeyErrorType, fmt.Sprintf("%T", err)))
	}
	span.End()
}

// NewGRPCConn dials the OpenTelemetry collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		// TLS is expected to be terminated by a local collector.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
