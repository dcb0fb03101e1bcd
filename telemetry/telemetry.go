//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package telemetry provides in-process OpenTelemetry instrumentation for
// the streaming runtime: a tracer for per-attempt spans and a meter for
// retry/violation/drift/fallback counters. It intentionally stops at the
// SDK boundary — wiring an OTLP exporter is a monitoring-sink concern left
// to the operator embedding this module, not to the core.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	noopt "go.opentelemetry.io/otel/trace/noop"
)

const (
	// InstrumentName is the instrumentation scope used for every tracer
	// and meter created by this package.
	InstrumentName = "trpc.group/trpc-go/trpc-streamguard-go"
	// ServiceName is the default OpenTelemetry resource service name.
	ServiceName = "trpc-streamguard-go"
)

// Tracer is the package-level tracer used to start per-attempt spans.
// It defaults to a no-op tracer so the core works without Start being
// called; Start replaces it with a tracer from the SDK provider it
// installs.
var Tracer trace.Tracer = noopt.Tracer{}

// Meter is the package-level meter used to create counters.
var Meter metric.Meter = otel.GetMeterProvider().Meter(InstrumentName)

// Start installs an in-process tracer provider and meter provider scoped
// to svcName (defaults to ServiceName when empty) and returns a shutdown
// function. The new providers replace the global ones and are created
// with no exporter, span processor or metric reader, so spans and metrics
// are not exported anywhere. It deliberately stops short of wiring an
// OTLP-over-gRPC exporter, which is an out-of-scope monitoring concern
// for this module.
func Start(ctx context.Context, svcName string) (shutdown func(context.Context) error, err error) {
	if svcName == "" {
		svcName = ServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", svcName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	Tracer = tp.Tracer(InstrumentName)
	Meter = mp.Meter(InstrumentName)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

// Instruments bundles the counters the session driver and its
// collaborators emit to. The session driver creates one per monitored Run
// via NewInstruments.
type Instruments struct {
	Retries    metric.Int64Counter
	Fallbacks  metric.Int64Counter
	Violations metric.Int64Counter
	DriftHits  metric.Int64Counter
	Sessions   metric.Int64Counter
}

// NewInstruments creates the counters against the package Meter. Errors are
// only possible if the meter rejects the instrument name, which does not
// happen for the fixed names used here; callers may safely ignore a nil
// error in practice but it is still returned for completeness.
func NewInstruments() (*Instruments, error) {
	retries, err := Meter.Int64Counter("streamguard.retries",
		metric.WithDescription("number of retry attempts performed, by category"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := Meter.Int64Counter("streamguard.fallbacks",
		metric.WithDescription("number of fallback stream advances"))
	if err != nil {
		return nil, err
	}
	violations, err := Meter.Int64Counter("streamguard.guardrail_violations",
		metric.WithDescription("number of guardrail violations recorded"))
	if err != nil {
		return nil, err
	}
	drift, err := Meter.Int64Counter("streamguard.drift_detections",
		metric.WithDescription("number of positive drift detections"))
	if err != nil {
		return nil, err
	}
	sessions, err := Meter.Int64Counter("streamguard.sessions",
		metric.WithDescription("number of sessions started, by terminal outcome"))
	if err != nil {
		return nil, err
	}
	return &Instruments{
		Retries:    retries,
		Fallbacks:  fallbacks,
		Violations: violations,
		DriftHits:  drift,
		Sessions:   sessions,
	}, nil
}
