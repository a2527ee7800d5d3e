/*
Package runtime provides the message processing infrastructure for xrayflow.

# Architecture Overview

The runtime package wraps a Watermill router around the configured transport
and applies a fixed middleware chain before any consumer sees a delivery.
Consumers are registered as no-publisher handlers: they persist results and
emit events themselves, and nothing they return is republished.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill)
  - Publisher and subscriber connections
  - Middleware chain
  - HTTP servers for status, metrics and API routes

## Handler Registration (registration.go)

RegisterMessageHandler attaches a consumer to a queue and keeps per-handler
statistics.

## Middleware (middleware.go, dedup.go)

Outermost first:
  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of deliveries
  - Tracer: OpenTelemetry spans
  - Metrics: Prometheus router metrics
  - Unprocessable: Poison queue routing or log-and-ack
  - Redelivery: Delayed nack for transient failures
  - Dedup: Bounded window of already saved deliveries
  - Recoverer: Panic recovery

## Stats & Monitoring (stats.go, delivery_metrics.go, status.go)

Latency percentiles, throughput, error categories and queue lag per handler,
plus delivery outcome counters, served under /status.

## Publishing (publisher.go)

Helpers to enqueue raw telemetry payloads with correlation and enqueue-time
metadata.

# Sub-packages

  - config/: Service configuration with validation
  - errors/: Sentinel errors and pipeline error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - transport/: Transport factory selection
*/
package runtime
