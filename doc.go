// Package xrayflow ingests x-ray telemetry batches from a message broker,
// turns each one into a persisted record and streams every processing step
// to live subscribers. It reads the broker (RabbitMQ by default, or Kafka,
// NATS, AWS SNS/SQS, HTTP and Go channels) from Config, bootstraps a
// Watermill router and registers the default middleware chain for
// correlation IDs, logging, tracing, metrics, unprocessable message
// handling, delayed redelivery, deduplication and panic recovery.
//
// A delivery carries one JSON object keyed by a single device id:
//
//	{"66bb584d4ae73e488c30a072": {"time": 1735683480000, "data": [[762, [51.339764, 12.339223, 1.2038]]]}}
//
// The Consumer decodes it, transforms each tuple into a Sample, saves the
// Record through a Store and emits MessageReceived, Processing and Saved
// (or Error) events on the Broadcaster. Subscribers read them over
// Server-Sent Events; QueryService serves the persisted records with
// pagination.
//
// # Stores
//
//   - memory: in-process, for development and tests
//   - postgres: pgx through database/sql
//   - sqlite: modernc.org/sqlite, cgo-free
//
// SQL schemas are applied with golang-migrate at startup.
//
// # Delivery semantics
//
// A record is written at most once per successful delivery. Payloads that
// can never be processed are routed to POISON_QUEUE or acknowledged and
// dropped; persistence failures are handed back to the broker after
// REDELIVERY_DELAY. Enable DEDUP_POLICY to suppress redelivered duplicates.
package xrayflow
