// Package nats publishes change events to a NATS JetStream stream.
//
// NATS subject (aka topic) patterns:
//   - Case-sensitive, dot-separated, no spaces
//   - Valid chars: alphanumeric, `-` or `_`
//   - Max length: 255 bytes
//
// Events are published on `prefix.schema_name.table_name.operation`, eg
// `restless.public.person.u`. The stream is created, or its subjects
// updated, on Connect and captures `prefix.>`.
//
// Every message carries a Nats-Msg-Id header built from the transaction id
// and order, so JetStream drops duplicates caused by publish retries.
package nats
