// Package kafka publishes change events to Kafka topics.
//
// Topics follow the `[prefix].[schema_name].[table_name].[operation]`
// pattern, eg `restless.public.person.c`. Topic names are case-sensitive and
// may contain alphanumerics, `.`, `-` and `_`.
//
// Messages carry the Debezium JSON envelope as value and, when the row has
// the configured key column, its JSON value as key so that the events of a
// row land in one partition. The operation and transaction id are added as
// headers.
//
// SASL/SCRAM (sha256, sha512) and TLS are configured through Config.
package kafka
