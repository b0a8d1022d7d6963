// Package mqtt publishes change events to an MQTT broker.
//
// topic: prefix/SCHEMA/TABLE/OPERATION
// payload: the Debezium envelope payload as JSON
//
// OPERATION
// c=create, u=update, d=delete
//
// Example:
//
//	mosquitto_sub -t 'restless/public/person/#'
package mqtt
