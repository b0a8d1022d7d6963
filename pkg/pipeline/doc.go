// Package pipeline delivers change events to external systems.
//
// A Manager holds a list of peers. Each peer owns a Connector instance, built
// from a factory registered under the connector's name, and an optional
// Filter. Publish queues an event for every matching peer and returns
// immediately; one worker per peer delivers it, retrying failed deliveries
// with exponential backoff.
//
// Connectors live under peer/ and register themselves when imported:
//
//	import _ "github.com/edgeflare/restless/pkg/pipeline/peer/nats"
//
//	m := pipeline.NewManager()
//	err := m.Init(ctx, pipeline.Config{Peers: []pipeline.Peer{
//		{Name: "events", ConnectorName: "nats", Config: map[string]any{"servers": []string{"nats://localhost:4222"}}},
//	}})
//	m.Start(ctx)
//	defer m.Close()
//
// Manager implements rest.Publisher.
package pipeline
