package cdc

import (
	"testing"

	"github.com/edgeflare/restless/internal/testutil"
	"github.com/stretchr/testify/assert"
)

// TestDebeziumConformanceCDC tests the conformance of the CDC struct to the Debezium CDC format.
func TestDebeziumConformanceCDC(t *testing.T) {
	var event Event
	raw := testutil.LoadJSON(t, "cdc.json", &event)

	assert.Equal(t, OpUpdate, event.Payload.Op)
	assert.Equal(t, "person", event.Payload.Source.Table)
	assert.Equal(t, int64(1), event.Payload.Transaction.TotalOrder)
	assert.Equal(t, map[string]any{"id": float64(2), "name": "Mary", "age": float64(20)}, event.Row())
	assert.Equal(t, []byte("2"), event.Key("id"))
	assert.Nil(t, event.Key("uuid"))
	assert.Contains(t, raw, "payload")
}

func TestEventHelpers(t *testing.T) {
	src := NewSourceBuilder("restless", "person").WithSchema("public").WithTable("person").Build()
	deleted := NewEventBuilder().
		WithSource(src).
		WithOperation(OpDelete).
		WithBefore(map[string]any{"id": 7}).
		Build()

	assert.Equal(t, "events.public.person.d", deleted.Topic("events", "."))
	assert.Equal(t, "public/person/d", deleted.Topic("", "/"))
	assert.Equal(t, map[string]any{"id": 7}, deleted.Row())
	assert.Equal(t, []byte("7"), deleted.Key("id"))
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "x", Operation("x").String())
}
