package debug

import (
	"context"
	"testing"

	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPeerDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	c, err := pipeline.NewConnector(pipeline.ConnectorDebug)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Pub(context.Background(), cdc.Event{}), pipeline.ErrNotConnected)

	require.NoError(t, c.Connect(map[string]any{"level": "warn", "payload": true}))
	src := cdc.NewSourceBuilder("restless", "person").WithSchema("public").WithTable("person").Build()
	ev := cdc.NewEventBuilder().
		WithSource(src).
		WithOperation(cdc.OpCreate).
		WithAfter(map[string]any{"id": 1}).
		WithTransaction(&cdc.Transaction{ID: "tx-1", TotalOrder: 1}).
		Build()
	require.NoError(t, c.Pub(context.Background(), ev))
	require.NoError(t, c.Disconnect())

	entries := logs.FilterMessage("change event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "person", fields["table"])
	assert.Equal(t, "create", fields["op"])
	assert.Equal(t, "tx-1", fields["tx"])
	assert.Equal(t, map[string]any{"id": 1}, fields["after"])

	assert.Error(t, c.Connect(map[string]any{"level": "loud"}))
}
