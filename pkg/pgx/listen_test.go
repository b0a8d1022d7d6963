package pgx

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/restless/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listenConn := pgtest.Connect(ctx, t)
	notifyConn := pgtest.Connect(ctx, t)

	listenCtx, stop := context.WithCancel(ctx)
	notifications, errs, err := Listen(listenCtx, listenConn, "restless_test")
	require.NoError(t, err)

	_, err = notifyConn.Exec(ctx, "NOTIFY restless_test, 'hello'")
	require.NoError(t, err)

	select {
	case n := <-notifications:
		require.NotNil(t, n)
		assert.Equal(t, "restless_test", n.Channel)
		assert.Equal(t, "hello", n.Payload)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-ctx.Done():
		t.Fatal("timeout waiting for notification")
	}

	stop()
	assert.ErrorIs(t, <-errs, context.Canceled)
	_, open := <-notifications
	assert.False(t, open)
}
