package pgx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Listen runs LISTEN on conn and delivers notifications until ctx is canceled
// or the connection fails. The error channel then receives the cause and both
// channels are closed. conn must not be used for anything else meanwhile.
func Listen(ctx context.Context, conn *pgx.Conn, channel string) (<-chan *pgconn.Notification, <-chan error, error) {
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	notifications := make(chan *pgconn.Notification)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(notifications)

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case notifications <- n:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return notifications, errs, nil
}
