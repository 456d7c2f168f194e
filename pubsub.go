package xpg

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// PubSub is a LISTEN/NOTIFY handle bound to a Conn's physical session.
// Subscriptions do not survive a reconnect.
type PubSub struct {
	conn *Conn
}

// Listen subscribes the session to channel.
func (p *PubSub) Listen(ctx context.Context, channel string) error {
	return p.control(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
}

// Unlisten drops the subscription to channel, or every subscription when
// channel is "*".
func (p *PubSub) Unlisten(ctx context.Context, channel string) error {
	target := "*"
	if channel != "*" {
		target = pgx.Identifier{channel}.Sanitize()
	}
	return p.control(ctx, "UNLISTEN "+target)
}

// control sends a subscription statement as is. It neither spends a
// one-shot search_path nor carries the session prefix.
func (p *PubSub) control(ctx context.Context, stmt string) error {
	if err := p.conn.Ready(ctx); err != nil {
		return err
	}
	_, err := p.conn.send(ctx, stmt)
	return err
}

// Notify sends payload on channel.
func (p *PubSub) Notify(ctx context.Context, channel, payload string) error {
	_, err := p.conn.Query(ctx, "SELECT pg_notify(%s, %s)", channel, payload)
	return err
}

// Wait blocks until a notification arrives on any subscribed channel.
func (p *PubSub) Wait(ctx context.Context) (*Notification, error) {
	if err := p.conn.Ready(ctx); err != nil {
		return nil, err
	}
	n, err := p.conn.sess.WaitForNotification(ctx)
	if err != nil && IsOperational(err) {
		_ = p.conn.Close()
	}
	return n, err
}
