package transport

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/beamctl/filterbridge/pkg/log"
)

// NATS connection tuning. Reconnection is delegated to the client
// library; the adapter's backoff only covers dial failures and write
// errors.
const (
	natsReconnectWait = 2 * time.Second
	natsDialTimeout   = 5 * time.Second
)

// natsConn implements Conn over a core NATS connection. The control
// channel publishes requests with a private inbox reply subject and
// reads replies from that inbox; the event channel is a plain
// subscription.
type natsConn struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	inbox   string
}

// ControlDialer returns a DialFunc for the request/reply control
// channel on the given subject.
func ControlDialer(url, subject string, logger log.Logger) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		nc, err := connect(ctx, url, "filterbridge-control", logger)
		if err != nil {
			return nil, err
		}

		inbox := nats.NewInbox()
		sub, err := nc.SubscribeSync(inbox)
		if err != nil {
			nc.Close()
			return nil, err
		}

		return &natsConn{nc: nc, sub: sub, subject: subject, inbox: inbox}, nil
	}
}

// EventDialer returns a DialFunc for the subscribe-only event channel
// on the given subject.
func EventDialer(url, subject string, logger log.Logger) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		nc, err := connect(ctx, url, "filterbridge-event", logger)
		if err != nil {
			return nil, err
		}

		sub, err := nc.SubscribeSync(subject)
		if err != nil {
			nc.Close()
			return nil, err
		}

		return &natsConn{nc: nc, sub: sub}, nil
	}
}

func connect(ctx context.Context, url, name string, logger log.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.Timeout(natsDialTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("transport disconnected", log.String("conn", name), log.Err(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("transport reconnected",
				log.String("conn", name),
				log.String("url", nc.ConnectedUrl()),
			)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		nc.Close()
		return nil, err
	}
	return nc, nil
}

// Send publishes data on the control subject, directing the reply to
// the private inbox.
func (c *natsConn) Send(data []byte) error {
	if c.subject == "" {
		return ErrSendUnsupported
	}
	if c.nc.IsClosed() {
		return ErrConnClosed
	}
	return c.nc.PublishRequest(c.subject, c.inbox, data)
}

// Recv blocks until the next inbound message arrives on the
// subscription.
func (c *natsConn) Recv(ctx context.Context) ([]byte, error) {
	msg, err := c.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Closed reports whether the underlying connection is closed. A
// temporarily disconnected connection is not closed; the client
// library reconnects and buffers.
func (c *natsConn) Closed() bool {
	return c.nc.IsClosed()
}

// Close drains the subscription and closes the connection.
func (c *natsConn) Close() error {
	if c.nc.IsClosed() {
		return nil
	}
	err := c.sub.Unsubscribe()
	c.nc.Close()
	return err
}
