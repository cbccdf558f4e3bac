package natsbridge

import (
	"github.com/nats-io/nats.go"
)

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is the part of a NATS connection the bridge uses.
type Conn interface {
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	Publish(subject string, data []byte) error
	Flush() error
	IsConnected() bool
	Drain() error
	Close()
}

// Dialer opens a connection. The default dials a NATS server with nats.Connect.
type Dialer func(url string, opts ...nats.Option) (Conn, error)

// DialNATS connects to a NATS server.
func DialNATS(url string, opts ...nats.Option) (Conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &natsConn{nc: nc}, nil
}

type natsConn struct {
	nc *nats.Conn
}

func (c *natsConn) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Flush() error      { return c.nc.Flush() }
func (c *natsConn) IsConnected() bool { return c.nc.IsConnected() }
func (c *natsConn) Drain() error      { return c.nc.Drain() }
func (c *natsConn) Close()            { c.nc.Close() }
