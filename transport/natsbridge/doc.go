// Package natsbridge carries router frames over NATS.
//
// A Bridge subscribes to one subject and publishes to another. Every message
// received on the inbound subject is copied into a buffer from a packet.Pool
// and emitted from Inbound, which is normally connected to the router's
// network sink. Buffers reaching Outbound, normally fed by the router's
// network source, are flattened and published on the outbound subject.
//
//	b, err := natsbridge.New(cfg.NATS, pool, natsbridge.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	b.Inbound().Connect(r.NetworkSink())
//	r.NetworkSource().Connect(b.Outbound())
//
//	if err := b.Connect(ctx); err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
//
// Connect retries dial failures with the backoff from WithRetry (retry.Quick
// by default). Once connected, reconnects are handled by the NATS client.
//
// Inbound frames carry OriginID as their client ID. A reply built from one
// keeps that ID and is published. Frames with no client ID, or AnyID, are
// published too. Frames addressed to any other client were requested over
// another transport and are skipped.
//
// Messages that do not fit a pool buffer, or arrive while the pool is empty,
// are dropped and counted. Outbound frames are dropped while disconnected.
package natsbridge
