// Package wsbridge carries router frames over WebSocket connections.
//
// Bridge is an http.Handler. Each accepted client is assigned a client ID
// from 1 to MaxClients; binary messages it sends are copied into pool
// buffers stamped with that ID and emitted from Inbound. Text messages are
// dropped. Messages longer than a pool buffer close the client with a
// "message too big" close frame.
//
// Buffers delivered to Outbound are written as binary messages. A buffer
// whose metadata names a client goes to that client only, so a reply built
// from a request keeps its way home through the router. Buffers without a
// client ID, or with AnyID, are broadcast. The reserved ID 0x00 belongs to
// another transport's clients; buffers carrying it are skipped.
//
//	b, err := wsbridge.New(cfg.WebSocket, pool)
//	if err != nil {
//	    return err
//	}
//	b.Inbound().Connect(r.NetworkSink())
//	r.NetworkSource().Connect(b.Outbound())
//	mux.Handle(b.Path(), b)
//	defer b.Close()
package wsbridge
