// Package router frames application packets for the network and dispatches
// network frames to application sinks by packet ID.
//
// Every frame starts with a four byte header:
//
//	+---------+-----------+-----------------+
//	| version | packet id | payload length  |
//	|  0x01   |    u8     |   u16 (LE)      |
//	+---------+-----------+-----------------+
//
// followed by exactly payload-length bytes. Packet ID 0x00 is reserved.
//
// # Inbound
//
// A transport emits raw frames into NetworkSink. The router validates the
// header, looks the packet ID up in its inbound table and delivers a view of
// the frame with the header stripped to the registered sink. Frames that fail
// validation count as parse errors; frames with no route count as unknown
// packet IDs. Neither reaches any application sink.
//
// # Outbound
//
// Each outbound route connects an application source to a per-route handler
// sink. The handler takes a header buffer from the router's header pool,
// chains the payload behind it without copying and sends the frame through
// NetworkSource. When the header pool is exhausted the payload is dropped and
// counted as a buffer error.
//
// # Usage
//
//	headers := packet.NewPool("headers", 32, router.HeaderSize)
//	r, err := router.New("iot", headers, router.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	err = r.Init(router.RouteTable{
//	    Inbound:  []router.InboundRoute{{ID: 0x01, Sink: sensorSink}},
//	    Outbound: []router.OutboundRoute{{ID: 0x02, Source: commandSource}},
//	})
//
//	transport.Inbound().Connect(r.NetworkSink())
//	r.NetworkSource().Connect(transport.Outbound())
package router
