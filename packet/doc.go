// Package packet provides reference-counted network buffers, a fixed-size
// buffer pool, and the flow glue for moving them through a delivery graph.
//
// Buffers allocated from a Pool carry Metadata (packet ID, client ID, a
// per-pool counter and a timestamp); the packet ID doubles as the flow route
// tag. Buffers created with New have no metadata and are always untagged.
//
//	pool := packet.NewPool("rx", 32, 256)
//	buf := pool.Alloc(flow.NoWait)
//	if buf == nil {
//	    return // exhausted, caller decides what to do
//	}
//	_ = buf.Append(payload)
//	packet.Send(src, buf, flow.NoWait) // consumes the reference
//
// A freed pool buffer returns to its pool. Chained fragments and views release
// the buffers they reference when they are freed.
package packet
