package flow

import (
	"sync"
	"sync/atomic"
)

// testPayload is a refcounted, taggable payload.
type testPayload struct {
	refs   atomic.Int32
	tag    ID
	hasTag bool
	data   string
}

func newPayload(data string) *testPayload {
	p := &testPayload{tag: AnyID, hasTag: true, data: data}
	p.refs.Store(1)
	return p
}

func newUntaggedPayload(data string) *testPayload {
	p := newPayload(data)
	p.hasTag = false
	return p
}

func (p *testPayload) RouteTag() (ID, bool) { return p.tag, p.hasTag }

func (p *testPayload) SetRouteTag(id ID) bool {
	if !p.hasTag {
		return false
	}
	p.tag = id
	return true
}

func (p *testPayload) RefCount() int32 { return p.refs.Load() }

var testOps Ops[*testPayload] = OpsFuncs[*testPayload]{
	RefFunc: func(p *testPayload, _ *Sink[*testPayload]) bool {
		p.refs.Add(1)
		return true
	},
	UnrefFunc: func(p *testPayload) {
		p.refs.Add(-1)
	},
}

// recorder collects handler invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(tag string) Handler[*testPayload] {
	return func(_ *Sink[*testPayload], p *testPayload) {
		r.mu.Lock()
		r.calls = append(r.calls, tag+":"+p.data)
		r.mu.Unlock()
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
