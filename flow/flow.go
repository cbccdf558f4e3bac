package flow

import (
	"reflect"
	"time"
)

// ID is a route tag or packet ID carried by a payload.
type ID uint8

// AnyID is the wildcard tag. A source tagged AnyID stamps nothing and a sink
// filtering AnyID accepts every payload.
const AnyID ID = 0xFF

// Timeout conventions for emit, deliver and queue processing.
const (
	// NoWait fails immediately instead of waiting for queue space or events.
	NoWait time.Duration = 0
	// Forever waits without bound.
	Forever time.Duration = -1
)

// Ops is the reference discipline for a payload type.
//
// Ref takes one reference on behalf of sink. Returning false rejects the
// payload for that sink and takes no reference. Unref releases one reference.
type Ops[P any] interface {
	Ref(payload P, sink *Sink[P]) bool
	Unref(payload P)
}

// OpsFuncs adapts a pair of functions to Ops. A nil RefFunc accepts every
// payload and a nil UnrefFunc releases nothing.
type OpsFuncs[P any] struct {
	RefFunc   func(payload P, sink *Sink[P]) bool
	UnrefFunc func(payload P)
}

// Ref implements Ops.
func (o OpsFuncs[P]) Ref(payload P, sink *Sink[P]) bool {
	if o.RefFunc == nil {
		return true
	}
	return o.RefFunc(payload, sink)
}

// Unref implements Ops.
func (o OpsFuncs[P]) Unref(payload P) {
	if o.UnrefFunc != nil {
		o.UnrefFunc(payload)
	}
}

// Tagged is implemented by payloads with a route tag slot.
// SetRouteTag reports false when the payload has nowhere to store a tag.
type Tagged interface {
	RouteTag() (ID, bool)
	SetRouteTag(id ID) bool
}

// RefCounter is implemented by payloads whose live reference count can be
// inspected. Queues use it to reject events whose payload was already freed.
type RefCounter interface {
	RefCount() int32
}

// Matches reports whether a filter accepts a tag. AnyID on either side matches.
func Matches(filter, tag ID) bool {
	return filter == AnyID || tag == AnyID || filter == tag
}

func tagOf(payload any) ID {
	t, ok := payload.(Tagged)
	if !ok {
		return AnyID
	}
	id, ok := t.RouteTag()
	if !ok {
		return AnyID
	}
	return id
}

func stampTag(payload any, id ID) {
	if id == AnyID {
		return
	}
	if t, ok := payload.(Tagged); ok {
		t.SetRouteTag(id)
	}
}

func isNil(payload any) bool {
	if payload == nil {
		return true
	}
	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return v.IsNil()
	default:
		return false
	}
}

func freed(payload any) bool {
	rc, ok := payload.(RefCounter)
	return ok && rc.RefCount() <= 0
}

// deadline spreads one timeout across every sink reached by an emit.
type deadline struct {
	forever bool
	at      time.Time
}

func newDeadline(timeout time.Duration) deadline {
	switch {
	case timeout < 0:
		return deadline{forever: true}
	case timeout == 0:
		return deadline{}
	default:
		return deadline{at: time.Now().Add(timeout)}
	}
}

func (d deadline) remaining() time.Duration {
	if d.forever {
		return Forever
	}
	if d.at.IsZero() {
		return NoWait
	}
	left := time.Until(d.at)
	if left <= 0 {
		return NoWait
	}
	return left
}
